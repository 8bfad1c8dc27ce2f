package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/John-Robertt/moviecsv/internal/domain"
)

func TestStore_ReadWriteImageCache(t *testing.T) {
	root := t.TempDir()
	s := New(root, false)

	e := ImageEntry{
		ID:        "tt0111161",
		Kind:      domain.KindTitle,
		Provider:  "imdb",
		URL:       "https://m.media-amazon.com/images/M/a._V1_FMjpg_UX1000_.jpg",
		FetchedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := s.WriteImage(e); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	got, ok, err := s.ReadImage(domain.KindTitle, "tt0111161")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !ok {
		t.Fatalf("期望命中缓存，但 ok=false")
	}
	if got.URL != e.URL || got.Provider != "imdb" || !got.FetchedAt.Equal(e.FetchedAt) {
		t.Fatalf("内容不一致：%+v", got)
	}

	path, err := s.ImagePath(domain.KindTitle, "tt0111161")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if path != filepath.Join(root, "cache", "images", "title", "tt0111161.json") {
		t.Fatalf("缓存路径不符合预期：%s", path)
	}
}

func TestStore_ReadOnlyRejectWrite(t *testing.T) {
	root := t.TempDir()
	s := New(root, true)

	err := s.WriteImage(ImageEntry{ID: "nm0000151", Kind: domain.KindName, URL: "https://x/y.jpg"})
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("期望 ErrReadOnly，实际：%v", err)
	}

	path, _ := s.ImagePath(domain.KindName, "nm0000151")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("期望文件不存在，但 Stat err=%v", err)
	}
}

func TestStore_MissAndInvalidKeys(t *testing.T) {
	s := New(t.TempDir(), false)

	if _, ok, err := s.ReadImage(domain.KindName, "nm1"); err != nil || ok {
		t.Fatalf("期望未命中且无错误：ok=%v err=%v", ok, err)
	}
	if _, err := s.ImagePath(domain.KindName, "../etc"); err == nil {
		t.Fatalf("期望拒绝路径穿越")
	}
	if _, err := s.ImagePath("", "nm1"); err == nil {
		t.Fatalf("期望拒绝空 kind")
	}
	if err := s.WriteImage(ImageEntry{ID: "nm1", Kind: domain.KindName}); err == nil {
		t.Fatalf("期望拒绝写入空 url")
	}
}

func TestStore_CorruptEntry(t *testing.T) {
	s := New(t.TempDir(), false)
	path, _ := s.ImagePath(domain.KindTitle, "tt1")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := s.ReadImage(domain.KindTitle, "tt1"); err == nil || ok {
		t.Fatalf("期望解析错误：ok=%v err=%v", ok, err)
	}
}
