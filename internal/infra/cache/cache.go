package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/infra/fsx"
)

// Store 提供 <path>/cache/ 下的文件缓存读写。
//
// 约束：
// - dry-run：只允许读（ReadOnly=true）
// - apply：允许写（ReadOnly=false）
type Store struct {
	Root     string // <path>（数据目录）
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(root string, readOnly bool) Store {
	return Store{
		Root:     filepath.Clean(strings.TrimSpace(root)),
		ReadOnly: readOnly,
	}
}

// ImageEntry 是一次成功的图片解析结果。
type ImageEntry struct {
	ID        domain.ImdbID     `json:"id"`
	Kind      domain.EntityKind `json:"kind"`
	Provider  string            `json:"provider"`
	URL       string            `json:"url"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// ImagePath 返回图片缓存的绝对路径：<root>/cache/images/<kind>/<id>.json。
func (s Store) ImagePath(kind domain.EntityKind, id domain.ImdbID) (string, error) {
	k, err := cleanSegment("kind", string(kind))
	if err != nil {
		return "", err
	}
	i, err := cleanSegment("id", string(id))
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Root, "cache", "images", k, i+".json"), nil
}

// ReadImage 读取缓存；不存在时 ok=false。损坏的缓存文件视为错误（调用方一般按未命中处理）。
func (s Store) ReadImage(kind domain.EntityKind, id domain.ImdbID) (ImageEntry, bool, error) {
	path, err := s.ImagePath(kind, id)
	if err != nil {
		return ImageEntry{}, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ImageEntry{}, false, nil
		}
		return ImageEntry{}, false, err
	}
	var e ImageEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return ImageEntry{}, false, fmt.Errorf("解析缓存 %s 失败：%w", path, err)
	}
	if e.URL == "" {
		return ImageEntry{}, false, nil
	}
	return e, true, nil
}

// WriteImage 原子写入缓存。只应写入成功结果。
func (s Store) WriteImage(e ImageEntry) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	if strings.TrimSpace(e.URL) == "" {
		return fmt.Errorf("url 不能为空")
	}
	path, err := s.ImagePath(e.Kind, e.ID)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomic(filepath.Dir(path), filepath.Base(path), b)
}

var segmentRE = regexp.MustCompile(`^[a-z0-9_]+$`)

func cleanSegment(what, v string) (string, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "", fmt.Errorf("%s 不能为空", what)
	}
	// 最小约束：避免路径穿越。
	if !segmentRE.MatchString(v) {
		return "", fmt.Errorf("非法 %s：%q", what, v)
	}
	return v, nil
}
