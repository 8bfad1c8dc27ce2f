package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/infra/cache"
	"github.com/John-Robertt/moviecsv/internal/infra/logx"
	"github.com/John-Robertt/moviecsv/internal/provider"
	"github.com/John-Robertt/moviecsv/internal/provider/imdb"
	"github.com/John-Robertt/moviecsv/internal/table"
)

// fakeIMDb 返回带 og:image 的页面；/title/tt0000500/ 返回 500。
func fakeIMDb(t *testing.T, hits *int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		if strings.Contains(r.URL.Path, "tt0000500") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		id := strings.Trim(strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/title"), "/name"), "/")
		fmt.Fprintf(w, `<html><head><meta property="og:image" content="https://img.test/%s@._V1_UX190_.jpg"></head></html>`, id)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newEnricher(t *testing.T, srv *httptest.Server, store *cache.Store, opts Options) *Enricher {
	t.Helper()
	reg, err := provider.NewRegistry(imdb.Provider{BaseURL: srv.URL})
	require.NoError(t, err)
	if opts.RatePerSec == 0 {
		opts.RatePerSec = 1000
	}
	return New(reg, srv.Client(), store, opts, logx.NewNop())
}

func typed(rows ...[4]string) []domain.Row {
	out := make([]domain.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Row{
			domain.ColType:   r[0],
			domain.ColActive: r[1],
			domain.ColName:   r[2],
			domain.ColImdbID: r[3],
		})
	}
	return out
}

func img(id string) string {
	return "https://img.test/" + id + "@._V1_FMjpg_UX1000_.jpg"
}

func TestEnrich_SetsImageOncePerRowAndDedupes(t *testing.T) {
	var hits int64
	srv := fakeIMDb(t, &hits)
	store := cache.New(t.TempDir(), false)
	e := newEnricher(t, srv, &store, Options{Concurrency: 4})

	in := typed(
		[4]string{"Movie", "TRUE", "Alpha", "tt0000001"},
		[4]string{"Director", "TRUE", "D", "nm0000009"},
		[4]string{"Actor", "TRUE", "A", "nm0000002"},
		[4]string{"", "", "", ""},
		[4]string{"Movie", "TRUE", "Beta", "tt0000003"},
		[4]string{"Actor", "TRUE", "A", "nm0000002"},
		[4]string{"Actor", "TRUE", "NoID", ""},
	)

	out, issues, err := e.Enrich(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, issues)
	require.Len(t, out, len(in))

	want := []string{img("tt0000001"), img("nm0000009"), img("nm0000002"), "", img("tt0000003"), img("nm0000002"), ""}
	for i, w := range want {
		assert.Equal(t, w, out[i][domain.ColImage], "row %d", i)
		assert.Equal(t, in[i][domain.ColName], out[i][domain.ColName], "行序必须保持")
	}
	_, touched := in[0][domain.ColImage]
	assert.False(t, touched, "输入不应被修改")

	assert.EqualValues(t, 4, atomic.LoadInt64(&hits), "重复 id 只抓取一次")
	assert.Equal(t, 4, e.Stats().Fetched)

	entry, ok, err := store.ReadImage(domain.KindName, "nm0000002")
	require.NoError(t, err)
	require.True(t, ok, "成功结果应写入缓存")
	assert.Equal(t, "imdb", entry.Provider)
	assert.Equal(t, img("nm0000002"), entry.URL)
}

func TestEnrich_FailureDegradesToEmpty(t *testing.T) {
	var hits int64
	srv := fakeIMDb(t, &hits)
	store := cache.New(t.TempDir(), false)
	e := newEnricher(t, srv, &store, Options{})

	in := typed(
		[4]string{"Movie", "TRUE", "Broken", "tt0000500"},
		[4]string{"Actor", "TRUE", "Bad", "not-an-id"},
		[4]string{"Movie", "TRUE", "Broken again", "tt0000500"},
	)
	out, issues, err := e.Enrich(context.Background(), in)
	require.NoError(t, err)

	for _, r := range out {
		assert.Equal(t, "", r[domain.ColImage])
	}
	require.Len(t, issues, 3)
	for i, is := range issues {
		assert.Equal(t, i+1, is.Line)
		assert.Equal(t, domain.IssueFetchFailure, is.Kind)
		assert.Equal(t, domain.StageImages, is.Stage)
	}
	assert.EqualValues(t, 1, atomic.LoadInt64(&hits), "失败结果也只请求一次")

	_, ok, _ := store.ReadImage(domain.KindTitle, "tt0000500")
	assert.False(t, ok, "失败结果不写缓存")

	assert.Equal(t, "", e.FetchImage(context.Background(), "tt0000500", domain.KindTitle))
}

func TestEnrich_OfflineReadsCacheOnly(t *testing.T) {
	var hits int64
	srv := fakeIMDb(t, &hits)
	root := t.TempDir()

	rw := cache.New(root, false)
	require.NoError(t, rw.WriteImage(cache.ImageEntry{
		ID: "tt0000001", Kind: domain.KindTitle, Provider: "imdb",
		URL: "https://cached.test/a.jpg", FetchedAt: time.Now(),
	}))

	ro := cache.New(root, true)
	e := newEnricher(t, srv, &ro, Options{Offline: true})

	in := typed(
		[4]string{"Movie", "TRUE", "Alpha", "tt0000001"},
		[4]string{"Actor", "TRUE", "A", "nm0000002"},
	)
	out, issues, err := e.Enrich(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, issues, "离线未命中不是错误")
	assert.Equal(t, "https://cached.test/a.jpg", out[0][domain.ColImage])
	assert.Equal(t, "", out[1][domain.ColImage])
	assert.EqualValues(t, 0, atomic.LoadInt64(&hits), "离线模式不访问网络")

	st := e.Stats()
	assert.Equal(t, 1, st.CacheHits)
	assert.Equal(t, 1, st.Offline)
}

func TestEnrich_ReadOnlyCacheNotWritten(t *testing.T) {
	var hits int64
	srv := fakeIMDb(t, &hits)
	root := t.TempDir()
	ro := cache.New(root, true)
	e := newEnricher(t, srv, &ro, Options{})

	assert.Equal(t, img("tt0000007"), e.FetchImage(context.Background(), "tt0000007", domain.KindTitle))
	_, ok, err := ro.ReadImage(domain.KindTitle, "tt0000007")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnrich_CanceledContext(t *testing.T) {
	var hits int64
	srv := fakeIMDb(t, &hits)
	e := newEnricher(t, srv, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, issues, err := e.Enrich(ctx, typed([4]string{"Movie", "TRUE", "Alpha", "tt0000001"}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, issues)
	assert.Equal(t, "", out[0][domain.ColImage])
}

func TestEnrichTable_AddsImageColumn(t *testing.T) {
	var hits int64
	srv := fakeIMDb(t, &hits)
	e := newEnricher(t, srv, nil, Options{})

	in := typed([4]string{"Movie", "TRUE", "Alpha", "tt0000001"})
	out, _, err := e.EnrichTable(context.Background(), tableOf(in))
	require.NoError(t, err)
	assert.Equal(t, append(append([]string(nil), domain.TypedHeader...), domain.ColImage), out.Header)
	assert.Equal(t, img("tt0000001"), out.Rows[0][domain.ColImage])
}

func tableOf(rows []domain.Row) *table.Table {
	t := table.New(domain.TypedHeader)
	t.Rows = rows
	return t
}

func TestEnrich_ReportsProgressForRowsWithID(t *testing.T) {
	var hits int64
	srv := fakeIMDb(t, &hits)

	var calls, last, total atomic.Int64
	e := newEnricher(t, srv, nil, Options{
		Concurrency: 3,
		Progress: func(done, n int) {
			calls.Add(1)
			total.Store(int64(n))
			for {
				cur := last.Load()
				if int64(done) <= cur || last.CompareAndSwap(cur, int64(done)) {
					break
				}
			}
		},
	})

	in := typed(
		[4]string{"Movie", "TRUE", "Alpha", "tt0000001"},
		[4]string{"Actor", "TRUE", "A", "nm0000002"},
		[4]string{"", "", "", ""},
		[4]string{"Actor", "TRUE", "B", "nm0000003"},
	)
	_, _, err := e.Enrich(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, int64(3), calls.Load(), "分隔行不计入进度")
	assert.Equal(t, int64(3), total.Load())
	assert.Equal(t, int64(3), last.Load())
}
