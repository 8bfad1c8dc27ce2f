// Package enrich 为规范序列中的每一行补充 image 列。
//
// 网络失败不会传播到调用方：单行降级为空串，并记录 fetch_failure。
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/infra/cache"
	"github.com/John-Robertt/moviecsv/internal/infra/logx"
	"github.com/John-Robertt/moviecsv/internal/provider"
	"github.com/John-Robertt/moviecsv/internal/table"
)

const (
	DefaultProvider    = "imdb"
	DefaultConcurrency = 1
	DefaultRatePerSec  = 1.0
	DefaultTimeout     = 10 * time.Second
)

// ErrOffline 表示离线模式（dry-run）下缓存未命中：不发起网络请求。
var ErrOffline = errors.New("离线模式：缓存未命中，未发起请求")

// Options 控制抓取策略；零值字段使用默认值。
type Options struct {
	Provider    string
	Concurrency int
	// RatePerSec 是全局请求速率上限（<=0 使用默认值）；突发固定为 1。
	RatePerSec float64
	Timeout    time.Duration
	// Offline 为 true 时只读缓存，不访问网络。
	Offline bool
	// Progress 在每个需要查找的行完成后调用（可能来自多个 goroutine）。
	Progress func(done, total int)
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Provider) == "" {
		o.Provider = DefaultProvider
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = DefaultRatePerSec
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Stats 是一次运行的抓取计数（只用于日志/摘要）。
type Stats struct {
	CacheHits int
	Fetched   int
	Failed    int
	Offline   int
}

type memoKey struct {
	kind domain.EntityKind
	id   domain.ImdbID
}

type memoVal struct {
	url string
	err error
}

// Enricher 把 (id, kind) 解析为图片 URL。可以被多个 goroutine 并发使用。
//
// - 同一 (kind, id) 在一次运行内只解析一次（singleflight + memo）
// - 成功结果写入磁盘缓存（仅当缓存可写）
// - 所有网络请求共享一个限速器
type Enricher struct {
	reg     provider.Registry
	client  *http.Client
	store   *cache.Store
	limiter *rate.Limiter
	opts    Options
	log     *slog.Logger
	now     func() time.Time

	sf    singleflight.Group
	mu    sync.Mutex
	memo  map[memoKey]memoVal
	stats Stats
}

// New 构造 Enricher。store 为 nil 时不使用磁盘缓存；log 为 nil 时使用 slog.Default()。
func New(reg provider.Registry, client *http.Client, store *cache.Store, opts Options, log *slog.Logger) *Enricher {
	opts = opts.withDefaults()
	return &Enricher{
		reg:     reg,
		client:  client,
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		opts:    opts,
		log:     logx.Or(log),
		now:     time.Now,
		memo:    make(map[memoKey]memoVal),
	}
}

// Stats 返回当前计数的快照。
func (e *Enricher) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// FetchImage 返回图片 URL；任何失败（id 非法、网络、解析、离线未命中）都降级为空串。
func (e *Enricher) FetchImage(ctx context.Context, id string, kind domain.EntityKind) string {
	u, err := e.Lookup(ctx, id, kind)
	if err != nil {
		return ""
	}
	return u
}

// Lookup 与 FetchImage 相同，但返回失败原因。
func (e *Enricher) Lookup(ctx context.Context, rawID string, kind domain.EntityKind) (string, error) {
	id, ok := domain.ParseImdbID(rawID)
	if !ok {
		return "", fmt.Errorf("非法 IMDb id：%q", rawID)
	}
	key := memoKey{kind: kind, id: id}

	if v, ok := e.memoGet(key); ok {
		return v.url, v.err
	}

	ch := e.sf.DoChan(string(kind)+"/"+string(id), func() (any, error) {
		if v, ok := e.memoGet(key); ok {
			return v, nil
		}
		v := e.resolve(ctx, key)
		// ctx 取消导致的失败不记忆：同一 id 在后续调用中仍可重试。
		if ctx.Err() == nil {
			e.memoPut(key, v)
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		v := r.Val.(memoVal)
		return v.url, v.err
	}
}

func (e *Enricher) resolve(ctx context.Context, key memoKey) memoVal {
	if e.store != nil {
		entry, ok, err := e.store.ReadImage(key.kind, key.id)
		if err != nil {
			e.log.Warn("读取图片缓存失败，按未命中处理", "id", key.id, "kind", key.kind, logx.Err(err))
		}
		if ok {
			e.count(func(s *Stats) { s.CacheHits++ })
			e.log.Debug("图片缓存命中", "id", key.id, "kind", key.kind)
			return memoVal{url: entry.URL}
		}
	}
	if e.opts.Offline {
		e.count(func(s *Stats) { s.Offline++ })
		return memoVal{err: ErrOffline}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return memoVal{err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	res, attempts, err := provider.FetchImageTrace(reqCtx, e.reg, e.opts.Provider, key.id, key.kind, e.client)
	if err != nil {
		e.count(func(s *Stats) { s.Failed++ })
		e.log.Warn("图片抓取失败", "id", key.id, "kind", key.kind, "attempts", traceString(attempts), logx.Err(err))
		return memoVal{err: err}
	}
	e.count(func(s *Stats) { s.Fetched++ })
	e.log.Info("图片抓取成功", "id", key.id, "kind", key.kind, "provider", res.Provider)

	if e.store != nil && !e.store.ReadOnly {
		werr := e.store.WriteImage(cache.ImageEntry{
			ID:        key.id,
			Kind:      key.kind,
			Provider:  res.Provider,
			URL:       res.ImageURL,
			FetchedAt: e.now().UTC(),
		})
		if werr != nil {
			e.log.Warn("写入图片缓存失败", "id", key.id, logx.Err(werr))
		}
	}
	return memoVal{url: res.ImageURL}
}

// Enrich 返回带 image 列的新行序列（输入不被修改），并保持行序。
//
// - Imdb id 为空的行：image=""，不记录问题
// - 其它行：image=FetchImage(id, kind)，失败时记录 fetch_failure（离线未命中不记录）
// - 每行的 image 只由一个 goroutine 写一次
func (e *Enricher) Enrich(ctx context.Context, rows []domain.Row) ([]domain.Row, []domain.RowIssue, error) {
	out := domain.CloneRows(rows)

	var (
		mu     sync.Mutex
		issues []domain.RowIssue
	)
	g := new(errgroup.Group)
	g.SetLimit(e.opts.Concurrency)

	total := 0
	for _, row := range out {
		if row.Get(domain.ColImdbID) != "" {
			total++
		}
	}
	var done atomic.Int64
	progress := func() {
		n := int(done.Add(1))
		if e.opts.Progress != nil {
			e.opts.Progress(n, total)
		}
	}

	for i, row := range out {
		id := row.Get(domain.ColImdbID)
		if id == "" {
			row[domain.ColImage] = ""
			continue
		}
		if ctx.Err() != nil {
			row[domain.ColImage] = ""
			progress()
			continue
		}
		kind := domain.KindFor(row.Type(), id)
		i, row := i, row
		g.Go(func() error {
			u, err := e.Lookup(ctx, id, kind)
			row[domain.ColImage] = u
			if err != nil && !errors.Is(err, ErrOffline) && ctx.Err() == nil {
				mu.Lock()
				issues = append(issues, domain.RowIssue{
					Stage: domain.StageImages,
					Line:  i + 1,
					Kind:  domain.IssueFetchFailure,
					Key:   id,
					Msg:   describe(err),
				})
				mu.Unlock()
			}
			progress()
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(issues, func(a, b int) bool { return issues[a].Line < issues[b].Line })
	if err := ctx.Err(); err != nil {
		return out, issues, err
	}
	return out, issues, nil
}

// EnrichTable 是 Enrich 的表级封装：在表头末尾追加 image 列（已存在则复用）。
func (e *Enricher) EnrichTable(ctx context.Context, t *table.Table) (*table.Table, []domain.RowIssue, error) {
	rows, issues, err := e.Enrich(ctx, t.Rows)
	out := table.New(t.Header)
	out.EnsureColumn(domain.ColImage)
	out.Rows = rows
	return out, issues, err
}

func (e *Enricher) memoGet(k memoKey) (memoVal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.memo[k]
	return v, ok
}

func (e *Enricher) memoPut(k memoKey, v memoVal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.memo[k] = v
}

func (e *Enricher) count(f func(*Stats)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f(&e.stats)
}

func describe(err error) string {
	var pe *provider.Error
	if errors.As(err, &pe) {
		return provider.Describe(err)
	}
	return err.Error()
}

func traceString(attempts []provider.Attempt) string {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		if a.Err != nil {
			parts = append(parts, fmt.Sprintf("%s:%s(%v)", a.Provider, a.Stage, a.Err))
			continue
		}
		parts = append(parts, a.Provider+":"+a.Stage)
	}
	return strings.Join(parts, " -> ")
}
