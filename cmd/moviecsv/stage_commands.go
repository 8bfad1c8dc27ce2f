package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/moviecsv/internal/app"
	"github.com/John-Robertt/moviecsv/internal/config"
	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/enrich"
	"github.com/John-Robertt/moviecsv/internal/infra/cache"
	"github.com/John-Robertt/moviecsv/internal/infra/httpx"
	"github.com/John-Robertt/moviecsv/internal/reference"
	"github.com/John-Robertt/moviecsv/internal/table"
)

// 单阶段子命令：从 --in 读、向 --out 写，不做配置发现，也不写 report。
// 适合逐步检查中间产物。
func newStageCommands(stderr io.Writer) []*cobra.Command {
	return []*cobra.Command{
		newFilterCommand(stderr),
		newReorderCommand(stderr),
		newDirectorsCommand(stderr),
		newTierCommand(stderr),
		newImagesCommand(stderr),
	}
}

type ioFlags struct {
	in  string
	out string
}

func (f *ioFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.in, "in", "", "输入 CSV")
	cmd.Flags().StringVar(&f.out, "out", "", "输出 CSV（原子写入，覆盖已有文件）")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
}

func newFilterCommand(stderr io.Writer) *cobra.Command {
	var (
		paths        ioFlags
		column       string
		limit        int
		keepUnranked bool
	)
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "只保留 rank < limit 的行",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := table.ReadFile(paths.in)
			if err != nil {
				return failed(err)
			}
			if err := t.Require(column); err != nil {
				return failed(err)
			}
			in := len(t.Rows)
			rows, issues := app.FilterRank(t.Rows, app.RankFilter{Column: column, Limit: limit, KeepUnranked: keepUnranked})
			t.Rows = rows
			return writeStage(stderr, domain.StageFilter, paths.out, in, t, issues)
		},
	}
	paths.bind(cmd)
	cmd.Flags().StringVar(&column, "column", domain.RawRank, "rank 所在列（规范序列为 \"Rank\"）")
	cmd.Flags().IntVar(&limit, "limit", config.DefaultRankLimit, "保留 rank < limit 的行")
	cmd.Flags().BoolVar(&keepUnranked, "keep-unranked", false, "保留 rank 为空/非数值的行")
	return cmd
}

func newReorderCommand(stderr io.Writer) *cobra.Command {
	var paths ioFlags
	cmd := &cobra.Command{
		Use:   "reorder",
		Short: "按电影归组：原始 (movie, actor) 表 -> 规范序列",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := table.ReadFile(paths.in)
			if err != nil {
				return failed(err)
			}
			out, issues, err := app.ReorderTable(raw)
			if err != nil {
				return failed(err)
			}
			return writeStage(stderr, domain.StageReorder, paths.out, len(raw.Rows), out, issues)
		},
	}
	paths.bind(cmd)
	return cmd
}

func newDirectorsCommand(stderr io.Writer) *cobra.Command {
	var (
		paths ioFlags
		dirs  string
	)
	cmd := &cobra.Command{
		Use:   "directors",
		Short: "在每条 Movie 行之后插入 Director 行",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cur, err := readTyped(paths.in)
			if err != nil {
				return failed(err)
			}
			ref, err := table.ReadFile(dirs)
			if err != nil {
				return failed(err)
			}
			d, issues, err := reference.BuildDirectors(ref)
			if err != nil {
				return failed(err)
			}
			out := table.New(cur.Header)
			out.Rows = app.JoinDirectors(cur.Rows, d)
			return writeStage(stderr, domain.StageDirectors, paths.out, len(cur.Rows), out, issues)
		},
	}
	paths.bind(cmd)
	cmd.Flags().StringVar(&dirs, "directors", config.DefaultDirectorsFile, "导演参考表")
	return cmd
}

func newTierCommand(stderr io.Writer) *cobra.Command {
	var (
		paths      ioFlags
		movies     string
		idColumn   string
		descColumn string
	)
	cmd := &cobra.Command{
		Use:   "tier",
		Short: "回填 Movie Tier / Production Cost / Price",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cur, err := readTyped(paths.in)
			if err != nil {
				return failed(err)
			}
			ref, err := table.ReadFile(movies)
			if err != nil {
				return failed(err)
			}
			tiers, issues, err := reference.BuildTiers(ref, idColumn, descColumn)
			if err != nil {
				return failed(err)
			}
			rows, priceIssues := app.ApplyPricing(cur.Rows, tiers)
			out := table.New(cur.Header)
			out.Rows = rows
			return writeStage(stderr, domain.StagePricing, paths.out, len(cur.Rows), out, append(issues, priceIssues...))
		},
	}
	paths.bind(cmd)
	cmd.Flags().StringVar(&movies, "movies", config.DefaultMoviesFile, "电影档位参考表")
	cmd.Flags().StringVar(&idColumn, "id-column", reference.DefaultTierIDColumn, "档位表的 id 列")
	cmd.Flags().StringVar(&descColumn, "desc-column", reference.DefaultTierDescColumn, "档位表的档位描述列")
	return cmd
}

func newImagesCommand(stderr io.Writer) *cobra.Command {
	var (
		paths     ioFlags
		cacheRoot string
		proxyURL  string
		timeout   time.Duration
		offline   bool
	)
	ic := config.Default("").Images

	cmd := &cobra.Command{
		Use:   "images",
		Short: "为每个有 Imdb id 的行补全 image 列（带缓存与限速）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cur, err := readTyped(paths.in)
			if err != nil {
				return failed(err)
			}
			ic.Timeout = timeout
			reg, err := buildRegistry(ic)
			if err != nil {
				return failed(err)
			}
			client, err := httpx.NewPageClient(proxyURL, ic.Timeout)
			if err != nil {
				return failed(fmt.Errorf("--proxy 无效：%w", err))
			}
			root := cacheRoot
			if root == "" {
				root = filepath.Dir(paths.out)
			}
			store := cache.New(root, offline)

			e := enrich.New(reg, client, &store, enrich.Options{
				Provider:    ic.Provider,
				Concurrency: ic.Concurrency,
				RatePerSec:  ic.RatePerSec,
				Timeout:     ic.Timeout,
				Offline:     offline,
			}, slog.Default())
			out, issues, err := e.EnrichTable(cmd.Context(), cur)
			if err != nil {
				return failed(err)
			}
			st := e.Stats()
			fmt.Fprintf(stderr, "images: cache_hits=%d fetched=%d failed=%d offline_miss=%d\n",
				st.CacheHits, st.Fetched, st.Failed, st.Offline)
			return writeStage(stderr, domain.StageImages, paths.out, len(cur.Rows), out, issues)
		},
	}
	paths.bind(cmd)
	f := cmd.Flags()
	f.StringVar(&ic.Provider, "provider", ic.Provider, "首选 provider：imdb|imdb_mobile")
	f.BoolVar(&ic.MobileFallback, "mobile-fallback", ic.MobileFallback, "桌面站失败时回退到移动站")
	f.StringVar(&ic.BaseURL, "base-url", ic.BaseURL, "覆盖 IMDb 桌面站地址")
	f.IntVar(&ic.Concurrency, "concurrency", ic.Concurrency, "并发数")
	f.Float64Var(&ic.RatePerSec, "rate", ic.RatePerSec, "每秒请求数上限")
	f.DurationVar(&timeout, "timeout", ic.Timeout, "单次请求超时")
	f.StringVar(&proxyURL, "proxy", "", "HTTP 代理（例如 http://127.0.0.1:7890）")
	f.StringVar(&cacheRoot, "cache-root", "", "缓存根目录（缓存位于 <dir>/cache/images）；默认 --out 所在目录")
	f.BoolVar(&offline, "offline", false, "只读缓存，不访问网络")
	return cmd
}

// readTyped 读取规范序列，并确认前四列存在。
func readTyped(path string) (*table.Table, error) {
	t, err := table.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := t.Require(domain.ColType, domain.ColActive, domain.ColName, domain.ColImdbID); err != nil {
		return nil, err
	}
	return t, nil
}

func writeStage(w io.Writer, stage, path string, rowsIn int, out *table.Table, issues []domain.RowIssue) error {
	if out == nil {
		return failed(errors.New(stage + ": 没有输出"))
	}
	if err := out.WriteFile(path); err != nil {
		return failed(err)
	}
	fmt.Fprintf(w, "%s: rows=%s->%s issues=%d -> %s\n", stage,
		humanize.Comma(int64(rowsIn)), humanize.Comma(int64(len(out.Rows))), len(issues), path)
	for _, is := range issues {
		fmt.Fprintf(w, "  line %d %s %s: %s\n", is.Line, is.Kind, is.Key, is.Msg)
	}
	return nil
}
