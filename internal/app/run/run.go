package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/moviecsv/internal/app"
	"github.com/John-Robertt/moviecsv/internal/app/planner"
	"github.com/John-Robertt/moviecsv/internal/config"
	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/enrich"
	"github.com/John-Robertt/moviecsv/internal/infra/cache"
	"github.com/John-Robertt/moviecsv/internal/infra/fsx"
	"github.com/John-Robertt/moviecsv/internal/infra/httpx"
	"github.com/John-Robertt/moviecsv/internal/infra/logx"
	"github.com/John-Robertt/moviecsv/internal/provider"
	"github.com/John-Robertt/moviecsv/internal/reference"
	"github.com/John-Robertt/moviecsv/internal/table"
)

// Execute 执行一次 run（dry-run/apply），并返回对外稳定的 RunReport。
// 行级缺陷只记录为 issue；阶段失败时其后的阶段全部跳过。
func Execute(ctx context.Context, eff config.EffectiveConfig, reg provider.Registry) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, reg, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, reg provider.Registry, obs Observer) domain.RunReport {
	r := &runner{
		ctx: ctx,
		eff: eff,
		reg: reg,
		obs: obs,
		log: logx.Or(nil),
		rr: domain.RunReport{
			RunID:     uuid.NewString(),
			Path:      eff.Path,
			DryRun:    !eff.Apply,
			StartedAt: time.Now().UTC(),
		},
	}
	r.log = r.log.With("run_id", r.rr.RunID)

	st, err := planner.ReadInputState(eff)
	if err != nil {
		r.rr.Stages = append(r.rr.Stages, domain.StageResult{
			Name:      domain.StageReorder,
			Status:    domain.StatusFailed,
			ErrorCode: domain.ErrCodeIOFailed,
			ErrorMsg:  fmt.Sprintf("读取输入状态失败：%v", err),
		})
		return r.finish()
	}
	r.plan = planner.PlanRun(eff, st)
	if obs != nil {
		obs.OnStart(eff, r.plan)
	}

	// apply：持有 <path>/.moviecsv.lock，避免两次运行同时写同一组输出。
	if r.plan.Write && st.Raw {
		lock, err := fsx.TryLock(eff.Path)
		if err != nil {
			code := domain.ErrCodeIOFailed
			if errors.Is(err, fsx.ErrLocked) {
				code = domain.ErrCodeLocked
			}
			r.brokenCode, r.brokenMsg = code, fmt.Sprintf("获取运行锁失败：%v", err)
		} else {
			defer func() {
				if err := lock.Unlock(); err != nil {
					r.log.Warn("释放运行锁失败", logx.Err(err))
				}
			}()
		}
	}

	for _, sp := range r.plan.Stages {
		r.runStage(sp)
	}
	return r.finish()
}

type runner struct {
	ctx  context.Context
	eff  config.EffectiveConfig
	reg  provider.Registry
	obs  Observer
	log  *slog.Logger
	plan planner.Plan
	rr   domain.RunReport

	raw *table.Table // 原始表（filter 之后）
	cur *table.Table // 最近一个阶段的规范序列

	// broken 之后的阶段一律跳过；brokenCode 非空表示下一个要执行的阶段直接失败（例如锁被占用）。
	broken     bool
	brokenCode string
	brokenMsg  string
}

func (r *runner) finish() domain.RunReport {
	r.rr.FinishedAt = time.Now().UTC()
	r.rr.Finalize()
	return r.rr
}

type stageOutput struct {
	rowsIn int
	out    *table.Table
	issues []domain.RowIssue
}

func (r *runner) runStage(sp planner.StagePlan) {
	started := time.Now()
	res := domain.StageResult{
		Name:   sp.Stage,
		Input:  sp.Input,
		Output: sp.Output,
	}

	switch {
	case sp.Action == planner.ActionSkip:
		res.Status = domain.StatusSkipped
		res.Reason = sp.Reason
	case sp.Action == planner.ActionFail:
		res.Status = domain.StatusFailed
		res.ErrorCode = domain.ErrCodeInputMissing
		res.ErrorMsg = sp.Reason
		r.broken = true
	case r.brokenCode != "":
		res.Status = domain.StatusFailed
		res.ErrorCode, res.ErrorMsg = r.brokenCode, r.brokenMsg
		r.brokenCode, r.brokenMsg = "", ""
		r.broken = true
	case r.broken:
		res.Status = domain.StatusSkipped
		res.Reason = "上游阶段失败"
	case r.ctx.Err() != nil:
		res.Status = domain.StatusFailed
		res.ErrorCode = domain.ErrCodeCanceled
		res.ErrorMsg = r.ctx.Err().Error()
		r.broken = true
	default:
		so, err := r.exec(sp)
		if err == nil && sp.Output != "" && r.plan.Write {
			if err = so.out.WriteFile(filepath.Join(r.eff.Path, sp.Output)); err == nil {
				res.Written = true
			}
		}
		res.RowsIn = so.rowsIn
		if so.out != nil {
			res.RowsOut = len(so.out.Rows)
		}
		r.rr.Issues = append(r.rr.Issues, so.issues...)
		if err != nil {
			res.Status = domain.StatusFailed
			res.ErrorCode = errorCode(err)
			res.ErrorMsg = err.Error()
			r.broken = true
		} else {
			res.Status = domain.StatusOK
		}
	}

	dur := time.Since(started)
	res.DurationMS = dur.Milliseconds()
	r.rr.Stages = append(r.rr.Stages, res)

	switch res.Status {
	case domain.StatusFailed:
		r.log.Error("阶段失败", "stage", res.Name, "code", res.ErrorCode, "msg", res.ErrorMsg)
	case domain.StatusSkipped:
		r.log.Info("阶段跳过", "stage", res.Name, "reason", res.Reason)
	default:
		r.log.Info("阶段完成", "stage", res.Name, "rows_in", res.RowsIn, "rows_out", res.RowsOut, "written", res.Written, "dur", dur)
	}
	if r.obs != nil {
		r.obs.OnStageDone(res, dur)
	}
}

func (r *runner) exec(sp planner.StagePlan) (stageOutput, error) {
	switch sp.Stage {
	case domain.StageFilter:
		return r.filter()
	case domain.StageReorder:
		return r.reorder()
	case domain.StageDirectors:
		return r.directors(sp.Input)
	case domain.StagePricing:
		return r.pricing(sp.Input)
	case domain.StageImages:
		return r.images()
	default:
		return stageOutput{}, fmt.Errorf("未知阶段：%q", sp.Stage)
	}
}

func (r *runner) loadRaw() error {
	if r.raw != nil {
		return nil
	}
	t, err := table.ReadFile(filepath.Join(r.eff.Path, r.eff.Files.Raw))
	if err != nil {
		return err
	}
	r.raw = t
	return nil
}

func (r *runner) filter() (stageOutput, error) {
	if err := r.loadRaw(); err != nil {
		return stageOutput{}, err
	}
	if err := r.raw.Require(domain.RawRank); err != nil {
		return stageOutput{}, err
	}
	in := len(r.raw.Rows)
	rows, issues := app.FilterRank(r.raw.Rows, app.RankFilter{
		Column: domain.RawRank,
		Limit:  r.eff.Filter.Limit,
	})
	r.raw.Rows = rows
	return stageOutput{rowsIn: in, out: r.raw, issues: issues}, nil
}

func (r *runner) reorder() (stageOutput, error) {
	if err := r.loadRaw(); err != nil {
		return stageOutput{}, err
	}
	out, issues, err := app.ReorderTable(r.raw)
	if err != nil {
		return stageOutput{rowsIn: len(r.raw.Rows)}, err
	}
	r.cur = out
	return stageOutput{rowsIn: len(r.raw.Rows), out: out, issues: issues}, nil
}

func (r *runner) directors(input string) (stageOutput, error) {
	ref, err := table.ReadFile(filepath.Join(r.eff.Path, input))
	if err != nil {
		return stageOutput{}, err
	}
	dirs, issues, err := reference.BuildDirectors(ref)
	if err != nil {
		return stageOutput{}, err
	}
	r.log.Debug("导演表已加载", "directors", dirs.String())

	in := len(r.cur.Rows)
	out := table.New(r.cur.Header)
	out.Rows = app.JoinDirectors(r.cur.Rows, dirs)
	r.cur = out
	return stageOutput{rowsIn: in, out: out, issues: issues}, nil
}

func (r *runner) pricing(input string) (stageOutput, error) {
	ref, err := table.ReadFile(filepath.Join(r.eff.Path, input))
	if err != nil {
		return stageOutput{}, err
	}
	tiers, issues, err := reference.BuildTiers(ref, r.eff.Tiers.IDColumn, r.eff.Tiers.DescColumn)
	if err != nil {
		return stageOutput{}, err
	}
	r.log.Debug("档位表已加载", "movies", tiers.Len())

	in := len(r.cur.Rows)
	rows, priceIssues := app.ApplyPricing(r.cur.Rows, tiers)
	out := table.New(r.cur.Header)
	out.Rows = rows
	r.cur = out
	return stageOutput{rowsIn: in, out: out, issues: append(issues, priceIssues...)}, nil
}

func (r *runner) images() (stageOutput, error) {
	client, err := httpx.NewPageClient(r.eff.ProxyURL, r.eff.Images.Timeout)
	if err != nil {
		return stageOutput{}, &config.Error{Code: config.ErrCodeInvalid, Path: r.eff.Path, Err: fmt.Errorf("proxy.url 无效：%w", err)}
	}
	// dry-run：只读缓存，不访问网络。
	store := cache.New(r.eff.Path, !r.eff.Apply)

	started := time.Now()
	opts := enrich.Options{
		Provider:    r.eff.Images.Provider,
		Concurrency: r.eff.Images.Concurrency,
		RatePerSec:  r.eff.Images.RatePerSec,
		Timeout:     r.eff.Images.Timeout,
		Offline:     !r.eff.Apply,
	}
	if r.obs != nil {
		opts.Progress = func(done, total int) {
			r.obs.OnProgress(domain.StageImages, done, total, time.Since(started))
		}
	}
	e := enrich.New(r.reg, client, &store, opts, r.log)

	in := len(r.cur.Rows)
	out, issues, err := e.EnrichTable(r.ctx, r.cur)
	st := e.Stats()
	r.log.Info("图片抓取统计", "cache_hits", st.CacheHits, "fetched", st.Fetched, "failed", st.Failed, "offline_miss", st.Offline)
	if err != nil {
		return stageOutput{rowsIn: in, issues: issues}, err
	}
	r.cur = out
	return stageOutput{rowsIn: in, out: out, issues: issues}, nil
}

// errorCode 把阶段错误映射为 report 的 error_code。
func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case table.IsMissingColumn(err):
		return domain.ErrCodeMissingColumn
	case fsx.IsPathTypeConflict(err):
		return domain.ErrCodeTargetConflict
	case fsx.IsCrossDevice(err):
		return domain.ErrCodeCrossDevice
	case errors.Is(err, os.ErrNotExist):
		return domain.ErrCodeInputMissing
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.ErrCodeCanceled
	case config.Code(err) != "":
		return config.Code(err)
	default:
		return domain.ErrCodeIOFailed
	}
}
