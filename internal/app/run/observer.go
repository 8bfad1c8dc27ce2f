package run

import (
	"time"

	"github.com/John-Robertt/moviecsv/internal/app/planner"
	"github.com/John-Robertt/moviecsv/internal/config"
	"github.com/John-Robertt/moviecsv/internal/domain"
)

// Observer 用于把“运行进度/阶段结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：OnProgress 可能来自多个 goroutine。
type Observer interface {
	// OnStart 在计划生成后立即调用。
	OnStart(eff config.EffectiveConfig, plan planner.Plan)
	// OnStageDone 在每个阶段结束（含 skipped/failed）时调用。
	OnStageDone(res domain.StageResult, dur time.Duration)
	// OnProgress 报告长阶段（目前只有 images）的行级进度。
	OnProgress(stage string, done, total int, elapsed time.Duration)
}
