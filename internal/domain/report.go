package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// 阶段名。顺序即流水线顺序（也是 report 中 stages 的排序依据）。
const (
	StageFilter    = "filter"
	StageReorder   = "reorder"
	StageDirectors = "directors"
	StagePricing   = "pricing"
	StageImages    = "images"
)

// StageOrder 给出阶段在流水线中的位置；未知阶段排在最后。
func StageOrder(name string) int {
	switch name {
	case StageFilter:
		return 0
	case StageReorder:
		return 1
	case StageDirectors:
		return 2
	case StagePricing:
		return 3
	case StageImages:
		return 4
	default:
		return 99
	}
}

const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// 行级问题分类：只影响该行的派生字段，不会中止整次运行。
const (
	IssueMissingField        = "missing_field"
	IssueUnresolvedReference = "unresolved_reference"
	IssueParseFailure        = "parse_failure"
	IssueFetchFailure        = "fetch_failure"
)

// 阶段级错误码：阶段失败，依赖它的后续阶段不再执行。
const (
	ErrCodeInputMissing      = "input_missing"
	ErrCodeMissingColumn     = "missing_column"
	ErrCodeIOFailed          = "io_failed"
	ErrCodeTargetConflict    = "target_conflict"
	ErrCodeCrossDevice       = "cross_device"
	ErrCodeLocked            = "locked"
	ErrCodeCanceled          = "canceled"
	ErrCodeConfigNotFound    = "config_not_found"
	ErrCodeConfigInvalid     = "config_invalid"
	ErrCodeConfigMissingPath = "config_missing_path"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	RunID  string `json:"run_id"`
	Path   string `json:"path"`
	DryRun bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Stages  []StageResult `json:"stages"`
	Issues  []RowIssue    `json:"issues"`
}

type ReportSummary struct {
	StagesOK      int `json:"stages_ok"`
	StagesSkipped int `json:"stages_skipped"`
	StagesFailed  int `json:"stages_failed"`

	RowsOut int `json:"rows_out"`
	Issues  int `json:"issues"`
}

// StageResult 描述一个阶段的执行结果。
type StageResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`

	Input   string `json:"input"`
	Output  string `json:"output"`
	RowsIn  int    `json:"rows_in"`
	RowsOut int    `json:"rows_out"`
	Written bool   `json:"written"`

	// Reason 说明 skipped 的原因。
	Reason    string `json:"reason,omitempty"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	DurationMS int64 `json:"duration_ms"`
}

// RowIssue 是某一行的缺陷记录。Line 为数据行号（从 1 开始，不含表头）；0 表示不对应输入行。
type RowIssue struct {
	Stage string `json:"stage"`
	Line  int    `json:"line"`
	Kind  string `json:"kind"`
	Key   string `json:"key"`
	Msg   string `json:"msg"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) stages / issues 稳定排序：按流水线顺序，issues 再按行号
// 3) summary 由 stages/issues 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if r.Stages == nil {
		r.Stages = []StageResult{}
	}
	if r.Issues == nil {
		r.Issues = []RowIssue{}
	}

	sort.SliceStable(r.Stages, func(i, j int) bool {
		return StageOrder(r.Stages[i].Name) < StageOrder(r.Stages[j].Name)
	})
	sort.SliceStable(r.Issues, func(i, j int) bool {
		a, b := r.Issues[i], r.Issues[j]
		if oa, ob := StageOrder(a.Stage), StageOrder(b.Stage); oa != ob {
			return oa < ob
		}
		return a.Line < b.Line
	})

	var s ReportSummary
	for _, st := range r.Stages {
		switch st.Status {
		case StatusOK:
			s.StagesOK++
			// 最后一个成功阶段的输出行数即本次产物行数。
			s.RowsOut = st.RowsOut
		case StatusSkipped:
			s.StagesSkipped++
		case StatusFailed:
			s.StagesFailed++
		}
	}
	s.Issues = len(r.Issues)
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
// 当前只是透传 encoding/json 的默认行为。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
