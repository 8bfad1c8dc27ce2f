// Package planner 根据生效配置与输入文件现状生成确定性的阶段计划（不读文件内容，不做任何写入）。
package planner

import (
	"os"
	"path/filepath"

	"github.com/John-Robertt/moviecsv/internal/config"
	"github.com/John-Robertt/moviecsv/internal/domain"
)

// InputState 记录数据目录中各输入文件是否存在。
type InputState struct {
	Raw       bool
	Directors bool
	Movies    bool
}

// ReadInputState 只做 Stat。文件不存在不是错误；Stat 的其它错误（权限等）原样返回。
// 目录项存在但不是普通文件时视为不存在。
func ReadInputState(eff config.EffectiveConfig) (InputState, error) {
	var (
		st  InputState
		err error
	)
	if st.Raw, err = isFile(filepath.Join(eff.Path, eff.Files.Raw)); err != nil {
		return InputState{}, err
	}
	if st.Directors, err = isFile(filepath.Join(eff.Path, eff.Files.Directors)); err != nil {
		return InputState{}, err
	}
	if st.Movies, err = isFile(filepath.Join(eff.Path, eff.Files.Movies)); err != nil {
		return InputState{}, err
	}
	return st, nil
}

func isFile(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return fi.Mode().IsRegular(), nil
}

// 计划动作。
const (
	ActionRun  = "run"
	ActionSkip = "skip"
	// ActionFail 表示阶段注定失败（例如主输入缺失），执行器直接记录失败。
	ActionFail = "fail"
)

// StagePlan 是单个阶段的计划。
type StagePlan struct {
	Stage  string
	Action string
	Reason string // skip/fail 的原因

	// Input 是该阶段额外读取的文件（文件名，相对数据目录）；为空表示只消费上一阶段的内存结果。
	Input string
	// Output 是该阶段写出的文件名；为空表示结果只在内存中传给下一阶段。
	Output string
}

// Plan 是一次运行的阶段计划，顺序即执行顺序。
type Plan struct {
	Stages []StagePlan
	// Write 为 true 时执行器才会落盘（apply 模式）。
	Write bool
}

// Get 返回指定阶段的计划。
func (p Plan) Get(stage string) (StagePlan, bool) {
	for _, s := range p.Stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StagePlan{}, false
}

// Outputs 返回所有会写出的文件名（按阶段顺序）。
func (p Plan) Outputs() []string {
	var out []string
	for _, s := range p.Stages {
		if s.Action == ActionRun && s.Output != "" {
			out = append(out, s.Output)
		}
	}
	return out
}

// PlanRun 生成阶段计划。
//
// 规则：
// - 原始表缺失：filter/reorder 失败，其余阶段跳过
// - 导演表缺失：directors 跳过；reordered 输出由 reorder 写出，否则由 directors 写出
// - 电影表缺失：pricing 跳过，不写 tier 输出
// - images 只在启用时执行，输入为最后一个执行阶段的结果
func PlanRun(eff config.EffectiveConfig, st InputState) Plan {
	p := Plan{Write: eff.Apply}
	f := eff.Files

	if !st.Raw {
		reason := "缺少输入文件 " + f.Raw
		p.Stages = []StagePlan{
			{Stage: domain.StageFilter, Action: ActionFail, Reason: reason, Input: f.Raw},
			{Stage: domain.StageReorder, Action: ActionFail, Reason: reason, Input: f.Raw},
			{Stage: domain.StageDirectors, Action: ActionSkip, Reason: "上游阶段失败"},
			{Stage: domain.StagePricing, Action: ActionSkip, Reason: "上游阶段失败"},
			{Stage: domain.StageImages, Action: ActionSkip, Reason: "上游阶段失败"},
		}
		if !eff.Filter.Enabled {
			p.Stages[0] = StagePlan{Stage: domain.StageFilter, Action: ActionSkip, Reason: "未启用"}
		}
		return p
	}

	filter := StagePlan{Stage: domain.StageFilter, Action: ActionRun, Input: f.Raw}
	if !eff.Filter.Enabled {
		filter = StagePlan{Stage: domain.StageFilter, Action: ActionSkip, Reason: "未启用"}
	}
	reorder := StagePlan{Stage: domain.StageReorder, Action: ActionRun, Input: f.Raw, Output: f.Reordered}

	directors := StagePlan{Stage: domain.StageDirectors, Action: ActionSkip, Reason: "缺少导演表 " + f.Directors}
	if st.Directors {
		directors = StagePlan{Stage: domain.StageDirectors, Action: ActionRun, Input: f.Directors, Output: f.Reordered}
		reorder.Output = ""
	}

	pricing := StagePlan{Stage: domain.StagePricing, Action: ActionSkip, Reason: "缺少电影表 " + f.Movies}
	if st.Movies {
		pricing = StagePlan{Stage: domain.StagePricing, Action: ActionRun, Input: f.Movies, Output: f.Priced}
	}

	images := StagePlan{Stage: domain.StageImages, Action: ActionSkip, Reason: "未启用"}
	if eff.Images.Enabled {
		images = StagePlan{Stage: domain.StageImages, Action: ActionRun, Output: f.Images}
	}

	p.Stages = []StagePlan{filter, reorder, directors, pricing, images}
	return p
}
