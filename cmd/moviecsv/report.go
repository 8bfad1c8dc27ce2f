package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/John-Robertt/moviecsv/internal/config"
	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/infra/fsx"
)

// configStage 是配置错误时 report 中合成的阶段名。
const configStage = "config"

// maxIssueLines 是 TTY 摘要中最多列出的 issue 条数（完整列表在 report.json）。
const maxIssueLines = 20

func emitReport(stdout, stderr io.Writer, rr domain.RunReport) {
	if isTTY(stdout) {
		fmt.Fprintln(stdout, renderSummary(rr))
		fmt.Fprintln(stdout, summaryLine(rr))
		emitProblems(stderr, rr)
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(stdout)
	_ = enc.Encode(rr)
	fmt.Fprintln(stderr, summaryLine(rr))
}

func summaryLine(rr domain.RunReport) string {
	return fmt.Sprintf("完成：ok=%d skipped=%d failed=%d rows=%s issues=%s",
		rr.Summary.StagesOK, rr.Summary.StagesSkipped, rr.Summary.StagesFailed,
		humanize.Comma(int64(rr.Summary.RowsOut)), humanize.Comma(int64(rr.Summary.Issues)),
	)
}

// renderSummary 把阶段结果渲染成表格（仅 TTY 使用）。
func renderSummary(rr domain.RunReport) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"阶段", "状态", "输入", "输出", "行(入)", "行(出)", "写出", "耗时", "说明"})

	for _, s := range rr.Stages {
		note := s.Reason
		if s.Status == domain.StatusFailed {
			note = s.ErrorCode + ": " + truncate(s.ErrorMsg, 60)
		}
		written := ""
		if s.Written {
			written = "✓"
		}
		tw.AppendRow(table.Row{
			s.Name,
			strings.ToUpper(s.Status),
			s.Input,
			s.Output,
			humanize.Comma(int64(s.RowsIn)),
			humanize.Comma(int64(s.RowsOut)),
			written,
			formatShortDuration(time.Duration(s.DurationMS) * time.Millisecond),
			note,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	return tw.Render()
}

func emitProblems(w io.Writer, rr domain.RunReport) {
	for i, is := range rr.Issues {
		if i == maxIssueLines {
			fmt.Fprintf(w, "... 另有 %s 条 issue，见 report\n", humanize.Comma(int64(len(rr.Issues)-i)))
			break
		}
		fmt.Fprintf(w, "%s line %d %s %s: %s\n", is.Stage, is.Line, is.Kind, is.Key, is.Msg)
	}
}

func reportForConfigError(cwdAbs string, cli config.CLIArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	path := cwdAbs
	if cli.Path != "" {
		if abs, aerr := filepath.Abs(cli.Path); aerr == nil {
			path = abs
		}
	}
	rr := domain.RunReport{
		RunID:      uuid.NewString(),
		Path:       path,
		DryRun:     !(cli.ApplySet && cli.Apply),
		StartedAt:  now,
		FinishedAt: now,
		Stages: []domain.StageResult{{
			Name:      configStage,
			Status:    domain.StatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func writeReportFile(root string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomic(filepath.Join(root, "cache"), "report.json", b)
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func pickProgressWriter(stdout, stderr io.Writer) (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(stderr) {
		return stderr, true
	}
	// 仅重定向 stderr 时 stdout 仍是 TTY：退化输出到 stdout。
	if isTTY(stdout) {
		return stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, eff config.EffectiveConfig) {
	if w == nil {
		return
	}
	if eff.Apply {
		fmt.Fprintf(w, "report: %s\n", filepath.Join(eff.Path, "cache", "report.json"))
	}
	fmt.Fprintf(w, "out: %s\n", eff.Path)
}
