package main

import (
	"bytes"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/John-Robertt/moviecsv/internal/app/planner"
	"github.com/John-Robertt/moviecsv/internal/config"
	"github.com/John-Robertt/moviecsv/internal/domain"
)

func TestProgressUI_PrintsPlanStagesAndThrottledProgress(t *testing.T) {
	var buf bytes.Buffer
	ui := newProgressUI(&buf)
	defer ui.Close()

	eff := config.Default("/data")
	eff.Images.Enabled = true
	st := planner.InputState{Raw: true, Directors: true}
	ui.OnStart(eff, planner.PlanRun(eff, st))

	for i := 1; i <= 100; i++ {
		ui.OnProgress(domain.StageImages, i, 100, time.Second)
	}
	ui.OnStageDone(domain.StageResult{Name: domain.StageImages, Status: domain.StatusOK, RowsIn: 1200, RowsOut: 1200}, time.Second)
	ui.OnStageDone(domain.StageResult{Name: domain.StagePricing, Status: domain.StatusSkipped, Reason: "缺少电影表 movies.csv"}, 0)

	out := buf.String()
	for _, want := range []string{
		"moviecsv run (dry-run)",
		"provider: imdb -> imdb_mobile",
		"pricing: skip (缺少电影表 movies.csv)",
		"images: OK rows=1,200->1,200",
		"pricing: SKIP 缺少电影表 movies.csv",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("输出缺少 %q：\n%s", want, out)
		}
	}
	// 每个十分位打印一次：0%..100%。
	if n := strings.Count(out, "进度: images"); n != 11 {
		t.Fatalf("期望 11 行进度，实际 %d：\n%s", n, out)
	}
	if ui.tickerStarted {
		t.Fatalf("阶段结束后 keepalive 应停止")
	}
}

func TestProgressUI_ApplyListsOutputsAndHidesIdleImages(t *testing.T) {
	var buf bytes.Buffer
	ui := newProgressUI(&buf)
	defer ui.Close()

	eff := config.Default("/data")
	eff.Apply = true
	eff.Images.Enabled = true
	// 主输入缺失：images 被跳过，不应展示抓取参数。
	ui.OnStart(eff, planner.PlanRun(eff, planner.InputState{}))
	if out := buf.String(); strings.Contains(out, "provider:") || strings.Contains(out, "写出:") {
		t.Fatalf("images 未执行且无产物时不应打印 provider/写出：\n%s", out)
	}

	buf.Reset()
	ui.OnStart(eff, planner.PlanRun(eff, planner.InputState{Raw: true, Movies: true}))
	want := "写出: " + config.DefaultReorderedFile + ", " + config.DefaultPricedFile + ", " + eff.Files.Images
	if out := buf.String(); !strings.Contains(out, want) || !strings.Contains(out, "provider:") {
		t.Fatalf("输出缺少 %q 或 provider 行：\n%s", want, out)
	}
}

func TestFormatProxy(t *testing.T) {
	cases := map[string]string{
		"":                          "off",
		"http://u:p@127.0.0.1:7890": "on (http://127.0.0.1:7890, auth=on)",
		"socks5://proxy:1080":       "on (socks5://proxy:1080, auth=off)",
		"not a url":                 "on (not a url)",
	}
	for in, want := range cases {
		if got := formatProxy(in); got != want {
			t.Fatalf("formatProxy(%q)：期望 %q，实际 %q", in, want, got)
		}
	}
}

func TestProviderChain(t *testing.T) {
	ic := config.ImagesConfig{Provider: "imdb_mobile", MobileFallback: true}
	if got := providerChain(ic); got != "imdb_mobile -> imdb" {
		t.Fatalf("期望 imdb_mobile -> imdb，实际 %q", got)
	}
	ic = config.ImagesConfig{Provider: "imdb"}
	if got := providerChain(ic); got != "imdb" {
		t.Fatalf("关闭回退时期望只有 imdb，实际 %q", got)
	}
}

func TestTruncate_MultiByteTitles(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"千与千寻的神隐", 5, "千与..."},
		{"千与千寻的神隐", 3, "千与千"},
		{"千与千寻", 4, "千与千寻"},
		{"  Amélie Poulain  ", 7, "Amél..."},
	}
	for _, tc := range cases {
		got := truncate(tc.in, tc.max)
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(%q, %d) 产生非法 UTF-8：%q", tc.in, tc.max, got)
		}
		if got != tc.want {
			t.Fatalf("truncate(%q, %d)：期望 %q，实际 %q", tc.in, tc.max, tc.want, got)
		}
	}
}

func TestTruncateAndDurations(t *testing.T) {
	if got := truncate("abcdefgh", 5); got != "ab..." {
		t.Fatalf("期望 ab...，实际 %q", got)
	}
	if got := formatElapsed(3723 * time.Second); got != "01:02:03" {
		t.Fatalf("期望 01:02:03，实际 %q", got)
	}
	if got := formatShortDuration(-time.Second); got != "0.0s" {
		t.Fatalf("期望 0.0s，实际 %q", got)
	}
}

func TestRenderSummaryAndConfigErrorReport(t *testing.T) {
	rr := reportForConfigError("/cwd", config.CLIArgs{}, &config.Error{Code: config.ErrCodeInvalid, Path: "/cwd/moviecsv.toml"})
	if !rr.DryRun || rr.Summary.StagesFailed != 1 || rr.RunID == "" {
		t.Fatalf("config 错误 report 不符合预期：%+v", rr)
	}
	s := renderSummary(rr)
	if !strings.Contains(s, configStage) || !strings.Contains(s, "FAILED") || !strings.Contains(s, config.ErrCodeInvalid) {
		t.Fatalf("摘要表格不符合预期：\n%s", s)
	}
}
