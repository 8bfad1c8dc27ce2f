package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/John-Robertt/moviecsv/internal/app/planner"
	"github.com/John-Robertt/moviecsv/internal/app/run"
	"github.com/John-Robertt/moviecsv/internal/config"
	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/provider/imdb"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的简洁进度输出。
//
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：图片阶段长时间没有新输出时定期打印一行
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	stage    string
	done     int
	total    int
	lastTick int // 最近打印的进度十分位

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
		lastTick:           -1,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig, plan planner.Plan) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	mode := "dry-run"
	modeHint := " (不写文件/不访问网络)"
	if eff.Apply {
		mode = "apply"
		modeHint = ""
	}

	fmt.Fprintf(p.w, "[%s] moviecsv run (%s)\n", now.Format("15:04:05"), mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  path: %s\n", eff.Path)
	fmt.Fprintf(p.w, "  mode: %s%s\n", mode, modeHint)
	fmt.Fprintf(p.w, "  filter: %s (rank < %d)\n", onOff(eff.Filter.Enabled), eff.Filter.Limit)
	fmt.Fprintf(p.w, "  images: %s\n", onOff(eff.Images.Enabled))
	// 只有图片阶段真正执行时才展示抓取参数。
	if sp, ok := plan.Get(domain.StageImages); ok && sp.Action == planner.ActionRun {
		fmt.Fprintf(p.w, "  provider: %s\n", providerChain(eff.Images))
		fmt.Fprintf(p.w, "  concurrency: %d rate: %.2f/s timeout: %s\n",
			eff.Images.Concurrency, eff.Images.RatePerSec, eff.Images.Timeout)
		fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	}

	fmt.Fprintln(p.w, "计划:")
	for _, sp := range plan.Stages {
		switch sp.Action {
		case planner.ActionRun:
			line := "  " + sp.Stage + ": run"
			if sp.Input != "" {
				line += " <- " + sp.Input
			}
			if sp.Output != "" && plan.Write {
				line += " -> " + sp.Output
			}
			fmt.Fprintln(p.w, line)
		default:
			fmt.Fprintf(p.w, "  %s: %s (%s)\n", sp.Stage, sp.Action, sp.Reason)
		}
	}
	if outs := plan.Outputs(); plan.Write && len(outs) > 0 {
		fmt.Fprintf(p.w, "写出: %s\n", strings.Join(outs, ", "))
	}
	fmt.Fprintln(p.w)
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnStageDone(res domain.StageResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch res.Status {
	case domain.StatusFailed:
		fmt.Fprintf(p.w, "%s: FAIL %s: %s (%s)\n", res.Name, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur))
	case domain.StatusSkipped:
		fmt.Fprintf(p.w, "%s: SKIP %s\n", res.Name, res.Reason)
	default:
		written := ""
		if res.Written {
			written = " -> " + res.Output
		}
		fmt.Fprintf(p.w, "%s: OK rows=%s->%s%s (%s)\n", res.Name,
			humanize.Comma(int64(res.RowsIn)), humanize.Comma(int64(res.RowsOut)), written, formatShortDuration(dur))
	}
	p.lastPrinted = time.Now()

	if res.Name == p.stage {
		p.stopTickerLocked()
	}
}

// OnProgress 只在进度跨过十分位（以及完成）时打印，避免刷屏。
func (p *progressUI) OnProgress(stage string, done, total int, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if stage != p.stage {
		p.stage = stage
		p.lastTick = -1
	}
	p.done, p.total = done, total
	if !p.tickerStarted && done < total {
		p.startTickerLocked()
	}

	tick := 10
	if total > 0 {
		tick = done * 10 / total
	}
	if tick == p.lastTick {
		return
	}
	p.lastTick = tick
	fmt.Fprintf(p.w, "进度: %s %d/%d elapsed=%s\n", stage, done, total, formatElapsed(elapsed))
	p.lastPrinted = time.Now()
}

// Close 停止 keepalive；可重复调用。
func (p *progressUI) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTickerLocked()
}

func (p *progressUI) stopTickerLocked() {
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) startTickerLocked() {
	stop := make(chan struct{})
	p.stopCh = stop
	p.tickerStarted = true

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && p.done < p.total && time.Since(p.lastPrinted) > threshold {
					fmt.Fprintf(p.w, "进度: %s %d/%d elapsed=%s\n",
						p.stage, p.done, p.total, formatElapsed(time.Since(p.startedAt)))
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func providerChain(ic config.ImagesConfig) string {
	chain := []string{ic.Provider}
	for _, name := range []string{imdb.Name, imdb.MobileName} {
		if name == ic.Provider || (name == imdb.MobileName && !ic.MobileFallback) {
			continue
		}
		chain = append(chain, name)
	}
	return strings.Join(chain, " -> ")
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

// truncate 按字符（rune）截断，避免切断多字节 UTF-8 序列。
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
