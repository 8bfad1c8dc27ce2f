package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/John-Robertt/moviecsv/internal/domain"
)

// Attempt 记录一次 provider 尝试（用于解释 fallback/降级原因）。
// 这是内部执行轨迹，只进日志，不写入 report。
type Attempt struct {
	Provider string // provider name（小写）
	Stage    string // "fetch" / "parse" / "ok"
	Err      error  // nil when Stage=="ok"
}

// Result 是一次成功的图片解析结果。
type Result struct {
	ImageURL string
	Provider string
	PageURL  string
}

// FetchImageTrace 按“requested -> 其余已注册 provider”的顺序抓取并解析图片 URL，
// 同时返回 provider 的尝试链路。
func FetchImageTrace(ctx context.Context, reg Registry, requested string, id domain.ImdbID, kind domain.EntityKind, c *http.Client) (res Result, attempts []Attempt, err error) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested == "" {
		return Result{}, nil, fmt.Errorf("provider_requested 不能为空")
	}
	if id == "" {
		return Result{}, nil, fmt.Errorf("id 不能为空")
	}

	order, err := reg.fallbackOrder(requested)
	if err != nil {
		return Result{}, nil, err
	}

	var lastErr error
	for _, name := range order {
		if cerr := ctx.Err(); cerr != nil {
			// ctx 已取消：不再尝试后续 provider。
			return Result{}, attempts, cerr
		}
		p, _ := reg.Get(name)

		h, pageURL, ferr := p.Fetch(ctx, id, kind, c)
		if ferr != nil {
			lastErr = &Error{Provider: name, Stage: "fetch", Err: ferr}
			attempts = append(attempts, Attempt{Provider: name, Stage: "fetch", Err: ferr})
			continue
		}

		u, perr := p.Parse(kind, h, pageURL)
		if perr != nil {
			lastErr = &Error{Provider: name, Stage: "parse", Err: perr}
			attempts = append(attempts, Attempt{Provider: name, Stage: "parse", Err: perr})
			continue
		}

		attempts = append(attempts, Attempt{Provider: name, Stage: "ok"})
		return Result{ImageURL: u, Provider: name, PageURL: pageURL}, attempts, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("无可用 provider")
	}
	return Result{}, attempts, lastErr
}

// Error 是 provider 阶段的可追溯错误。
type Error struct {
	Provider string // provider name（小写）
	Stage    string // "fetch" 或 "parse"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
