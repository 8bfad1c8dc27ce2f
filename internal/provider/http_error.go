package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// HTTPStatusError 表示站点返回了非 2xx 的 HTTP 状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d location=%s", e.StatusCode, loc)
}

// BlockedError 表示请求被站点引导到了“验证/拦截”页面（例如 WAF challenge）。
// 不尝试绕过，直接视为抓取失败，让上层走 provider 回退或降级为空。
type BlockedError struct {
	URL    string
	Reason string // 例如 "waf-challenge"
}

func (e *BlockedError) Error() string {
	if e == nil {
		return "blocked"
	}
	if strings.TrimSpace(e.Reason) == "" {
		return "blocked"
	}
	return "blocked: " + strings.TrimSpace(e.Reason)
}

// Describe 把抓取/解析错误转成可操作的提示（用于 report 中的 msg）。
func Describe(err error) string {
	if err == nil {
		return ""
	}
	name := "provider"
	stage := "fetch"
	var pe *Error
	if errors.As(err, &pe) {
		name, stage = pe.Provider, pe.Stage
	}

	if stage == "parse" {
		if errors.Is(err, ErrNoImage) {
			return fmt.Sprintf("%s 页面中没有图片。", name)
		}
		// 解析失败通常意味着站点结构漂移或被返回了非预期页面。
		return fmt.Sprintf("%s 解析失败（站点结构可能变化或返回了非详情页内容）：%v", name, err)
	}

	var be *BlockedError
	if errors.As(err, &be) {
		return fmt.Sprintf("%s 被站点拦截（%s）。当前不支持绕过；建议配置 proxy.url 或稍后重试。", name, be.Reason)
	}

	var hs *HTTPStatusError
	if errors.As(err, &hs) {
		switch hs.StatusCode {
		case 403, 429:
			return fmt.Sprintf("%s 返回 HTTP %d（可能触发反爬/限流）。建议降低速率或配置 proxy.url。", name, hs.StatusCode)
		case 404:
			return fmt.Sprintf("%s 返回 HTTP 404（该 id 可能不存在）。", name)
		default:
			if loc := strings.TrimSpace(hs.Location); loc != "" {
				return fmt.Sprintf("%s 返回 HTTP %d（重定向）：%s", name, hs.StatusCode, loc)
			}
			return fmt.Sprintf("%s 返回 HTTP %d。", name, hs.StatusCode)
		}
	}

	low := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(low, "timeout") {
		return fmt.Sprintf("%s 抓取超时。建议检查网络/代理后重试。", name)
	}
	if strings.Contains(low, "tls") || strings.Contains(low, "handshake") {
		return fmt.Sprintf("%s 连接失败（TLS/SSL）。建议配置 proxy.url 或稍后重试。", name)
	}
	return fmt.Sprintf("%s 抓取失败：%v", name, err)
}
