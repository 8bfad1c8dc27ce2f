// Package imgx 处理 IMDb/Amazon 图片 URL。
package imgx

import (
	"net/url"
	"path"
	"strings"
)

const (
	sizeMarker  = "_V1_"
	highResForm = "._V1_FMjpg_UX1000_.jpg"
)

// HighRes 把带 Amazon 尺寸后缀（_V1_...）的缩略图 URL 改写为 1000px 宽的 JPEG 形式。
//
// 规则：
// - 空串原样返回
// - 已是高清形式：原样返回
// - 不含 _V1_：原样返回
// - 否则截掉 "._V1_" 之后的部分；若最后一段路径仍带扩展名则去掉，再拼接高清后缀
func HighRes(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, highResForm) || !strings.Contains(raw, sizeMarker) {
		return raw
	}

	base := raw
	if i := strings.Index(base, "."+sizeMarker); i >= 0 {
		base = base[:i]
	}
	base = stripExt(base)
	return base + highResForm
}

// stripExt 只在最后一段路径带扩展名时去掉扩展名，不会截到 host 或上级目录。
func stripExt(s string) string {
	cut := strings.LastIndex(s, "/") + 1
	if u, err := url.Parse(s); err == nil && u.Host != "" && (u.Path == "" || u.Path == "/") {
		// 只有 host 没有路径：不动。
		return s
	}
	last := s[cut:]
	if ext := path.Ext(last); ext != "" && ext != last {
		return s[:len(s)-len(ext)]
	}
	return s
}
