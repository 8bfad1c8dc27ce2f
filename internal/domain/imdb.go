package domain

import (
	"regexp"
	"strings"
)

// ImdbID 是 IMDb 标识（tt 开头为作品，nm 开头为人物）。
type ImdbID string

var imdbIDRE = regexp.MustCompile(`^(tt|nm)[0-9]+$`)

// ParseImdbID 校验并返回规范化（去空白、小写前缀）的 ImdbID。
// 这里只做形态校验，不保证 IMDb 上真实存在。
func ParseImdbID(s string) (ImdbID, bool) {
	s = strings.TrimSpace(s)
	if len(s) > 2 {
		s = strings.ToLower(s[:2]) + s[2:]
	}
	if !imdbIDRE.MatchString(s) {
		return "", false
	}
	return ImdbID(s), true
}

// EntityKind 决定图片要从哪类页面抓取。
type EntityKind string

const (
	KindTitle EntityKind = "title"
	KindName  EntityKind = "name"
)

// KindFor 根据行类型决定页面类型；类型为空时回退到 id 前缀。
// Movie => title；Actor/Director 以及其它非空类型 => name。
func KindFor(t RowType, id string) EntityKind {
	switch t {
	case TypeMovie:
		return KindTitle
	case "":
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(id)), "tt") {
			return KindTitle
		}
		return KindName
	default:
		return KindName
	}
}
