package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/John-Robertt/moviecsv/internal/domain"
)

// Provider 把“站点变化”限制在 provider 包内部；核心流程只依赖统一接口与图片 URL。
//
// 约束：
// - Fetch 不做缓存、不做重试、不做限速（这些由 enrich 层统一实现）
// - Parse 必须是纯函数：相同输入 => 相同输出
// - 返回的图片 URL 必须是绝对地址
type Provider interface {
	Name() string
	Fetch(ctx context.Context, id domain.ImdbID, kind domain.EntityKind, c *http.Client) (html []byte, pageURL string, err error)
	Parse(kind domain.EntityKind, html []byte, pageURL string) (imageURL string, err error)
}

// ErrNoImage 表示页面抓取成功，但其中没有可用的图片。
var ErrNoImage = errors.New("页面中未找到图片")
