package imdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/infra/imgx"
	providerx "github.com/John-Robertt/moviecsv/internal/provider"
)

const (
	DefaultBaseURL       = "https://www.imdb.com"
	DefaultMobileBaseURL = "https://m.imdb.com"

	// Name 与 MobileName 是两个注册名：桌面站与移动站共用同一套解析。
	Name       = "imdb"
	MobileName = "imdb_mobile"

	// 页面大小上限；IMDb 详情页通常在 1MB 以内。
	maxBodyBytes = 8 << 20
)

// 按优先级排列的图片选择器（og:image 之后才会用到）。
var (
	titleSelectors = []string{
		"div.ipc-media img",
		"img.ipc-image",
		"div.poster img",
		"a.ipc-lockup-overlay img",
	}
	nameSelectors = []string{
		"div.name-overview-widget__photo img",
		"div.photo img",
		"img.headshot",
		"div.name-overview-widget img",
	}
)

// Provider 实现 IMDb 作品/人物页的抓取与图片解析。
//
// 详情页 URL 可以直接由 id 拼出：<base>/title/<tt..>/ 或 <base>/name/<nm..>/。
type Provider struct {
	// ID 是注册名；为空时为 "imdb"。同一实现可以用不同 BaseURL 注册为镜像（例如移动站）。
	ID string
	// BaseURL 为空时使用 DefaultBaseURL。
	BaseURL string
}

func (p Provider) Name() string {
	if id := strings.TrimSpace(p.ID); id != "" {
		return id
	}
	return Name
}

func (p Provider) baseURL() string {
	u := strings.TrimSpace(p.BaseURL)
	if u == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(u, "/")
}

// PageURL 返回 id 对应的详情页 URL。
func (p Provider) PageURL(id domain.ImdbID, kind domain.EntityKind) string {
	seg := "name"
	if kind == domain.KindTitle {
		seg = "title"
	}
	return p.baseURL() + "/" + seg + "/" + url.PathEscape(string(id)) + "/"
}

func (p Provider) Fetch(ctx context.Context, id domain.ImdbID, kind domain.EntityKind, c *http.Client) ([]byte, string, error) {
	if c == nil {
		return nil, "", errors.New("http client 不能为空")
	}
	if id == "" {
		return nil, "", errors.New("id 不能为空")
	}
	pageURL := p.PageURL(id, kind)
	b, err := fetchURL(ctx, c, pageURL)
	return b, pageURL, err
}

// Parse 从详情页中取出图片 URL：先 og:image，再按 kind 的选择器依次尝试（src 优先于 data-src）。
// 结果统一改写为高清形式。
func (Provider) Parse(kind domain.EntityKind, html []byte, pageURL string) (string, error) {
	if len(html) == 0 {
		return "", errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", err
	}

	if content, ok := doc.Find("meta[property='og:image']").First().Attr("content"); ok {
		if u := resolveURL(pageURL, content); u != "" {
			return imgx.HighRes(u), nil
		}
	}

	selectors := nameSelectors
	if kind == domain.KindTitle {
		selectors = titleSelectors
	}
	for _, sel := range selectors {
		img := doc.Find(sel).First()
		if img.Length() == 0 {
			continue
		}
		for _, attr := range []string{"src", "data-src"} {
			if v, ok := img.Attr(attr); ok {
				if u := resolveURL(pageURL, v); u != "" {
					return imgx.HighRes(u), nil
				}
			}
		}
	}
	return "", providerx.ErrNoImage
}

func fetchURL(ctx context.Context, c *http.Client, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// AWS WAF 的 JS challenge：202 + x-amzn-waf-action，body 不是详情页。
	if strings.EqualFold(strings.TrimSpace(resp.Header.Get("x-amzn-waf-action")), "challenge") {
		return nil, &providerx.BlockedError{URL: u, Reason: "waf-challenge"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &providerx.HTTPStatusError{URL: u, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("empty response body: %s", u)
	}
	return b, nil
}

func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "data:") {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	bu, err := url.Parse(base)
	if err != nil {
		return href
	}
	ru, err := url.Parse(href)
	if err != nil {
		return href
	}
	return bu.ResolveReference(ru).String()
}
