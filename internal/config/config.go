package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	// ErrCodeNotFound 表示无参运行但 cwd 下没有 moviecsv.toml。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingPath 表示无参运行但配置文件缺少 path 字段。
	ErrCodeMissingPath = "config_missing_path"
)

// FileName 是配置文件名。
const FileName = "moviecsv.toml"

// 环境变量（优先级高于配置文件，低于 CLI）。
const (
	EnvProxyURL    = "MOVIECSV_PROXY_URL"
	EnvIMDbBaseURL = "MOVIECSV_IMDB_BASE_URL"
	EnvLogLevel    = "MOVIECSV_LOG_LEVEL"
)

// 内置默认值。
const (
	DefaultRawFile       = "ordered_data.csv"
	DefaultDirectorsFile = "directors.csv"
	DefaultMoviesFile    = "movies.csv"
	DefaultReorderedFile = "reordered_output.csv"
	DefaultPricedFile    = "tier_output.csv"
	DefaultImagesFile    = "image_output.csv"

	DefaultRankLimit     = 16
	DefaultProvider      = "imdb"
	DefaultConcurrency   = 1
	DefaultRatePerSec    = 1.0
	DefaultTimeout       = 10 * time.Second
	DefaultLogLevel      = "warn"
	DefaultMobileBaseURL = "https://m.imdb.com"

	DefaultTierIDColumn   = "Imdb_Id"
	DefaultTierDescColumn = "Movie Tier (Indie/Mainstream/Blockbuster)"
)

// CLIArgs 只包含 CLI 暴露的入口，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --apply=false 必须能覆盖 apply=true。
type CLIArgs struct {
	Path string

	Apply    bool
	ApplySet bool

	Images    bool
	ImagesSet bool

	Concurrency    int
	ConcurrencySet bool

	LogLevel    string
	LogLevelSet bool
}

// FileConfig 对应 moviecsv.toml 的解析结构。未知字段视为无效配置。
type FileConfig struct {
	Path     string       `toml:"path"`
	Apply    *bool        `toml:"apply"`
	LogLevel string       `toml:"log_level"`
	Files    FilesConfig  `toml:"files"`
	Filter   FilterFile   `toml:"filter"`
	Tiers    TiersConfig  `toml:"tiers"`
	Images   ImagesFile   `toml:"images"`
	Proxy    *ProxyConfig `toml:"proxy"`
}

type FilesConfig struct {
	Raw       string `toml:"raw" validate:"required,excludesall=/\\"`
	Directors string `toml:"directors" validate:"required,excludesall=/\\"`
	Movies    string `toml:"movies" validate:"required,excludesall=/\\"`
	Reordered string `toml:"reordered" validate:"required,excludesall=/\\"`
	Priced    string `toml:"priced" validate:"required,excludesall=/\\"`
	Images    string `toml:"images" validate:"required,excludesall=/\\"`
}

type FilterFile struct {
	Enabled *bool `toml:"enabled"`
	Limit   int   `toml:"limit"`
}

type TiersConfig struct {
	IDColumn   string `toml:"id_column" validate:"required"`
	DescColumn string `toml:"desc_column" validate:"required"`
}

type ImagesFile struct {
	Enabled        *bool   `toml:"enabled"`
	Provider       string  `toml:"provider"`
	MobileFallback *bool   `toml:"mobile_fallback"`
	Concurrency    int     `toml:"concurrency"`
	RatePerSec     float64 `toml:"rate_per_sec"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	BaseURL        string  `toml:"base_url"`
	MobileBaseURL  string  `toml:"mobile_base_url"`
}

type ProxyConfig struct {
	URL string `toml:"url"`
}

// FilterConfig 是生效的 rank 过滤配置。
type FilterConfig struct {
	Enabled bool
	Limit   int `validate:"min=1,max=100000"`
}

// ImagesConfig 是生效的图片抓取配置。
type ImagesConfig struct {
	Enabled        bool
	Provider       string `validate:"oneof=imdb imdb_mobile"`
	MobileFallback bool
	Concurrency    int           `validate:"min=1,max=16"`
	RatePerSec     float64       `validate:"gt=0,lte=20"`
	Timeout        time.Duration `validate:"gt=0"`
	BaseURL        string        `validate:"omitempty,http_url"`
	MobileBaseURL  string        `validate:"omitempty,http_url"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Path     string `validate:"required"`
	Apply    bool
	LogLevel string `validate:"oneof=debug info warn error"`
	Files    FilesConfig
	Filter   FilterConfig
	Tiers    TiersConfig
	Images   ImagesConfig
	ProxyURL string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 path", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LookupEnv 与 os.LookupEnv 同签名，便于测试注入。
type LookupEnv func(key string) (string, bool)

// LoadEffective 使用进程环境变量调用 LoadEffectiveEnv。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	return LoadEffectiveEnv(cwd, cli, os.LookupEnv)
}

// LoadEffectiveEnv 按约定发现并读取配置文件，然后与环境变量、CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 path：尝试读取 <path>/moviecsv.toml（可选）
// 2) CLI 未提供 path：必须读取 <cwd>/moviecsv.toml（必选），且其中必须包含 path
//
// .env：<cwd>/.env 与 <path>/.env 只补充未设置的变量，真实环境变量优先，<cwd>/.env 先于 <path>/.env。
//
// 覆盖优先级（固定）：CLI > env > 配置文件 > 默认值。
func LoadEffectiveEnv(cwd string, cli CLIArgs, lookup LookupEnv) (EffectiveConfig, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath string
		absPath string
		fc      FileConfig
	)

	if strings.TrimSpace(cli.Path) != "" {
		// CLI 给了 path：配置文件可选，位置固定在 <path>/moviecsv.toml。
		absPath = absCleanFrom(cwdAbs, cli.Path)
		cfgPath = filepath.Join(absPath, FileName)

		fc, _, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	} else {
		// CLI 没给 path：必须读取 <cwd>/moviecsv.toml，且其中必须包含 path。
		cfgPath = filepath.Join(cwdAbs, FileName)
		var exists bool
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
		if strings.TrimSpace(fc.Path) == "" {
			return EffectiveConfig{}, &Error{Code: ErrCodeMissingPath, Path: cfgPath}
		}
		absPath = absCleanFrom(cwdAbs, fc.Path)
	}

	env, err := withDotEnv(lookup, filepath.Join(cwdAbs, ".env"), filepath.Join(absPath, ".env"))
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	eff := merge(absPath, cli, fc, env)
	if err := validate(eff); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	return eff, nil
}

// Default 返回只设置了 path 的默认配置（单阶段子命令使用）。
func Default(path string) EffectiveConfig {
	return merge(path, CLIArgs{}, FileConfig{}, func(string) (string, bool) { return "", false })
}

func merge(absPath string, cli CLIArgs, fc FileConfig, env LookupEnv) EffectiveConfig {
	eff := EffectiveConfig{
		Path:     absPath,
		LogLevel: DefaultLogLevel,
		Files: FilesConfig{
			Raw:       or(fc.Files.Raw, DefaultRawFile),
			Directors: or(fc.Files.Directors, DefaultDirectorsFile),
			Movies:    or(fc.Files.Movies, DefaultMoviesFile),
			Reordered: or(fc.Files.Reordered, DefaultReorderedFile),
			Priced:    or(fc.Files.Priced, DefaultPricedFile),
			Images:    or(fc.Files.Images, DefaultImagesFile),
		},
		Filter: FilterConfig{
			Enabled: boolOr(fc.Filter.Enabled, true),
			Limit:   intOr(fc.Filter.Limit, DefaultRankLimit),
		},
		Tiers: TiersConfig{
			IDColumn:   or(fc.Tiers.IDColumn, DefaultTierIDColumn),
			DescColumn: or(fc.Tiers.DescColumn, DefaultTierDescColumn),
		},
		Images: ImagesConfig{
			Enabled:        boolOr(fc.Images.Enabled, false),
			Provider:       strings.ToLower(or(fc.Images.Provider, DefaultProvider)),
			MobileFallback: boolOr(fc.Images.MobileFallback, true),
			Concurrency:    intOr(fc.Images.Concurrency, DefaultConcurrency),
			RatePerSec:     DefaultRatePerSec,
			Timeout:        DefaultTimeout,
			BaseURL:        strings.TrimSpace(fc.Images.BaseURL),
			MobileBaseURL:  or(fc.Images.MobileBaseURL, DefaultMobileBaseURL),
		},
	}
	if fc.Images.RatePerSec != 0 {
		eff.Images.RatePerSec = fc.Images.RatePerSec
	}
	if fc.Images.TimeoutSeconds != 0 {
		eff.Images.Timeout = time.Duration(fc.Images.TimeoutSeconds) * time.Second
	}
	if fc.Apply != nil {
		eff.Apply = *fc.Apply
	}
	if s := strings.TrimSpace(fc.LogLevel); s != "" {
		eff.LogLevel = s
	}
	if fc.Proxy != nil {
		eff.ProxyURL = strings.TrimSpace(fc.Proxy.URL)
	}

	// env > 配置文件
	if v, ok := env(EnvProxyURL); ok {
		eff.ProxyURL = strings.TrimSpace(v)
	}
	if v, ok := env(EnvIMDbBaseURL); ok && strings.TrimSpace(v) != "" {
		eff.Images.BaseURL = strings.TrimSpace(v)
	}
	if v, ok := env(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		eff.LogLevel = strings.TrimSpace(v)
	}

	// CLI > env
	if cli.ApplySet {
		eff.Apply = cli.Apply
	}
	if cli.ImagesSet {
		eff.Images.Enabled = cli.Images
	}
	if cli.ConcurrencySet {
		eff.Images.Concurrency = cli.Concurrency
	}
	if cli.LogLevelSet {
		eff.LogLevel = cli.LogLevel
	}

	eff.LogLevel = strings.ToLower(strings.TrimSpace(eff.LogLevel))
	if eff.LogLevel == "warning" {
		eff.LogLevel = "warn"
	}
	return eff
}

var structValidator = validator.New()

func validate(eff EffectiveConfig) error {
	if err := structValidator.Struct(eff); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) && len(ves) > 0 {
			fe := ves[0]
			field := strings.TrimPrefix(fe.Namespace(), "EffectiveConfig.")
			if fe.Param() != "" {
				return fmt.Errorf("%s=%v 不满足 %s=%s", field, fe.Value(), fe.Tag(), fe.Param())
			}
			return fmt.Errorf("%s=%v 不满足 %s", field, fe.Value(), fe.Tag())
		}
		return err
	}
	if eff.ProxyURL != "" {
		u, err := url.Parse(eff.ProxyURL)
		if err != nil {
			return fmt.Errorf("proxy.url 无效：%w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("proxy.url 无效：%q", eff.ProxyURL)
		}
	}
	return nil
}

// withDotEnv 返回叠加了 .env 文件的查找函数：真实环境变量优先，files 按顺序补充。
func withDotEnv(lookup LookupEnv, files ...string) (LookupEnv, error) {
	var layers []map[string]string
	seen := map[string]struct{}{}
	for _, f := range files {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		m, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("读取 %s 失败：%w", f, err)
		}
		layers = append(layers, m)
	}
	return func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		for _, m := range layers {
			if v, ok := m[key]; ok {
				return v, true
			}
		}
		return "", false
	}, nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 TOML 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}

func or(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}

func intOr(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
