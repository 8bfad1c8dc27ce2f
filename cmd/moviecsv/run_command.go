package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/moviecsv/internal/app/run"
	"github.com/John-Robertt/moviecsv/internal/config"
	"github.com/John-Robertt/moviecsv/internal/infra/logx"
	"github.com/John-Robertt/moviecsv/internal/provider"
	"github.com/John-Robertt/moviecsv/internal/provider/imdb"
)

func newRunCommand(stdout, stderr io.Writer) *cobra.Command {
	var (
		apply       bool
		images      bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "run [path]",
		Short: "运行完整流水线（默认 dry-run：计算并报告，但不写文件、不访问网络）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			cli := config.CLIArgs{
				Apply:          apply,
				ApplySet:       f.Changed("apply"),
				Images:         images,
				ImagesSet:      f.Changed("images"),
				Concurrency:    concurrency,
				ConcurrencySet: f.Changed("concurrency"),
			}
			if len(args) == 1 {
				cli.Path = args[0]
			}
			if lf := cmd.Flag("log-level"); lf != nil && lf.Changed {
				cli.LogLevel, cli.LogLevelSet = lf.Value.String(), true
			}

			if code := runPipeline(cmd.Context(), cli, stdout, stderr); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&apply, "apply", false, "写出产物、缓存与 report.json；支持 --apply=false 覆盖配置中的 apply=true")
	f.BoolVar(&images, "images", false, "启用图片补全阶段（覆盖配置 images.enabled）")
	f.IntVar(&concurrency, "concurrency", config.DefaultConcurrency, "图片抓取并发数（1..16）")
	return cmd
}

func runPipeline(ctx context.Context, cli config.CLIArgs, stdout, stderr io.Writer) int {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(stderr, "读取当前目录失败：%v\n", err)
		return 1
	}
	cwdAbs, _ := filepath.Abs(cwd)

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		emitReport(stdout, stderr, reportForConfigError(cwdAbs, cli, err))
		return 1
	}

	l, err := logx.New(stderr, eff.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "初始化日志失败：%v\n", err)
		return 1
	}
	slog.SetDefault(l)

	reg, err := buildRegistry(eff.Images)
	if err != nil {
		fmt.Fprintf(stderr, "初始化 provider registry 失败：%v\n", err)
		return 1
	}

	progressW, interactive := pickProgressWriter(stdout, stderr)
	var obs run.Observer
	if interactive {
		ui := newProgressUI(progressW)
		defer ui.Close()
		obs = ui
	}

	rr := run.ExecuteWithObserver(ctx, eff, reg, obs)

	// apply：写入 <path>/cache/report.json；dry-run 不落盘。
	if eff.Apply {
		if err := writeReportFile(eff.Path, rr); err != nil {
			fmt.Fprintf(stderr, "写入 report.json 失败：%v\n", err)
			emitReport(stdout, stderr, rr)
			return 1
		}
	}

	emitReport(stdout, stderr, rr)
	if interactive {
		emitLocations(progressW, eff)
	}
	if rr.Summary.StagesFailed == 0 {
		return 0
	}
	return 1
}

// buildRegistry 注册桌面站；启用移动站回退（或首选移动站）时再注册移动站镜像。
func buildRegistry(ic config.ImagesConfig) (provider.Registry, error) {
	ps := []provider.Provider{imdb.Provider{BaseURL: ic.BaseURL}}
	if ic.MobileFallback || ic.Provider == imdb.MobileName {
		ps = append(ps, imdb.Provider{ID: imdb.MobileName, BaseURL: ic.MobileBaseURL})
	}
	return provider.NewRegistry(ps...)
}
