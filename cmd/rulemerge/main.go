// Command rulemerge merges each configured category's custom rules with its
// remote rule sources and writes one rule file per category.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/John-Robertt/clashrules/internal/config"
	"github.com/John-Robertt/clashrules/internal/fetch"
	"github.com/John-Robertt/clashrules/internal/logging"
	"github.com/John-Robertt/clashrules/internal/merge"
	"github.com/John-Robertt/clashrules/internal/trigger"
)

func main() {
	configFile := flag.String("config", "rulemerge.conf", "配置文件路径")
	every := flag.Duration("every", 0, "按固定间隔重复执行（例如 24h）；0 表示只执行一次")
	watch := flag.Bool("watch", false, "执行一次后监听自定义规则文件，变化时重新合并")
	changedFile := flag.String("changed-file", "", "把本次有变化的输出文件路径写入该文件（每行一个，供后续提交步骤使用）")
	flag.Parse()

	cfg := config.DefaultConfig()
	if err := config.LoadConfigFile(&cfg, *configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %s\n", err)
		os.Exit(1)
	}
	if err := config.LoadConfigFromEnvironment(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %s\n", err)
		os.Exit(1)
	}

	loggers := logging.MakeLoggers("merge", cfg.Main.LogLevel.GetOrElse(ldlog.Info))
	if err := config.ValidateMerge(&cfg, loggers); err != nil {
		loggers.Errorf("Invalid configuration: %s", err)
		os.Exit(1)
	}
	if *every > 0 && *watch {
		loggers.Error("-every and -watch cannot be combined")
		os.Exit(2)
	}

	runner, err := newRunner(cfg, loggers)
	if err != nil {
		loggers.Errorf("Invalid configuration: %s", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pass := func(ctx context.Context) {
		if err := runPass(ctx, runner, *changedFile); err != nil && ctx.Err() == nil {
			loggers.Errorf("Merge pass failed: %s", err)
		}
	}

	switch {
	case *every > 0:
		err = trigger.Every(ctx, *every, pass)
	case *watch:
		pass(ctx)
		err = trigger.Watch(ctx, customFiles(cfg), trigger.DefaultDebounce, pass, loggers)
	default:
		if err := runPass(ctx, runner, *changedFile); err != nil {
			loggers.Errorf("Merge failed: %s", err)
			os.Exit(1)
		}
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		loggers.Errorf("%s", err)
		os.Exit(1)
	}
}

func newRunner(cfg config.Config, loggers ldlog.Loggers) (*merge.Runner, error) {
	var cats []merge.Category
	for _, nc := range cfg.Categories() {
		format, err := nc.ResolvedFormat()
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", nc.Name, err)
		}
		output, err := nc.ResolvedOutput()
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", nc.Name, err)
		}
		cats = append(cats, merge.Category{
			Name:    nc.Name,
			Custom:  nc.Custom,
			Sources: nc.Source,
			Output:  output,
			Format:  format,
		})
	}

	var mirrors []merge.Mirror
	for _, m := range cfg.Mirrors() {
		mirrors = append(mirrors, merge.Mirror{File: m.File, URL: m.URL})
	}

	return merge.NewRunner(cats, mirrors, merge.Options{
		OutputDir:          cfg.Merge.OutputDir,
		Concurrency:        cfg.Merge.Concurrency.GetOrElse(config.DefaultConcurrency),
		AbortOnSourceError: cfg.Merge.AbortOnSourceError,
		Fetch:              fetch.Options{Timeout: cfg.Merge.FetchTimeout.GetOrElse(config.DefaultFetchTimeout)},
		Loggers:            loggers,
	}), nil
}

// runPass runs one merge and records the changed outputs. The changed list is
// written even when some categories failed, since the others were updated.
// A write failure empties it so nothing from the aborted pass is committed.
func runPass(ctx context.Context, runner *merge.Runner, changedFile string) error {
	sum, err := runner.Run(ctx)
	if changedFile != "" && ctx.Err() == nil {
		changed := sum.Changed()
		var we *merge.WriteError
		if errors.As(err, &we) {
			changed = nil
		}
		if werr := writeChangedList(changedFile, changed); werr != nil {
			return errors.Join(err, werr)
		}
	}
	return err
}

func writeChangedList(path string, changed []string) error {
	var b strings.Builder
	for _, p := range changed {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write changed-file list: %w", err)
	}
	return nil
}

func customFiles(cfg config.Config) []string {
	var out []string
	for _, nc := range cfg.Categories() {
		if nc.Custom != "" {
			out = append(out, nc.Custom)
		}
	}
	return out
}
