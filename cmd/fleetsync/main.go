// fleetsync pushes the primary's settings, cache or application bundles to
// the configured satellites and restarts them once updated.
//
//	fleetsync push   settings file + cache tree
//	fleetsync align  full application bundles
//
// Exit status is 0 when at least one satellite was updated, 1 when none was
// (or the run aborted), and 2 when there was nothing to do.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tastythames/fleetsync/internal/fleet"
	"github.com/tastythames/fleetsync/internal/inventory"
	"github.com/tastythames/fleetsync/internal/metrics"
	"github.com/tastythames/fleetsync/internal/sshclient"
	"github.com/tastythames/fleetsync/internal/transfer"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitNoOp    = 2
	exitUsage   = 64
	usageHeader = "usage: fleetsync [flags] push|align"
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) ExitCode() int { return e.code }

func getenv(k, fb string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return fb
}

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(exitFailed)
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	var (
		configPath  string
		metricsFile string
		logLevel    string
		logFormat   string
		deadline    time.Duration
	)

	flagSet := pflag.NewFlagSet("fleetsync", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", getenv("FLEETSYNC_CONFIG", "/etc/fleetsync/fleet.yaml"), "path to the fleet config file")
	flagSet.StringVar(&metricsFile, "metrics-file", getenv("FLEETSYNC_METRICS_FILE", ""), "write run metrics in Prometheus text format to this file")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	flagSet.DurationVar(&deadline, "deadline", 0, "stop starting new satellites after this long (0 = no limit)")
	flagSet.Usage = func() {
		fmt.Fprintln(os.Stderr, usageHeader)
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK, nil
		}
		return 0, &exitError{code: exitUsage, err: err}
	}
	if flagSet.NArg() != 1 {
		return 0, &exitError{code: exitUsage, err: errors.New(usageHeader)}
	}
	mode, err := inventory.ParseMode(flagSet.Arg(0))
	if err != nil {
		return 0, &exitError{code: exitUsage, err: err}
	}

	logger, err := newLogger(logLevel, logFormat)
	if err != nil {
		return 0, &exitError{code: exitUsage, err: err}
	}
	logger.Info("config", "path", configPath, "mode", mode)

	inv, err := inventory.Load(configPath)
	if err != nil {
		return 0, fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	sshCfg := sshclient.LoadConfig(sshclient.Config{
		Timeout:             inv.SSH.ConnectTimeout,
		Port:                inv.SSH.Port,
		KeyPath:             inv.SSH.Auth.KeyPath,
		UseAgent:            inv.SSH.Auth.Agent,
		KnownHostsPath:      inv.SSH.KnownHosts,
		InsecureSkipHostKey: inv.SSH.InsecureSkipHostKey,
	})
	inv.SSH.ConnectTimeout = sshCfg.Timeout

	// Nothing to do means no credentials are needed either.
	if len(inv.EnabledNodes(mode, slog.New(slog.DiscardHandler))) == 0 {
		res := fleet.Result{Mode: mode, Disabled: !inv.Enabled(mode)}
		logger.Info(res.Summary())
		metrics.WriteReport(os.Stdout, res)
		return exitNoOp, nil
	}

	cli, err := sshclient.New(sshCfg)
	if err != nil {
		return 0, fmt.Errorf("ssh client: %w", err)
	}
	defer cli.Close()

	copier := transfer.NewCopier(transfer.ExecRunner{}, transfer.Options{
		Port:                sshCfg.Port,
		ConnectTimeout:      2 * sshCfg.Timeout,
		KeyPath:             sshCfg.KeyPath,
		KnownHostsPath:      sshCfg.KnownHostsPath,
		InsecureSkipHostKey: sshCfg.InsecureSkipHostKey,
	})

	orch := fleet.New(fleet.Options{
		Remote: cli,
		Copier: copier,
		Logger: logger,
	})

	res, err := orch.Run(ctx, inv, mode)
	if err != nil {
		return 0, err
	}

	metrics.WriteReport(os.Stdout, res)
	if metricsFile != "" {
		if err := metrics.NewRenderer(res).WriteFile(metricsFile); err != nil {
			logger.Error("writing metrics file", "path", metricsFile, "error", err)
		}
	}

	switch {
	case res.NoOp():
		return exitNoOp, nil
	case res.OK():
		return exitOK, nil
	default:
		return exitFailed, nil
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
