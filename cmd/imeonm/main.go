package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/imeonm/imeonm/pkg/exporter"
	"github.com/imeonm/imeonm/pkg/imeon"
	"github.com/imeonm/imeonm/pkg/log"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

// runner is the exporter as seen by main.
type runner interface {
	Enabled() bool
	Run(ctx context.Context) error
}

func main() {
	// init packages
	c := imeon.Configured()
	exp := exporter.Configured(c)
	d := configuredDumps()

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level, err := log.LevelFromLLog(llog.GetLevel())
	if err != nil {
		panic(err)
	}
	log.SetDefaultLogLevel(level)
	slog.SetDefault(log.Ctx(context.Background()))
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for _, v := range []interface{ Validate() error }{c, exp, d} {
		if err := v.Validate(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "invalid configuration", slog.Any("error", err))
			os.Exit(1)
		}
	}

	if err := run(ctx, c, exp, d, os.Stdout); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "imeonm failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// run logs into the device and then either prints one endpoint or runs the
// exporter until ctx is canceled.
func run(ctx context.Context, c *imeon.Client, exp runner, d *dumps, out io.Writer) error {
	if err := c.Login(ctx); err != nil {
		return fmt.Errorf("failed to login: %w", err)
	}

	if ep, ok := d.endpoint(); ok {
		return dump(ctx, c, ep, out)
	}

	if !exp.Enabled() {
		log.Ctx(ctx).InfoContext(ctx, "nothing to do, pass --prometheus-exporter or one of the raw output flags")
		return nil
	}
	return exp.Run(ctx)
}
