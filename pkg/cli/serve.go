package cli

import (
	"context"
	"flag"
	"os"

	"github.com/platinummonkey/memauthz/pkg/audit"
	"github.com/platinummonkey/memauthz/pkg/config"
	"github.com/platinummonkey/memauthz/pkg/observability"
	"github.com/platinummonkey/memauthz/pkg/service"
)

func newServeCommand() *Command {
	cmd := &Command{
		Name:        "serve",
		Description: "Run the admin server with policy reload and scheduled jobs",
		Flags:       flag.NewFlagSet("serve", flag.ContinueOnError),
	}
	watch := cmd.Flags.Bool("watch", false, "Watch the policy file; overrides MEMAUTHZ_WATCH_POLICY")
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return runServe(*watch)
	}
	return cmd
}

func runServe(watch bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if watch {
		cfg.Reload.WatchPolicy = true
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	ctx := context.Background()
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}
	defer providers.Shutdown(context.Background())

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithAuditLogger(audit.NewStructuredLogger(logger)),
	}
	if providers != nil && providers.MeterProvider != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return err
		}
		opts = append(opts, service.WithRecorder(otelMetrics))
	}

	svc, err := service.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	return svc.Serve(ctx)
}
