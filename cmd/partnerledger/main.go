package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerledger/internal/audit"
	"github.com/smallbiznis/partnerledger/internal/clock"
	"github.com/smallbiznis/partnerledger/internal/commission"
	"github.com/smallbiznis/partnerledger/internal/config"
	"github.com/smallbiznis/partnerledger/internal/events"
	"github.com/smallbiznis/partnerledger/internal/migration"
	"github.com/smallbiznis/partnerledger/internal/notification"
	"github.com/smallbiznis/partnerledger/internal/observability"
	"github.com/smallbiznis/partnerledger/internal/partner"
	"github.com/smallbiznis/partnerledger/internal/payment"
	"github.com/smallbiznis/partnerledger/internal/payout"
	payoutdomain "github.com/smallbiznis/partnerledger/internal/payout/domain"
	"github.com/smallbiznis/partnerledger/internal/scheduler"
	"github.com/smallbiznis/partnerledger/internal/server"
	"github.com/smallbiznis/partnerledger/internal/systemconfig"
	"github.com/smallbiznis/partnerledger/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "partnerledger",
		Short:         "Partner commission and payout lifecycle engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file (yaml, toml or json)")

	load := func() (config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return cfg, err
		}
		if cfg.AppVersion == "" || cfg.AppVersion == "dev" {
			cfg.AppVersion = version
		}
		return cfg, nil
	}

	rootCmd.AddCommand(serveCmd(load))
	rootCmd.AddCommand(migrateCmd(load))
	rootCmd.AddCommand(sweepCmd(load))
	rootCmd.AddCommand(verifyCmd(load))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type loader func() (config.Config, error)

// coreModules are the engine services shared by every command.
func coreModules(cfg config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		events.Module,
		audit.Module,
		partner.Module,
		commission.Module,
		systemconfig.Module,
		payout.Module,
		payment.Module,
		notification.Module,
	)
}

func serveCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			app := fx.New(
				coreModules(cfg),
				scheduler.Module,
				server.Module,
			)
			app.Run()
			return app.Err()
		},
	}
}

func migrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema and indexes to the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			conn, err := db.Open(cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := conn.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := migration.Run(conn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

// runOnce starts the core app without the HTTP server or cron, runs fn and
// shuts down.
func runOnce(cfg config.Config, fn any) error {
	app := fx.New(
		coreModules(cfg),
		fx.Provide(scheduler.New),
		fx.Invoke(fn),
	)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return err
	}
	return app.Stop(ctx)
}

func sweepCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Advance due commissions and relay pending events once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runOnce(cfg, func(s *scheduler.Scheduler) error {
				ctx := cmd.Context()
				if err := s.RunSweep(ctx); err != nil {
					return err
				}
				if err := s.RunStuckCheck(ctx); err != nil {
					return err
				}
				return s.RunRelay(ctx)
			})
		},
	}
}

func verifyCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Run the ledger consistency check and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			var violations int
			err = runOnce(cfg, func(svc payoutdomain.Service, relay *events.Relay) error {
				ctx := cmd.Context()
				report, err := svc.CheckConsistency(ctx)
				if err != nil {
					return err
				}
				violations = len(report.Violations)
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
				return relay.Drain(ctx)
			})
			if err != nil {
				return err
			}
			if violations > 0 {
				return fmt.Errorf("%d consistency violations found", violations)
			}
			return nil
		},
	}
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
