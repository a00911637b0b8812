// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command mautrix-minecraft is a Matrix-Minecraft chat bridge. It runs as a
// Matrix application service and exposes an HTTP API on the same listener
// for the Minecraft server plugin.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.mau.fi/util/exzerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/mautrix-minecraft/pkg/connector"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const shutdownTimeout = 10 * time.Second

type flags struct {
	configPath       string
	registrationPath string
	generate         bool
}

func newRootCommand() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "mautrix-minecraft",
		Short:         "A Matrix-Minecraft chat bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "config.yaml", "path to the config file")
	cmd.Flags().StringVarP(&f.registrationPath, "registration", "r", "", "path to the registration file (overrides appservice.registration)")
	cmd.Flags().BoolVarP(&f.generate, "generate-registration", "g", false, "generate the registration file and exit")
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("mautrix-minecraft %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		},
	}
}

func run(ctx context.Context, f flags) error {
	cfg, err := connector.LoadConfig(f.configPath, true)
	if err != nil {
		return err
	}
	if f.registrationPath != "" {
		cfg.AppService.Registration = f.registrationPath
	}
	if f.generate {
		reg := connector.GenerateRegistration(cfg)
		if err = reg.Save(cfg.AppService.Registration); err != nil {
			return fmt.Errorf("failed to save registration: %w", err)
		}
		fmt.Println("Registration generated at", cfg.AppService.Registration)
		fmt.Println("Add the path to the registration file to your homeserver config and restart it.")
		return nil
	}

	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	exzerolog.SetupDefaults(log)
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("built_at", BuildTime).
		Msg("Initializing mautrix-minecraft")

	mc, err := connector.NewConnector(cfg, *log)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err = mc.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(mc.Serve)
	g.Go(func() error {
		return mc.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return mc.Stop(shutdownCtx)
	})
	err = g.Wait()
	log.Info().Msg("Shutdown complete")
	return err
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
