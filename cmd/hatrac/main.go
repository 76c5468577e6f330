// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

// Command hatrac runs the object store service and its administrative
// tooling.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hatrac/hatrac/pkg/directory"
	"github.com/hatrac/hatrac/pkg/process"
	"github.com/hatrac/hatrac/pkg/relocate"
	"github.com/hatrac/hatrac/rest"
	"github.com/hatrac/hatrac/storage/backends"
)

var (
	rootCmd = &cobra.Command{
		Use:   "hatrac",
		Short: "hierarchical immutable object store",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "run the HTTP service",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:   "setup",
		Short: "initialize the metadata schema and grant root ownership",
		RunE:  cmdSetup,
	}
	relocateCmd = &cobra.Command{
		Use:   "relocate",
		Short: "link or transfer version payloads across deployments",
	}
	linkCmd = &cobra.Command{
		Use:   "link <name> <version> <url>",
		Short: "point a version at a remote URL",
		Args:  cobra.ExactArgs(3),
		RunE:  cmdLink,
	}
	transferCmd = &cobra.Command{
		Use:   "transfer <name> <version>",
		Short: "pull a linked version into the local backend",
		Args:  cobra.ExactArgs(2),
		RunE:  cmdTransfer,
	}

	configPath string
	devLogging bool
	adminRoles []string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "hatrac_config.json", "path to the configuration document")
	rootCmd.PersistentFlags().BoolVar(&devLogging, "dev", false, "development logging")
	runCmd.Flags().String("listen", "", "listen address override")
	runCmd.Flags().String("storage", "", "filesystem storage root override")
	setupCmd.Flags().StringSliceVar(&adminRoles, "admin", nil, "roles granted ownership of the root namespace")

	relocateCmd.AddCommand(linkCmd, transferCmd)
	rootCmd.AddCommand(runCmd, setupCmd, relocateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup opens the logger, configuration and directory shared by every
// subcommand.
func setup() (context.Context, context.CancelFunc, *zap.Logger, *directory.Directory, error) {
	log, err := process.NewLogger(devLogging)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	config, err := process.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	dir, err := directory.Open(log.Named("directory"), config.DatabaseDSN, config.DatabaseMaxRetries)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ctx, cancel := process.Ctx()
	return ctx, cancel, log, dir, nil
}

func cmdRun(cmd *cobra.Command, args []string) error {
	ctx, cancel, log, dir, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer func() { _ = dir.Close() }()
	defer func() { _ = log.Sync() }()

	config, err := process.LoadConfig(configPath)
	if err != nil {
		return err
	}
	process.FlagOverrides(&config, cmd.Flags())
	if err := dir.Migrate(ctx); err != nil {
		return err
	}
	store, err := backends.Open(log.Named("storage"), config)
	if err != nil {
		return err
	}
	handler, err := rest.NewHandler(log.Named("rest"), config, dir, store, nil)
	if err != nil {
		return err
	}
	server, err := rest.NewServer(log.Named("server"), config, handler)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}

func cmdSetup(cmd *cobra.Command, args []string) error {
	ctx, cancel, log, dir, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer func() { _ = dir.Close() }()

	if len(adminRoles) == 0 {
		return fmt.Errorf("at least one --admin role is required")
	}
	if err := dir.Deploy(ctx, adminRoles); err != nil {
		return err
	}
	log.Info("deployment initialized", zap.Strings("admin", adminRoles))
	return nil
}

func newRelocator(log *zap.Logger, dir *directory.Directory) (*relocate.Relocator, error) {
	config, err := process.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	store, err := backends.Open(log.Named("storage"), config)
	if err != nil {
		return nil, err
	}
	return relocate.New(log.Named("relocate"), dir, store, nil), nil
}

func cmdLink(cmd *cobra.Command, args []string) error {
	ctx, cancel, log, dir, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer func() { _ = dir.Close() }()

	relocator, err := newRelocator(log, dir)
	if err != nil {
		return err
	}
	return relocator.Link(ctx, args[0], args[1], args[2])
}

func cmdTransfer(cmd *cobra.Command, args []string) error {
	ctx, cancel, log, dir, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer func() { _ = dir.Close() }()

	relocator, err := newRelocator(log, dir)
	if err != nil {
		return err
	}
	return relocator.Transfer(ctx, args[0], args[1])
}
