package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sawitdb/sawitdb/internal/config"
	"github.com/sawitdb/sawitdb/internal/logging"
	"github.com/sawitdb/sawitdb/internal/server"
)

const (
	exitOK            = 0
	exitError         = 1
	exitInvalidConfig = 2
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "sawitdb",
		Short:         "sawitdb is an embeddable relational database server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the database server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfgPath)
		},
	}
	serve.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file (yaml or json)")

	hash := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Produce a salt:hash credential for the auth config",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(server.HashPassword(args[0]))
		},
	}

	root.AddCommand(serve, hash)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}
	os.Exit(exitOK)
}

func runServe(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInvalidConfig)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	defer log.Sync()

	srv, err := server.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}
