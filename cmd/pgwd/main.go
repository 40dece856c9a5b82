// pgwd is the minipgw session-server daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillidk/minipgw/internal/config"
	"github.com/kirillidk/minipgw/internal/logging"
	"github.com/kirillidk/minipgw/internal/orchestrator"
	appversion "github.com/kirillidk/minipgw/internal/version"
)

// Exit codes per spec.md section 6: 0 normal, 1 other, 2 config error,
// 3 UDP engine error, 4 HTTP engine error.
const (
	exitOK          = 0
	exitOther       = 1
	exitConfigError = 2
	exitUDPError    = 3
	exitHTTPError   = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	code := exitOK
	cmd := newRootCmd(&code)
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if code == exitOK {
			code = exitOther
		}
	}

	return code
}

func newRootCmd(code *int) *cobra.Command {
	var showVersion bool

	cmd := &cobra.Command{
		Use:           "pgwd [config_file]",
		Short:         "minipgw session-server daemon",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			if showVersion {
				fmt.Println(appversion.Full("pgwd"))
				return nil
			}

			configPath := "config.json"
			if len(args) == 1 {
				configPath = args[0]
			}

			return runDaemon(configPath, code)
		},
	}

	cmd.Flags().BoolVar(&showVersion, "version", false, "print version information and exit")
	return cmd
}

func runDaemon(configPath string, code *int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		*code = exitConfigError
		return fmt.Errorf("load config: %w", err)
	}

	logFile := os.Stderr
	if cfg.LogFile != "" && cfg.LogFile != "-" {
		f, openErr := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if openErr != nil {
			*code = exitConfigError
			return fmt.Errorf("open log file: %w", openErr)
		}
		defer f.Close()
		logFile = f
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.New(logFile, "json", levelVar)

	srv, err := orchestrator.New(cfg, logger)
	if err != nil {
		*code = exitUDPError
		return fmt.Errorf("build server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("pgwd starting",
		"version", appversion.Version,
		"server_ip", cfg.ServerIP,
		"server_port", cfg.ServerPort,
		"http_port", cfg.HTTPPort,
	)

	if err := srv.Run(ctx); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrUDPEngine):
			*code = exitUDPError
		default:
			*code = exitHTTPError
		}
		return fmt.Errorf("run server: %w", err)
	}

	logger.Info("pgwd stopped")
	return nil
}
