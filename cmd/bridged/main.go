package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/doerhq/bridge/bridge"
	"github.com/doerhq/bridge/internal/config"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := &cli.App{
		Name:  "bridged",
		Usage: "the command-execution bridge server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-dir",
				Usage: "Directory to start searching for .env and .env.local files.",
				Value: ".",
			},
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "The address for the server to listen on. Overrides SERVER_PORT when set.",
			},
			&cli.StringFlag{
				Name:  "agent-bin",
				Usage: "The agent executable to spawn for agent invocations. Overrides DOER_BIN when set.",
			},
			&cli.StringFlag{
				Name:  "shutdown-grace",
				Usage: "Delay between the exit command and full server termination.",
				Value: "3s",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Minimum log level. One of [debug,info,warn,error].",
				Value: "info",
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.Load(ctx.String("env-dir"))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			grace, err := time.ParseDuration(ctx.String("shutdown-grace"))
			if err != nil {
				return fmt.Errorf("parsing shutdown grace: %w", err)
			}

			level, err := zapcore.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return fmt.Errorf("parsing log level: %w", err)
			}

			logger, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			slog := logger.Named("bridged").Sugar()

			slog.Infof("Using AI provider: %s", strings.ToUpper(cfg.Provider))
			slog.Infof("%s model: %s", providerLabel(cfg.Provider), cfg.ModelName())
			if cfg.APIKey() == "" {
				slog.Warnf("%s is not set in environment variables", cfg.KeyEnvVar())
			}

			listenAddr := ctx.String("listen-addr")
			if listenAddr == "" {
				listenAddr = fmt.Sprintf("0.0.0.0:%d", cfg.Port)
			}
			agentBin := ctx.String("agent-bin")
			if agentBin == "" {
				agentBin = cfg.AgentBin
			}

			server, err := bridge.NewServer(
				bridge.WithListenAddr(listenAddr),
				bridge.WithProvider(cfg.Provider),
				bridge.WithAgentBin(agentBin),
				bridge.WithShutdownGrace(grace),
				bridge.WithLogger(logger),
				bridge.WithLogLevel(level),
			)
			if err != nil {
				return fmt.Errorf("building server: %w", err)
			}

			slog.Infof("listening on %s", listenAddr)
			return server.Run()
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func providerLabel(provider string) string {
	switch provider {
	case "gemini":
		return "Gemini"
	case "claude":
		return "Claude"
	case "openai":
		return "OpenAI"
	default:
		return provider
	}
}
