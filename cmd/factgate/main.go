// Command factgate runs the fact-gated command service: one
// authenticated HTTP endpoint that routes operator commands to
// allow-listed tools, truth-packet answers, or gated generation.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/factgate/factgate/internal/audit"
	"github.com/factgate/factgate/internal/auth"
	"github.com/factgate/factgate/internal/config"
	"github.com/factgate/factgate/internal/gate"
	"github.com/factgate/factgate/internal/generate"
	"github.com/factgate/factgate/internal/logging"
	"github.com/factgate/factgate/internal/mcpserver"
	"github.com/factgate/factgate/internal/metrics"
	"github.com/factgate/factgate/internal/retrieval"
	"github.com/factgate/factgate/internal/route"
	"github.com/factgate/factgate/internal/server"
	"github.com/factgate/factgate/internal/tools"
	"github.com/factgate/factgate/internal/truth"
)

const version = "1.0.0"

func main() {
	var flagConfig string

	rootCmd := &cobra.Command{
		Use:   "factgate",
		Short: "fact-gated local command service",
		Long: `factgate answers operator commands through a verified pipeline:
auth gate, rate limiter, intent router, allow-listed tools, truth
packet, and a truth gate that rewrites unverifiable generated claims.`,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "factgate.yaml", "path to config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flagConfig)
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "validate the config file and credential sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if _, err := auth.Load(cfg.Auth.SecretEnv, cfg.Auth.SecretFile); err != nil {
				return fmt.Errorf("credential check: %w", err)
			}
			fmt.Println("config ok")
			return nil
		},
	}

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "inspect the audit log",
	}

	auditVerifyCmd := &cobra.Command{
		Use:   "verify [path]",
		Short: "verify the audit log hash chain",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := auditPath(flagConfig, args)
			if err != nil {
				return err
			}
			res := audit.Verify(path)
			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(out))
			if !res.Valid {
				return fmt.Errorf("audit chain invalid at line %d", res.ErrorLine)
			}
			return nil
		},
	}

	var tailCount int
	auditTailCmd := &cobra.Command{
		Use:   "tail [path]",
		Short: "print the most recent audit entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := auditPath(flagConfig, args)
			if err != nil {
				return err
			}
			entries, err := audit.Tail(path, tailCount)
			if err != nil {
				return err
			}
			fmt.Print(audit.FormatEntries(entries))
			return nil
		},
	}
	auditTailCmd.Flags().IntVarP(&tailCount, "count", "n", 20, "number of entries")
	auditCmd.AddCommand(auditVerifyCmd, auditTailCmd)

	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "serve the allow-listed tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(flagConfig)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print factgate version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("factgate %s\n", version)
		},
	}

	rootCmd.AddCommand(serveCmd, checkCmd, auditCmd, mcpCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func auditPath(configPath string, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return cfg.Audit.Path, nil
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logs, err := logging.New(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logs.Sync()

	// A missing credential is startup-fatal: the service never binds
	// unauthenticated.
	authGate, err := auth.Load(cfg.Auth.SecretEnv, cfg.Auth.SecretFile)
	if err != nil {
		return fmt.Errorf("refusing to start: %w", err)
	}

	auditLog, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen, err := buildGenerator(ctx, cfg)
	if err != nil {
		return err
	}

	srv := server.New(server.Deps{
		Auth:      authGate,
		Router:    route.Default(),
		Truth:     truth.NewProvider("factgate", version),
		Retriever: buildRetriever(cfg),
		Generator: gen,
		Gate:      gate.New(),
		Audit:     auditLog,
		Logs:      logs,
		Metrics:   metrics.New(),
	})
	if err := srv.ApplyConfig(cfg); err != nil {
		return err
	}

	// Hot reload of routing, rate limits, and tool policy. Listen
	// address and credentials require a restart.
	watcher, err := config.NewWatcher(configPath,
		func(next *config.Config) {
			if err := srv.ApplyConfig(next); err != nil {
				logs.Ops.Error("config reload rejected", zap.Error(err))
			}
		},
		func(err error) {
			logs.Ops.Error("config reload failed", zap.Error(err))
		},
	)
	if err != nil {
		logs.Ops.Warn("config watcher disabled", zap.Error(err))
	} else {
		go watcher.Run(ctx)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logs.Ops.Info("listening", zap.String("addr", cfg.Server.Listen))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func buildRetriever(cfg *config.Config) retrieval.Retriever {
	if cfg.Retrieval.URL == "" {
		return nil
	}
	apiKey := ""
	if cfg.Retrieval.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.Retrieval.APIKeyEnv)
	}
	return retrieval.NewHTTPRetriever(cfg.Retrieval.URL, apiKey, cfg.Retrieval.Limit, cfg.Retrieval.Timeout.Std())
}

func buildGenerator(ctx context.Context, cfg *config.Config) (generate.Generator, error) {
	switch cfg.Generator.Backend {
	case "none":
		return nil, nil
	case "bedrock":
		return generate.NewBedrockGenerator(ctx, cfg.Generator.Region, cfg.Generator.Model, cfg.Generator.MaxTokens)
	default:
		apiKey := ""
		if cfg.Generator.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.Generator.APIKeyEnv)
		}
		return generate.NewOpenAIGenerator(cfg.Generator.URL, apiKey, cfg.Generator.Model,
			cfg.Generator.MaxTokens, cfg.Generator.Timeout.Std()), nil
	}
}

func runMCP(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logs, err := logging.New(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logs.Sync()
	registry, err := tools.NewRegistry(tools.Policy{
		Root:              cfg.Tools.Root,
		RunCommandEnabled: cfg.Tools.RunCommand,
		Timeout:           cfg.Tools.Timeout.Std(),
	})
	if err != nil {
		return err
	}
	auditLog, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return err
	}

	s := mcpserver.New(mcpserver.Config{
		Registry: registry,
		Truth:    truth.NewProvider("factgate", version),
		Audit:    auditLog,
		Logs:     logs,
		Version:  version,
	})
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}
