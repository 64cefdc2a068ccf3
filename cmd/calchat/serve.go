package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"CalChat/internal/agent"
	"CalChat/internal/audit"
	"CalChat/internal/calcom"
	"CalChat/internal/chatbot"
	"CalChat/internal/config"
	"CalChat/internal/mcp"
	"CalChat/internal/server"
	"CalChat/internal/session"
	"CalChat/internal/telemetry"
	"CalChat/internal/tools"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides SERVER_ADDR)")
	cmd.Flags().Bool("mcp", false, "expose the booking tools over MCP at /mcp (overrides MCP_ENABLED)")
	_ = v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("mcp.enabled", cmd.Flags().Lookup("mcp"))
	return cmd
}

// serve wires every component and blocks until ctx is done.
func serve(ctx context.Context, cfg config.Config) error {
	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closeLog()

	var (
		tracer trace.Tracer
		meter  metric.Meter
	)
	if cfg.TelemetryEnabled {
		var shutdown func()
		tracer, meter, shutdown, err = telemetry.InitTelemetry(ctx, cfg.LogDir, version)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer shutdown()
	}

	cal, err := calcom.New(calcom.Options{
		APIKey:             cfg.CalAPIKey,
		BaseURL:            cfg.CalBaseURL,
		DefaultEventTypeID: cfg.CalDefaultEventTypeID,
		Timeout:            cfg.CalTimeout,
		Tracer:             tracer,
		Meter:              meter,
	})
	if err != nil {
		return fmt.Errorf("failed to create Cal.com client: %w", err)
	}

	registry, err := tools.NewBookingRegistry(cal)
	if err != nil {
		return err
	}

	runner, err := agent.NewOpenAI(agent.Options{
		APIKey:    cfg.OpenAIAPIKey,
		BaseURL:   cfg.OpenAIBaseURL,
		Model:     cfg.OpenAIModel,
		MaxRounds: cfg.AgentMaxRounds,
		Tracer:    tracer,
		Meter:     meter,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	auditLog, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer auditLog.Close()

	bot, err := chatbot.New(chatbot.Options{
		Agent:       runner,
		Tools:       registry,
		Sessions:    session.NewStore(),
		Recorder:    auditLog,
		Logger:      logger,
		Tracer:      tracer,
		Meter:       meter,
		TurnTimeout: cfg.AgentTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create chatbot: %w", err)
	}

	var mcpHandler http.Handler
	if cfg.MCPEnabled {
		mcpHandler, err = mcp.NewHandler(bot, version, logger)
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}
		logger.Info("MCP endpoint enabled", "path", "/mcp", "tools", registry.Count())
	}

	logger.Info("calchat configured",
		"version", version,
		"model", cfg.OpenAIModel,
		"cal_base_url", cfg.CalBaseURL,
		"event_type_id", cfg.CalDefaultEventTypeID,
		"tools", registry.Count(),
	)

	srv := server.New(server.Options{
		Addr:   cfg.ServerAddr,
		Chat:   bot,
		MCP:    mcpHandler,
		Logger: logger,
	})
	return srv.ListenAndServe(ctx)
}
