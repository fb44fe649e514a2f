package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"ivr-tester/internal/audit"
	"ivr-tester/internal/auth"
	"ivr-tester/internal/config"
	"ivr-tester/internal/httpapi"
	"ivr-tester/internal/metrics"
	"ivr-tester/internal/navigator"
	"ivr-tester/internal/policy"
	"ivr-tester/internal/telephony"
	"ivr-tester/pkg/logger"
	"ivr-tester/pkg/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and navigator",
	Long: `Starts the HTTP server that receives provider callbacks and the manual
call trigger. When a target number is configured a test call starts right away.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		target, _ := cmd.Flags().GetString("target")
		quiet, _ := cmd.Flags().GetBool("quiet")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, stop, path, target, quiet)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("target", "", "Number to call on startup (overrides TARGET_PHONE_NUMBER)")
	serveCmd.Flags().BoolP("quiet", "q", false, "Do not print the startup banner")
}

func serve(ctx context.Context, stop context.CancelFunc, configPath, target string, quiet bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if target != "" {
		cfg.Calls.TargetNumber = target
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)
	if !quiet {
		printBanner(os.Stdout, cfg.App.Env)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	pol, err := buildPolicy(cfg, log)
	if err != nil {
		return fmt.Errorf("policy init failed: %w", err)
	}

	provider := telephony.NewTwilioProvider(telephony.TwilioConfig{
		AccountSID:  cfg.Twilio.AccountSID,
		AuthToken:   cfg.Twilio.AuthToken,
		CallbackURL: cfg.TwilioCallbackURI(),
	}, log)

	trail := audit.NewService(audit.NewMemoryRepo(0))
	handlers := httpapi.Handlers{Trail: trail, Metrics: m, TwilioCallbackURL: cfg.TwilioCallbackURI()}
	opts := navigator.Options{
		Audit:           trail,
		DefaultTarget:   cfg.Calls.TargetNumber,
		SourceNumber:    cfg.Calls.SourceNumber,
		RetryDelay:      cfg.Calls.RecognizeRetryDelay,
		DecisionTimeout: cfg.Policy.DecisionTimeout,
		Metrics:         m,
		Logger:          log,
	}

	if cfg.Redis.Addr != "" {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.Redis.Addr})
		if err != nil {
			return fmt.Errorf("redis init failed: %w", err)
		}
		defer rdb.Close()
		sessionCap := utils.NewSessionCap(rdb, "", 0)
		opts.Guard = sessionCap
		opts.GuardRefresh = sessionCap.TTL() / 3
		handlers.Dedup = utils.NewDeduper(rdb, "", 0)
	}

	var callAuth gin.HandlerFunc
	if cfg.Auth.JWTSecret != "" {
		mgr, err := auth.NewManager(cfg.Auth)
		if err != nil {
			return fmt.Errorf("auth init failed: %w", err)
		}
		callAuth = auth.RequireOperator(mgr)
	} else {
		log.Warn("API_JWT_SECRET not set, /api/call is unauthenticated")
	}

	nav := navigator.New(provider, pol, opts)
	nav.Start(ctx)
	handlers.Navigator = nav

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, handlers, callAuth, reg)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "callback_uri", cfg.Callback.URI)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	if cfg.Calls.TargetNumber != "" {
		go func() {
			s, err := nav.Run(ctx, "")
			if err != nil {
				log.Error("startup call failed", "target", cfg.Calls.TargetNumber, "err", err)
				return
			}
			log.Info("startup call initiated", "session_id", s.ID)
		}()
	}

	<-ctx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	select {
	case <-nav.Done():
	case <-shutdownCtx.Done():
		log.Warn("navigator did not stop in time")
	}
	return nil
}

// buildPolicy prefers a scripted policy when one is configured.
func buildPolicy(cfg config.Config, log *slog.Logger) (policy.Policy, error) {
	if cfg.Policy.ScriptPath != "" {
		p, err := policy.LoadScript(cfg.Policy.ScriptPath)
		if err != nil {
			return nil, err
		}
		log.Info("using scripted policy", "path", cfg.Policy.ScriptPath)
		return p, nil
	}
	log.Info("using openai policy", "model", cfg.OpenAI.Model)
	return policy.NewOpenAI(policy.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.Model,
		BaseURL: cfg.OpenAI.BaseURL,
	}, log), nil
}
