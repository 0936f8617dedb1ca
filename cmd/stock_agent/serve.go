package main

import (
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/stock-research-agent/internal/analysis"
	"github.com/jonathan/stock-research-agent/internal/config"
	"github.com/jonathan/stock-research-agent/internal/db"
	"github.com/jonathan/stock-research-agent/internal/finance"
	"github.com/jonathan/stock-research-agent/internal/llm"
	"github.com/jonathan/stock-research-agent/internal/queue"
	"github.com/jonathan/stock-research-agent/internal/server"
)

var (
	servePort int
	serveDev  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server and job scheduler",
	Long:  `Start the HTTP server for job submission and status polling, plus the background scheduler that executes queued analyses.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT)")
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "Use the in-memory job store instead of PostgreSQL")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if err := cfg.Validate(!serveDev); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store queue.Store
	if serveDev {
		log.Println("Using in-memory job store (jobs are lost on restart)")
		store = queue.NewMemStore()
	} else {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()
		store = database
	}

	modelCfg := llm.DefaultConfig()
	for tier, override := range map[llm.ModelTier]string{
		llm.TierLite:     cfg.ModelLite,
		llm.TierStandard: cfg.ModelStandard,
		llm.TierAdvanced: cfg.ModelAdvanced,
	} {
		if override != "" {
			modelCfg.Models[tier] = override
		}
	}

	llmClient, err := llm.NewGeminiClient(ctx, modelCfg, cfg.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	defer func() { _ = llmClient.Close() }()

	analyzer := analysis.New(llmClient, finance.NewClient())
	sched := queue.NewScheduler(store, analyzer, cfg.MaxConcurrentJobs)

	// Reset jobs orphaned by a previous crash before accepting new work.
	if err := sched.Recover(ctx); err != nil {
		return err
	}
	go sched.Run(ctx)

	enqueuer := queue.NewEnqueuer(store, sched)
	srv := server.New(server.Config{Port: cfg.Port}, store, enqueuer, sched)
	return srv.Start(ctx)
}
