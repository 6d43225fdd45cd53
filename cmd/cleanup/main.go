package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qs3c/cv_score_server/config"
	"github.com/qs3c/cv_score_server/internal/database"
	"github.com/qs3c/cv_score_server/internal/pkg/cron"
	"github.com/qs3c/cv_score_server/internal/pkg/logger"
	"github.com/qs3c/cv_score_server/internal/pkg/queue"
)

type options struct {
	configPath   string
	completedTTL time.Duration
	failedTTL    time.Duration
	dryRun       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove finished jobs from the extraction and analysis queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(context.Background(), opts)
		},
		SilenceUsage: true,
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cmd.Flags().StringVar(&opts.configPath, "config", configPath, "Path to config file")
	cmd.Flags().DurationVar(&opts.completedTTL, "completed-ttl", 0, "Keep completed jobs younger than this (defaults to queue.completed_ttl_hours)")
	cmd.Flags().DurationVar(&opts.failedTTL, "failed-ttl", 0, "Keep failed jobs younger than this (defaults to queue.failed_ttl_hours)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Only report job counts, don't delete anything")

	return cmd
}

func run(ctx context.Context, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	l, err := logger.New(cfg.Log.JSON, cfg.Log.Debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer l.Sync()

	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	qopts := queue.OptionsFromConfig(&cfg.Queue)
	queues := []*queue.RedisQueue{
		queue.NewRedisQueue(rdb, cfg.Queue.ExtractionQueue, qopts),
		queue.NewRedisQueue(rdb, cfg.Queue.AnalysisQueue, qopts),
	}

	if opts.dryRun {
		return report(ctx, queues)
	}

	completedTTL := opts.completedTTL
	if completedTTL <= 0 {
		completedTTL = cfg.Queue.CompletedTTL()
	}
	failedTTL := opts.failedTTL
	if failedTTL <= 0 {
		failedTTL = cfg.Queue.FailedTTL()
	}

	cleaners := make([]cron.Cleaner, len(queues))
	for i, q := range queues {
		cleaners[i] = q
	}

	l.Info("Starting cleanup",
		zap.Duration("completed_ttl", completedTTL),
		zap.Duration("failed_ttl", failedTTL),
	)
	results, err := cron.NewService(cleaners, completedTTL, failedTTL, 0, l).RunNow(ctx)

	log.Println(strings.Repeat("=", 60))
	log.Println("Cleanup Summary")
	log.Println(strings.Repeat("=", 60))
	for _, res := range results {
		log.Printf("%-20s completed: %d, failed: %d", res.Queue, res.Completed, res.Failed)
	}
	log.Println(strings.Repeat("=", 60))

	return err
}

// report dry-run 模式下只输出各状态的任务数
func report(ctx context.Context, queues []*queue.RedisQueue) error {
	states := []queue.State{
		queue.StateWaiting,
		queue.StateDelayed,
		queue.StateActive,
		queue.StateCompleted,
		queue.StateFailed,
	}

	log.Println(strings.Repeat("=", 60))
	log.Println("Queue Summary (dry run)")
	log.Println(strings.Repeat("=", 60))
	for _, q := range queues {
		parts := make([]string, 0, len(states))
		for _, state := range states {
			n, err := q.Count(ctx, state)
			if err != nil {
				return fmt.Errorf("count %s jobs in %s: %w", state, q.Name(), err)
			}
			parts = append(parts, fmt.Sprintf("%s: %d", state, n))
		}
		log.Printf("%-20s %s", q.Name(), strings.Join(parts, ", "))
	}
	log.Println(strings.Repeat("=", 60))
	log.Println("DRY RUN MODE - No jobs were deleted")
	return nil
}
