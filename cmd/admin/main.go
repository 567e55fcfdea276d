// Command admin is the operator CLI for the ingestion platform: one-off
// checkpoint resets, queue pushes, and progress inspection against the same
// stores the worker uses, without going through the HTTP surface.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamie-anson/placeflow-ingestor/internal/checkpoint"
	"github.com/jamie-anson/placeflow-ingestor/internal/config"
	"github.com/jamie-anson/placeflow-ingestor/internal/db"
	"github.com/jamie-anson/placeflow-ingestor/internal/queue"
	"github.com/jamie-anson/placeflow-ingestor/internal/regionsweep"
	"github.com/jamie-anson/placeflow-ingestor/internal/store"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

func main() {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Operator commands for the place-ingestion platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		initBatchCmd(),
		resetFailedCmd(),
		progressCmd(),
		pushAllCmd(),
		queueStatsCmd(),
		retryFailedCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openStores() (*db.DB, *checkpoint.Store, error) {
	cfg := config.Load()
	database, err := db.Initialize(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if database.DB == nil {
		return nil, nil, fmt.Errorf("database unreachable at %s", cfg.DatabaseURL)
	}
	return database, checkpoint.New(database.DB), nil
}

func openQueue() (*queue.UpdateQueueImpl, error) {
	cfg := config.Load()
	return queue.New(queue.Config{
		RedisURL:          cfg.RedisURL,
		VisibilityTimeout: cfg.QueueVisibility,
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxAttempts:       cfg.MaxAttempts,
		BackoffInitial:    cfg.BackoffInitial,
		BackoffMax:        cfg.BackoffMax,
	})
}

func initBatchCmd() *cobra.Command {
	var catalogPath string
	cmd := &cobra.Command{
		Use:   "init-batch [batch_name] [region_type]",
		Short: "Seed PENDING checkpoints for a batch from the region catalog",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier := models.RegionTier(args[1])
			regions, err := regionsweep.LoadCatalog(catalogPath, tier)
			if err != nil {
				return err
			}
			database, cps, err := openStores()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			result, err := cps.Initialize(ctx, args[0], tier, regions)
			if err != nil {
				return err
			}
			fmt.Printf("inserted=%d skipped=%d\n", result.Inserted, result.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "path to a region catalog JSON file (defaults to the built-in sido catalog)")
	return cmd
}

func resetFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-failed [batch_name] [region_code...]",
		Short: "Reset FAILED checkpoint rows back to PENDING",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, cps, err := openStores()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			count, err := cps.ResetFailed(ctx, args[0], args[1:]...)
			if err != nil {
				return err
			}
			fmt.Printf("reset %d checkpoint(s)\n", count)
			return nil
		},
	}
}

func progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress [batch_name]",
		Short: "Show a batch's checkpoint progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, cps, err := openStores()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			p, err := cps.Progress(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("total=%d pending=%d processing=%d completed=%d failed=%d pct=%.1f%%\n",
				p.Total, p.Pending, p.Processing, p.Completed, p.Failed, p.PercentPct)
			return nil
		},
	}
}

func pushAllCmd() *cobra.Command {
	var menus, images, reviews bool
	var priority int
	cmd := &cobra.Command{
		Use:   "push-all",
		Short: "Enqueue an update task for every place with a completed crawl",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !menus && !images && !reviews {
				return fmt.Errorf("at least one of --menus, --images, --reviews is required")
			}
			database, _, err := openStores()
			if err != nil {
				return err
			}
			defer database.Close()

			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			places := store.NewPlaceRepo(database.DB)
			ids, err := places.ListIDsByCrawlStatus(ctx, models.CrawlCompleted)
			if err != nil {
				return err
			}
			pushed, err := q.PushAll(ctx, ids, models.UpdateOps{Menus: menus, Images: images, Reviews: reviews}, priority)
			if err != nil {
				return err
			}
			fmt.Printf("pushed %d task(s)\n", pushed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&menus, "menus", false, "refresh menus")
	cmd.Flags().BoolVar(&images, "images", false, "refresh images")
	cmd.Flags().BoolVar(&reviews, "reviews", false, "refresh reviews")
	cmd.Flags().IntVar(&priority, "priority", 0, "queue lane: 0 normal, 1 priority")
	return cmd
}

func queueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue-stats",
		Short: "Show update-queue depths and circuit-breaker state",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			stats, err := q.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("pending=%d priority=%d inflight=%d retry=%d dead=%d completed=%d failed=%d breaker=%s\n",
				stats.Pending, stats.Priority, stats.Inflight, stats.Retry, stats.Dead,
				stats.Completed, stats.Failed, q.CircuitBreakerState())
			return nil
		},
	}
}

func retryFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Re-enqueue every dead-lettered task under a fresh task id",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			retried, err := q.RetryFailed(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("retried %d task(s)\n", retried)
			return nil
		},
	}
}
