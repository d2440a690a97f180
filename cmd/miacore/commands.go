package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mia-systems/cognitive-core/config"
	"github.com/mia-systems/cognitive-core/indexing"
	"github.com/mia-systems/cognitive-core/scheduler"
	"github.com/mia-systems/cognitive-core/storage"
)

func openCoordinator() (*storage.Coordinator, *config.CoreConfig, error) {
	initViper()
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	coord, err := storage.Open(storage.Config{
		RootPath:     cfg.RootPath,
		ActiveWindow: time.Duration(cfg.Storage.ActiveWindowDays) * 24 * time.Hour,
		RecentWindow: time.Duration(cfg.Storage.RecentWindowDays) * 24 * time.Hour,
		OpenTierCap:  cfg.Storage.OpenTierCap,
		EventBufSize: cfg.Storage.EventChannelCap,
	})
	if err != nil {
		return nil, nil, err
	}
	return coord, cfg, nil
}

// newStatsCmd prints a quick health snapshot: the configured storage, index
// and scheduler worker settings plus the root path's on-disk size. It
// reports configured values only; no scheduler is built (a live process's
// actual scheduler isn't reachable from a one-shot CLI invocation).
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print storage and scheduler configuration stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, cfg, err := openCoordinator()
			if err != nil {
				return err
			}
			defer coord.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintf(w, "root_path:\t%s\n", cfg.RootPath)
			fmt.Fprintf(w, "active_window_days:\t%d\n", cfg.Storage.ActiveWindowDays)
			fmt.Fprintf(w, "recent_window_days:\t%d\n", cfg.Storage.RecentWindowDays)
			fmt.Fprintf(w, "open_tier_cap:\t%d\n", cfg.Storage.OpenTierCap)
			fmt.Fprintf(w, "hnsw_m / ef_construction / ef_search:\t%d / %d / %d\n",
				cfg.Index.HNSWM, cfg.Index.HNSWEfConstruction, cfg.Index.HNSWEfSearch)
			fmt.Fprintf(w, "scheduler_workers (urgent/normal/low/batch):\t%d/%d/%d/%d\n",
				cfg.Scheduler.WorkersUrgent, cfg.Scheduler.WorkersNormal, cfg.Scheduler.WorkersLow, cfg.Scheduler.WorkersBatch)

			if size, err := rootSize(cfg.RootPath); err == nil {
				fmt.Fprintf(w, "on_disk_size:\t%s\n", humanize.Bytes(size))
			}
			return w.Flush()
		},
	}
}

// newQueryCmd lists messages from a chat within a time window. It exercises
// only the structural side of the query pipeline — full semantic search
// requires an MlBridge implementation, which is supplied by the host
// process embedding this core, not by the diagnostic CLI.
func newQueryCmd() *cobra.Command {
	var chatID string
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List messages for a chat (structural filter only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if chatID == "" {
				return fmt.Errorf("miacore query: --chat is required")
			}
			coord, _, err := openCoordinator()
			if err != nil {
				return err
			}
			defer coord.Close()

			msgs, err := coord.ListMessages(context.Background(), chatID)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintf(w, "TIMESTAMP\tROLE\tTEXT\n")
			for _, m := range msgs {
				fmt.Fprintf(w, "%s\t%s\t%s\n", m.Timestamp.Format(time.RFC3339), m.Role, truncate(m.Text, 80))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id to list messages for")
	return cmd
}

// newReconcileCmd sweeps expired tool results, rebuilds the in-memory
// vector indexes from their committed source of truth, and reports what
// changed.
func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Sweep expired tool results and rebuild vector indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, cfg, err := openCoordinator()
			if err != nil {
				return err
			}
			defer coord.Close()

			ctx := context.Background()
			swept, err := coord.SweepExpiredToolResults(ctx, time.Now().UTC())
			if err != nil {
				return err
			}

			reconciled, err := coord.ReconcileMentionCounts(ctx)
			if err != nil {
				return err
			}

			demoted, err := coord.SweepLifecycle(ctx, time.Now().UTC())
			if err != nil {
				return err
			}

			idxCfg := indexing.HNSWConfig{
				M:              cfg.Index.HNSWM,
				EfConstruction: cfg.Index.HNSWEfConstruction,
				EfSearch:       cfg.Index.HNSWEfSearch,
			}
			fastIdx, err := indexing.RebuildHNSW(ctx, coord, storage.ResolutionFast384, cfg.Embedding.DimFast, idxCfg)
			if err != nil {
				return err
			}
			accIdx, err := indexing.RebuildHNSW(ctx, coord, storage.ResolutionAccurate1536, cfg.Embedding.DimAccurate, idxCfg)
			if err != nil {
				return err
			}

			// LifecycleSweep documents how a long-lived process wires this
			// same reconciliation into the scheduler's SleepMode transition;
			// the one-shot CLI runs it directly above instead of starting a
			// scheduler just to wait out a sleep threshold.
			sched := scheduler.New(scheduler.Config{
				WorkersUrgent:  cfg.Scheduler.WorkersUrgent,
				WorkersNormal:  cfg.Scheduler.WorkersNormal,
				WorkersLow:     cfg.Scheduler.WorkersLow,
				WorkersBatch:   cfg.Scheduler.WorkersBatch,
				LifecycleSweep: func(ctx context.Context) error { return ignoreCount(coord.SweepLifecycle(ctx, time.Now().UTC())) },
			})
			fmt.Printf("swept %d expired tool results\n", swept)
			fmt.Printf("reconciled %d entity mention counts\n", reconciled)
			fmt.Printf("demoted/promoted %d chats by age\n", demoted)
			fmt.Printf("rebuilt fast index: %d vectors\n", fastIdx.Len())
			fmt.Printf("rebuilt accurate index: %d vectors\n", accIdx.Len())
			fmt.Printf("scheduler operation log entries: %d\n", sched.Operations().Stats().Total)
			return nil
		},
	}
}

// ignoreCount adapts a (count, error)-returning sweep into the scheduler's
// Run func(ctx) error task signature.
func ignoreCount(_ int, err error) error { return err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func rootSize(root string) (uint64, error) {
	var total uint64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += uint64(info.Size())
		}
		return nil
	})
	return total, err
}
