// Package cli builds the resqueworker command line, grounded on ChuLiYu
// raft-recovery internal/cli/cli.go: a cobra root command, a YAML config
// file read through a --config flag, a background metrics server goroutine,
// and signal.Notify-driven graceful shutdown -- generalized here from that
// repo's single-process run/enqueue/status trio to this system's
// supervisor/child-re-exec/enqueue/status quartet.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/remiges-tech/logharbour/logharbour"
	"github.com/spf13/cobra"

	"github.com/szhyhun/resque/config"
	"github.com/szhyhun/resque/hook"
	"github.com/szhyhun/resque/payload"
	"github.com/szhyhun/resque/prune"
	"github.com/szhyhun/resque/redisstore"
	"github.com/szhyhun/resque/stats"
	"github.com/szhyhun/resque/worker"
)

var configPath string

// Execute builds and runs the resqueworker root command.
func Execute() error {
	root := &cobra.Command{
		Use:   "resqueworker",
		Short: "A Redis-backed background job worker",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(buildWorkCommand())
	root.AddCommand(buildEnqueueCommand())
	root.AddCommand(buildStatusCommand())
	return root.Execute()
}

func newLogger(name string) *logharbour.Logger {
	return logharbour.NewLogger(logharbour.NewLoggerContext(logharbour.Info), name, os.Stdout)
}

func newStore(cfg config.Config) *redisstore.Store {
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	return redisstore.New(client, redisstore.WithNamespace(cfg.Redis.Namespace))
}

func buildWorkCommand() *cobra.Command {
	var isChild bool
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run the supervisor and its pool of child processors",
		RunE: func(cmd *cobra.Command, args []string) error {
			if isChild {
				return runChild()
			}
			return runSupervisor()
		},
	}
	cmd.Flags().BoolVar(&isChild, "child", false, "internal re-exec entrypoint for one child processor")
	cmd.Flags().MarkHidden("child")
	return cmd
}

// runSupervisor is the "resqueworker work" entrypoint (spec.md 4.5). It
// loads config, wires the Pruner, starts the Prometheus endpoint if
// enabled, and blocks until the process receives a shutdown signal.
func runSupervisor() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger("resqueworker")
	store := newStore(cfg)

	identity, err := worker.NewIdentity(cfg.Queues)
	if err != nil {
		return err
	}

	pruner := prune.New(store, identity, cfg.HeartbeatInterval.Duration(), cfg.PruneInterval.Duration(), logger)

	sup, err := worker.NewSupervisor(identity, store, pruner, logger, worker.Config{
		WorkerCount:       cfg.WorkerCount,
		JobsPerFork:       cfg.JobsPerFork,
		ThreadCount:       cfg.ThreadCount,
		TermTimeout:       cfg.TermTimeout.Duration(),
		HeartbeatInterval: cfg.HeartbeatInterval.Duration(),
		PruneInterval:     cfg.PruneInterval.Duration(),
		PruneOnStartup:    cfg.PruneOnStartup,
		ProclinePrefix:    cfg.ProclinePrefix,
		ChildEnv: map[string]string{
			"RESQUE_REDIS_ADDR":      cfg.Redis.Addr,
			"RESQUE_REDIS_NAMESPACE": cfg.Redis.Namespace,
		},
	})
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, store, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return sup.Work(ctx, 5*time.Second)
}

// serveMetrics starts the C12 Prometheus endpoint: a fresh registry holding
// only the stats.PrometheusBridge pull collector over the shared counters;
// no Go-runtime or process collectors are registered (alya
// metrics/prometheus_metrics.go's
// StartMetricsServer, generalized from a single global registry to one
// scoped to this process and this bridge).
func serveMetrics(addr string, store *redisstore.Store, logger *logharbour.Logger) {
	if addr == "" {
		addr = ":9090"
	}
	reg := prometheus.NewRegistry()
	bridge := stats.NewPrometheusBridge(stats.NewCounters(store), store.WorkerIDs)
	reg.MustRegister(bridge)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info().LogActivity("metrics server starting", map[string]any{"addr": addr})
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error(err).LogActivity("metrics server stopped", nil)
	}
}

// runChild is the "resqueworker work --child" re-exec entrypoint
// (spec.md 4.6). Configuration arrives entirely through the environment
// variables worker.Supervisor.forkChild sets, never through --config, so a
// re-exec never depends on the original process's flags surviving.
func runChild() error {
	queues := splitQueues(os.Getenv("RESQUE_CHILD_QUEUES"))
	interval, err := parseSecondsEnv("RESQUE_CHILD_INTERVAL")
	if err != nil {
		return err
	}
	termTimeout, err := parseSecondsEnv("RESQUE_TERM_TIMEOUT")
	if err != nil {
		return err
	}
	jobsPerFork, err := strconv.Atoi(os.Getenv("RESQUE_JOBS_PER_FORK"))
	if err != nil || jobsPerFork < 1 {
		jobsPerFork = 1
	}

	store := redisstore.New(
		redis.NewClient(&redis.Options{Addr: envOr("RESQUE_REDIS_ADDR", "127.0.0.1:6379")}),
		redisstore.WithNamespace(envOr("RESQUE_REDIS_NAMESPACE", redisstore.DefaultNamespace)),
	)
	logger := newLogger("resqueworker-child")

	registry := hook.NewRegistry()
	registerBuiltinJobs(registry)

	return worker.RunChild(context.Background(), store, registry, worker.ChildConfig{
		ConfiguredQueues: queues,
		JobsPerFork:      jobsPerFork,
		PollInterval:     interval,
		TermTimeout:      termTimeout,
	}, logger)
}

func buildEnqueueCommand() *cobra.Command {
	var queue, class, argsJSON string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Push one job onto a queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			var decoded []any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &decoded); err != nil {
					return fmt.Errorf("cli: parse --args: %w", err)
				}
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store := newStore(cfg)
			id, err := payload.Create(context.Background(), store, queue, class, decoded, nil)
			if err != nil {
				return err
			}
			fmt.Printf("enqueued %s on %s with id %s\n", class, queue, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&queue, "queue", "default", "queue to push onto")
	cmd.Flags().StringVar(&class, "class", "", "job class name")
	cmd.Flags().StringVar(&argsJSON, "args", "[]", "JSON array of job arguments")
	cmd.MarkFlagRequired("class")
	return cmd
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show registered workers and fleet-wide counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store := newStore(cfg)
			ctx := context.Background()

			ids, err := store.WorkerIDs(ctx)
			if err != nil {
				return err
			}
			counters := stats.NewCounters(store)
			processed, err := counters.Processed(ctx)
			if err != nil {
				return err
			}
			failed, err := counters.Failed(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("workers: %d\n", len(ids))
			for _, id := range ids {
				p, _ := counters.ProcessedBy(ctx, id)
				f, _ := counters.FailedBy(ctx, id)
				fmt.Printf("  %s  processed=%d failed=%d\n", id, p, f)
			}
			fmt.Printf("total processed=%d failed=%d\n", processed, failed)
			return nil
		},
	}
}

func splitQueues(v string) []string {
	if v == "" {
		return []string{"default"}
	}
	var out []string
	for _, q := range splitComma(v) {
		if q != "" {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return []string{"default"}
	}
	return out
}

func splitComma(v string) []string {
	var out []string
	start := 0
	for i := 0; i < len(v); i++ {
		if v[i] == ',' {
			out = append(out, v[start:i])
			start = i + 1
		}
	}
	out = append(out, v[start:])
	return out
}

func parseSecondsEnv(name string) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("cli: %s: %w", name, err)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
