// Package clicmd builds the boss command-line interface, grounded on the
// teacher's internal/cli.BuildCLI: one cobra root command, a persistent
// --config flag, and subcommands that load YAML config then wire the
// fabric's components together. main.go stays a one-liner calling
// BuildCLI().Execute(), the same "all logic lives in internal/cli"
// principle the teacher's own cli.go documents.
package clicmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/risa-labs-inc/boss/internal/alert"
	"github.com/risa-labs-inc/boss/internal/config"
	"github.com/risa-labs-inc/boss/internal/evolver"
	"github.com/risa-labs-inc/boss/internal/mastery"
	"github.com/risa-labs-inc/boss/internal/metricsstore"
	"github.com/risa-labs-inc/boss/internal/monitoringapi"
	"github.com/risa-labs-inc/boss/internal/promexport"
	"github.com/risa-labs-inc/boss/internal/registry"
	"github.com/risa-labs-inc/boss/internal/resolver"
	"github.com/risa-labs-inc/boss/internal/retry"
	"github.com/risa-labs-inc/boss/internal/testresolvers"
	"github.com/risa-labs-inc/boss/pkg/task"
)

var configFile string

// BuildCLI assembles the boss root command and its subcommands.
func BuildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:     "boss",
		Short:   "boss: a composable task-resolution fabric",
		Version: "0.1.0",
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	root.AddCommand(buildRunCommand())
	root.AddCommand(buildSubmitCommand())
	root.AddCommand(buildComposeCommand())
	root.AddCommand(buildStatusCommand())
	return root
}

func loadConfig() (config.Config, error) {
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(configFile)
}

func buildRunCommand() *cobra.Command {
	var demoResolvers bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the fabric: executor, evolver, metrics store, alerts, and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFabric(demoResolvers)
		},
	}
	cmd.Flags().BoolVar(&demoResolvers, "demo-resolvers", false, "register the echo/flaky demo resolvers on startup")
	return cmd
}

func runFabric(demoResolvers bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("boss: loading config: %w", err)
	}

	resolvers := registry.New()
	if demoResolvers {
		_ = resolvers.Register(testresolvers.NewEcho("echo", resolver.Version{Major: 1}))
		_ = resolvers.Register(testresolvers.NewFlaky("flaky", resolver.Version{Major: 1}, 2))
	}

	snapshots := registry.NewSnapshotManager(cfg.Registry.SnapshotPath)
	if snap, err := snapshots.Load(); err == nil && len(snap.Entries) > 0 {
		fmt.Printf("boss: loaded registry snapshot with %d entries (identity/health only; resolvers must be re-registered)\n", len(snap.Entries))
	}
	resolvers.OnChanged(func() {
		if err := snapshots.Write(resolvers.Snapshot()); err != nil {
			fmt.Fprintf(os.Stderr, "boss: writing registry snapshot: %v\n", err)
		}
	})

	metrics, err := metricsstore.Open(metricsstore.Config{
		Path:             cfg.Metrics.Path,
		BatchSize:        cfg.Metrics.BatchSize,
		FlushInterval:    cfg.Metrics.FlushInterval,
		DefaultRetention: cfg.Metrics.DefaultRetention,
	})
	if err != nil {
		return fmt.Errorf("boss: opening metrics store: %w", err)
	}
	defer metrics.Close()

	promCollector := promexport.NewCollector()

	plans := registry.NewMasteryRegistry[*mastery.Plan]()
	executor := mastery.NewExecutor(resolvers, mastery.ExecutorConfig{
		WorkerCount:     cfg.Executor.WorkerCount,
		StepTimeout:     cfg.Executor.StepTimeout,
		BufferSize:      cfg.Executor.BufferSize,
		HistoryCapacity: cfg.Executor.HistoryCapacity,
		RetryPolicy:     retryDefaultPolicy(cfg),
	})
	composer := mastery.NewComposer(resolvers)

	alerts := alert.NewManager(metrics)
	alerts.AddRule(alert.Rule{
		Name:     "resolver-registry-empty",
		Severity: alert.SeverityHigh,
		Cooldown: time.Minute,
		Check: func(ctx context.Context, store *metricsstore.Store) (bool, string, error) {
			all, err := resolvers.Search(registry.SearchOptions{})
			if err != nil {
				return false, "", err
			}
			return len(all) == 0, "no resolvers registered", nil
		},
	})

	evo := evolver.New(resolvers, nil, evolver.Config{
		FailureThreshold:     cfg.Evolver.FailureThreshold,
		MinEvolutionInterval: cfg.Evolver.MinEvolutionInterval,
		FailureWindowSize:    cfg.Evolver.FailureWindowSize,
		HistorySize:          cfg.Evolver.HistorySize,
	})
	evo.OnHumanInterventionRequired(func(resolverName, reason string, record evolver.EvolutionRecord) {
		alerts.Fire("evolution-needs-human/"+resolverName, alert.SeverityCritical, reason)
		promCollector.RecordEvolution(false)
	})

	executor.OnResolverFailure(func(resolverName string, taskID task.ID, failure task.TaskError) {
		promCollector.RecordFailed()
		evo.RecordFailure(resolverName, evolver.FailureRecord{
			TaskID:    taskID,
			ErrorKind: failure.Kind,
			Message:   failure.Message,
			At:        time.Now(),
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alerts.Start(ctx, cfg.Alerts.EvaluationInterval)
	defer alerts.Stop()

	if cfg.HTTP.MetricsPort > 0 {
		go func() {
			if err := promexport.StartServer(cfg.HTTP.MetricsPort); err != nil {
				fmt.Fprintf(os.Stderr, "boss: prometheus exporter stopped: %v\n", err)
			}
		}()
	}

	if cfg.HTTP.Enabled {
		api := &monitoringapi.Server{
			Resolvers: resolvers,
			Plans:     plans,
			Executor:  executor,
			Composer:  composer,
			Evolver:   evo,
			Metrics:   metrics,
			Alerts:    alerts,
		}
		srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "boss: http server stopped: %v\n", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		fmt.Printf("boss: monitoring API listening on %s\n", cfg.HTTP.Addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("boss: shutting down")
	return nil
}

func buildSubmitCommand() *cobra.Command {
	var server, plan, inputFile string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Execute a registered Mastery Plan against a running fabric",
		RunE: func(cmd *cobra.Command, args []string) error {
			input := map[string]any{}
			if inputFile != "" {
				data, err := os.ReadFile(inputFile)
				if err != nil {
					return fmt.Errorf("boss: reading input file: %w", err)
				}
				if err := json.Unmarshal(data, &input); err != nil {
					return fmt.Errorf("boss: parsing input file: %w", err)
				}
			}
			return postJSON(fmt.Sprintf("%s/v1/mastery/%s/execute", server, plan), map[string]any{"input": input})
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "monitoring API base URL")
	cmd.Flags().StringVar(&plan, "plan", "", "registered Mastery Plan name")
	cmd.Flags().StringVar(&inputFile, "input", "", "JSON file with the plan's input")
	cmd.MarkFlagRequired("plan")
	return cmd
}

func buildComposeCommand() *cobra.Command {
	var server, description string
	var persist bool
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Synthesize a Mastery Plan from a free-text description",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(server+"/v1/mastery/compose", map[string]any{
				"description": description,
				"persist":     persist,
			})
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "monitoring API base URL")
	cmd.Flags().StringVar(&description, "description", "", "free-text task description")
	cmd.Flags().BoolVar(&persist, "persist", false, "register the composed plan in the Mastery Registry")
	cmd.MarkFlagRequired("description")
	return cmd
}

func buildStatusCommand() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running fabric's resolver registry and health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(server + "/v1/resolvers")
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "monitoring API base URL")
	return cmd
}

func postJSON(url string, body map[string]any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("boss: request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func getJSON(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("boss: request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	var pretty any
	if err := json.NewDecoder(resp.Body).Decode(&pretty); err != nil {
		return fmt.Errorf("boss: decoding response: %w", err)
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("boss: server returned %s", resp.Status)
	}
	return nil
}

// retryDefaultPolicy translates the YAML retry config into the
// retry.Policy every Mastery Executor step call runs under.
func retryDefaultPolicy(cfg config.Config) retry.Policy {
	strategy := retry.Exponential
	switch cfg.Retry.Strategy {
	case "constant":
		strategy = retry.Constant
	case "linear":
		strategy = retry.Linear
	case "fibonacci":
		strategy = retry.Fibonacci
	case "jittered":
		strategy = retry.Jittered
	}
	return retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Strategy:    strategy,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
}
