package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/catherinevee/driftcert/internal/concurrency"
	"github.com/catherinevee/driftcert/internal/config"
	"github.com/catherinevee/driftcert/internal/fleet"
	"github.com/catherinevee/driftcert/internal/forge"
	"github.com/catherinevee/driftcert/internal/llm"
	"github.com/catherinevee/driftcert/internal/logger"
	"github.com/catherinevee/driftcert/internal/orchestrator"
	"github.com/catherinevee/driftcert/internal/policy"
	"github.com/catherinevee/driftcert/internal/store"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		showHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "sync":
		runSync(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("driftcert %s\n", version)
	case "help", "--help", "-h":
		showHelp()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		showHelp()
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Println("Usage: driftcert <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  sync       Reconcile the service registry with the roster and create missing baselines")
	fmt.Println("  validate   Run the drift validation pipeline for one or more services")
	fmt.Println("  version    Show version information")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  driftcert sync --config driftcert.yaml")
	fmt.Println("  driftcert validate --config driftcert.yaml --service payments-api --env prod")
	fmt.Println("  driftcert validate --service payments-api,billing-api --env staging")
}

// setup loads config, initialises logging and opens the shared collaborators
func setup(configPath string) (*config.Config, *store.Store, forge.Client, *policy.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	logger.Initialize(logger.LogConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})

	st, err := store.New(&store.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, nil, nil, nil, err
	}

	fc := forge.NewGitLabClient(cfg.Forge.BaseURL, forge.Credentials{
		Token:    cfg.Forge.Token,
		User:     cfg.Forge.User,
		Password: os.Getenv("DRIFTCERT_FORGE_PASSWORD"),
	}, cfg.TempDir)

	var policies *policy.Config
	if cfg.Policy.Path != "" {
		policies, err = policy.Load(cfg.Policy.Path)
		if err != nil {
			st.Close()
			return nil, nil, nil, nil, err
		}
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr)
	}

	return cfg, st, fc, policies, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Get().Error("metrics endpoint failed", logger.Err(err))
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configPath := fs.String("config", "driftcert.yaml", "config file path")
	fs.Parse(args)

	cfg, st, fc, _, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sync: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := signalContext()
	defer cancel()

	engine := fleet.NewEngine(st, fc, cfg.Roster.MasterPath, cfg.Roster.DetailPath)
	result, err := engine.Sync(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sync: %v\n", err)
		os.Exit(1)
	}

	if result.NoOp {
		fmt.Println("roster unchanged, nothing to do")
		return
	}
	fmt.Printf("sync complete: %d added, %d updated, %d unchanged, %d reactivated, %d deactivated, %d branches created\n",
		result.Added, result.Updated, result.Unchanged, result.Reactivated, result.Deactivated, result.BranchesCreated)
	if len(result.Errors) > 0 {
		fmt.Fprintf(os.Stderr, "sync finished with %d errors:\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "  %s\n", e)
		}
		os.Exit(1)
	}
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "driftcert.yaml", "config file path")
	services := fs.String("service", "", "service id, or comma-separated list")
	environment := fs.String("env", "", "environment tag")
	parallel := fs.Int("parallel", 3, "concurrent validation runs")
	fs.Parse(args)

	if *services == "" || *environment == "" {
		fmt.Fprintln(os.Stderr, "validate: --service and --env are required")
		os.Exit(1)
	}

	cfg, st, fc, policies, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "validate: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	client, err := llm.NewAnthropicFromEnv(cfg.LLM.Model, cfg.LLM.Timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "validate: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	orch := orchestrator.New(orchestrator.RunContext{
		Store:    st,
		Forge:    fc,
		LLM:      client,
		Policies: policies,
		TempRoot: cfg.TempDir,
	})

	ids := splitList(*services)
	pool := concurrency.NewWorkerPool(*parallel)
	results := make(chan string, len(ids))

	for _, serviceID := range ids {
		serviceID := serviceID
		err := pool.Submit(func() {
			cert, err := orch.Run(ctx, serviceID, *environment)
			if err != nil {
				results <- fmt.Sprintf("%s: FAILED: %v", serviceID, err)
				return
			}
			results <- fmt.Sprintf("%s: %s (score %.1f, run %s)",
				serviceID, cert.Decision, cert.ConfidenceScore, cert.RunID)
		})
		if err != nil {
			results <- fmt.Sprintf("%s: FAILED: %v", serviceID, err)
		}
	}

	failed := false
	for range ids {
		line := <-results
		fmt.Println(line)
		if strings.Contains(line, "FAILED") {
			failed = true
		}
	}
	pool.Shutdown(5 * time.Second)

	if failed {
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
