// Command mergekit-demo walks a conflict registry through the common
// detection and resolution flows and prints what happened.
//
// Environment (an optional .env file is loaded first):
//
//	MERGEKIT_POLICY_FILE   YAML/JSON policy applied to the registry and watched for changes
//	MERGEKIT_POLICY_SCHEMA optional JSON Schema the policy file must match
//	MERGEKIT_AUDIT_DB      SQLite file for the resolution audit journal
//	MERGEKIT_METRICS_ADDR  serve Prometheus metrics on this address after the demo
//	LOG_LEVEL, LOG_FORMAT  logger settings; logs go to stderr
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mergeErrors "github.com/c0deZ3R0/go-merge-kit/errors"
	"github.com/c0deZ3R0/go-merge-kit/logging"
	"github.com/c0deZ3R0/go-merge-kit/mergekit"
	mergeprom "github.com/c0deZ3R0/go-merge-kit/metrics/prometheus"
	"github.com/c0deZ3R0/go-merge-kit/storage/sqlite"
)

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed)
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "error loading .env file: %v\n", err)
		os.Exit(1)
	}

	policyFile := flag.String("policy", os.Getenv("MERGEKIT_POLICY_FILE"), "policy file to load and watch")
	auditDB := flag.String("audit-db", os.Getenv("MERGEKIT_AUDIT_DB"), "SQLite audit journal path")
	metricsAddr := flag.String("metrics-addr", os.Getenv("MERGEKIT_METRICS_ADDR"), "serve /metrics on this address after the demo")
	noColor := flag.Bool("no-color", false, "disable colored output")
	flag.Parse()

	if *noColor {
		color.NoColor = true
	}

	logConfig := logging.GetConfigFromEnv()
	logConfig.Output = os.Stderr
	logging.Init(logConfig)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *policyFile, *auditDB, *metricsAddr); err != nil {
		logging.LogError(ctx, err, "Demo failed")
		errColor.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, policyFile, auditDB, metricsAddr string) error {
	logger := logging.Default()
	promRegistry := prom.NewRegistry()

	opts := []mergekit.RegistryOption{
		mergekit.WithLogger(logger),
		mergekit.WithMetrics(mergeprom.NewCollector(promRegistry)),
	}
	if auditDB != "" {
		store, err := sqlite.New(&sqlite.Config{DataSourceName: auditDB, EnableWAL: true, Logger: logger})
		if err != nil {
			return fmt.Errorf("open audit journal: %w", err)
		}
		defer store.Close()
		opts = append(opts, mergekit.WithCaretaker(store))
	}

	registry, err := mergekit.NewRegistry(opts...)
	if err != nil {
		return err
	}

	if policyFile != "" {
		schema, err := mergekit.NewSchemaPolicyValidator(os.Getenv("MERGEKIT_POLICY_SCHEMA"))
		if err != nil {
			return err
		}
		loader := mergekit.NewPolicyLoader(
			mergekit.WithPolicyLogger(logger),
			mergekit.WithPolicyValidator(schema),
			mergekit.WithPolicyWatcher(mergekit.NewRegistryBinder(registry, logger)),
			mergekit.WithPolicyWatcher(mergekit.NewLoggingPolicyWatcher(logger)),
		)
		if err := loader.LoadFromFile(policyFile); err != nil {
			return err
		}
		go func() {
			if err := loader.Watch(ctx, policyFile); err != nil {
				logger.LogError(ctx, err, "Policy watch stopped", slog.String("path", policyFile))
			}
		}()
	}

	titleColor.Println("Options")
	printOptions(registry.Options())

	for _, sc := range scenarios {
		if err := sc.run(ctx, registry); err != nil {
			return fmt.Errorf("%s: %w", sc.name, err)
		}
	}

	printStats(registry.Statistics())

	trail, err := registry.AuditTrail(ctx, "notes.md")
	if err != nil {
		return err
	}
	titleColor.Printf("\nAudit trail for notes.md (%d entries)\n", len(trail))
	for _, m := range trail {
		status := okColor.Sprint("ok")
		if !m.Success {
			status = errColor.Sprint("failed")
		}
		fmt.Printf("  #%d %-16s -> %-16s %s %s\n", m.Attempt, m.RequestedStrategy, m.AppliedStrategy, status, strings.Join(m.Reasons, "; "))
	}

	cleared := registry.ClearResolvedConflicts()
	fmt.Printf("\nCleared %d resolved conflicts, %d still open\n", cleared, len(registry.GetUnresolvedConflicts("")))

	if metricsAddr != "" {
		return serveMetrics(ctx, metricsAddr, promRegistry)
	}
	return nil
}

type scenario struct {
	name string
	run  func(ctx context.Context, r *mergekit.Registry) error
}

var scenarios = []scenario{
	{"disjoint edits", func(ctx context.Context, r *mergekit.Registry) error {
		titleColor.Println("\nDisjoint edits to one file")
		c, err := r.DetectConflict(ctx, request("notes.md",
			"intro\nbody\noutro",
			"Intro\nbody\noutro",
			"intro\nbody\nOutro"))
		if err != nil {
			return err
		}
		printConflict(c)
		return nil
	}},
	{"overlapping edits", func(ctx context.Context, r *mergekit.Registry) error {
		titleColor.Println("\nBoth users rewrote the same line")
		c, err := r.DetectConflict(ctx, request("notes.md",
			"title\nbody",
			"Title by alice\nbody",
			"Title by bob\nbody"))
		if err != nil {
			return err
		}
		printConflict(c)
		if c.Resolved {
			return nil
		}
		res, err := r.ResolveConflict(ctx, c.ID, mergekit.WithStrategy(mergekit.StrategyAutoMerge))
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	}},
	{"large rewrite", func(ctx context.Context, r *mergekit.Registry) error {
		titleColor.Println("\nConcurrent rewrites without a common base")
		c, err := r.DetectConflict(ctx, mergekit.DetectRequest{
			ResourceID:   "config/app.yaml",
			ResourceType: mergekit.ResourceFile,
			Ours:         "port: 8080\nmode: fast",
			Theirs:       "port: 9090\nmode: safe",
			UserID1:      "alice",
			UserID2:      "bob",
		})
		if err != nil {
			return err
		}
		printConflict(c)

		_, err = r.ResolveConflict(ctx, c.ID, mergekit.WithStrategy(mergekit.StrategyManual))
		if errors.Is(err, mergeErrors.ErrManualResolutionRequired) {
			warnColor.Println("  manual strategy needs content, supplying it")
		} else if err != nil {
			return err
		}
		res, err := r.ResolveConflict(ctx, c.ID,
			mergekit.WithStrategy(mergekit.StrategyManual),
			mergekit.WithManualResolution("port: 9090\nmode: fast"))
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	}},
	{"combine", func(ctx context.Context, r *mergekit.Registry) error {
		titleColor.Println("\nTwo comments on the same component")
		c, err := r.DetectConflict(ctx, mergekit.DetectRequest{
			ResourceID:   "components/header",
			ResourceType: mergekit.ResourceComponent,
			Ours:         "<!-- alice: shorten -->",
			Theirs:       "<!-- bob: add logo -->",
			UserID1:      "alice",
			UserID2:      "bob",
		})
		if err != nil {
			return err
		}
		res, err := r.ResolveConflict(ctx, c.ID, mergekit.WithStrategy(mergekit.StrategyCombineBoth))
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	}},
}

func request(resource, base, ours, theirs string) mergekit.DetectRequest {
	return mergekit.DetectRequest{
		ResourceID:   resource,
		ResourceType: mergekit.ResourceFile,
		Base:         &base,
		Ours:         ours,
		Theirs:       theirs,
		UserID1:      "alice",
		UserID2:      "bob",
	}
}

func printOptions(o mergekit.Options) {
	fmt.Printf("  auto_resolve=%t preferred=%s max_severity=%s diff=%s\n",
		o.AutoResolve, o.PreferredStrategy, o.MaxAutoResolveSeverity, o.DiffAlgorithm)
}

func printConflict(c *mergekit.Conflict) {
	if c == nil {
		okColor.Println("  no conflict")
		return
	}
	fmt.Printf("  %s severity=%s type=%s attempts=%d\n", c.ID, c.Metadata.Severity, c.Type, c.Metadata.Attempts)
	if c.Resolved {
		okColor.Printf("  auto-resolved with %s:\n", c.Strategy)
		fmt.Println(indent(c.Resolution))
	} else {
		warnColor.Println("  left for review")
	}
}

func printResult(res mergekit.ResolutionResult) {
	if res.Success {
		okColor.Printf("  resolved with %s:\n", res.Strategy)
	} else {
		warnColor.Printf("  fell back to %s (%d overlapping conflict):\n", res.Strategy, len(res.Conflicts))
	}
	fmt.Println(indent(res.Resolved))
}

func printStats(s mergekit.Stats) {
	titleColor.Println("\nStatistics")
	fmt.Printf("  total=%d resolved=%d unresolved=%d attempts=%d\n",
		s.TotalConflicts, s.ResolvedConflicts, s.UnresolvedConflicts, s.TotalAttempts)
	fmt.Printf("  severity low=%d medium=%d high=%d critical=%d\n",
		s.BySeverity.Low, s.BySeverity.Medium, s.BySeverity.High, s.BySeverity.Critical)
	for _, strategy := range s.Strategies() {
		fmt.Printf("  %s: %d\n", strategy, s.ByStrategy[strategy])
	}
}

func indent(s string) string {
	return "    | " + strings.ReplaceAll(s, "\n", "\n    | ")
}

func serveMetrics(ctx context.Context, addr string, gatherer prom.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	okColor.Printf("\nServing metrics on http://%s/metrics (Ctrl-C to stop)\n", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
