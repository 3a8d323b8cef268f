// Command windlass is the operational CLI for the workflow engine: template
// import, instantiation, zombie sweeps, chain verification, and memory
// decay.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/windlass/pkg/config"
	"github.com/Mindburn-Labs/windlass/pkg/contracts"
	"github.com/Mindburn-Labs/windlass/pkg/dsl"
	"github.com/Mindburn-Labs/windlass/pkg/engine"
	"github.com/Mindburn-Labs/windlass/pkg/events"
	"github.com/Mindburn-Labs/windlass/pkg/guard"
	"github.com/Mindburn-Labs/windlass/pkg/ledger"
	"github.com/Mindburn-Labs/windlass/pkg/observability"
	"github.com/Mindburn-Labs/windlass/pkg/store"
	"github.com/Mindburn-Labs/windlass/pkg/sweeper"
	"github.com/Mindburn-Labs/windlass/pkg/template"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint; split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "import":
		return runImport(args[2:], stdout, stderr)
	case "instantiate":
		return runInstantiate(args[2:], stdout, stderr)
	case "sweep":
		return runSweep(args[2:], stdout, stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "decay":
		return runDecay(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Usage: windlass <command> [flags]

Commands:
  import       validate and import a workflow template YAML
  instantiate  materialize an instance of an imported template
  sweep        run the zombie sweeper (one-shot or as a loop)
  verify       replay and verify a UOW's history chain
  decay        delete superseded attribute versions past retention

Configuration via WINDLASS_* environment variables (database URL, event
sink, thresholds, telemetry).`)
}

// bootstrap opens the store and event sink per config.
func bootstrap(cfg *config.Config, stderr io.Writer) (store.Store, *events.Emitter, func(), error) {
	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	var sink events.Sink
	switch cfg.EventSink {
	case "redis":
		sink, err = events.NewRedisSinkURL(cfg.RedisURL, 0)
	case "memory":
		sink = events.NewMemorySink()
	default:
		sink, err = events.NewFileSink(cfg.EventFilePath, cfg.EventRate)
	}
	if err != nil {
		_ = st.Close()
		return nil, nil, nil, fmt.Errorf("open event sink: %w", err)
	}

	emitter := events.NewEmitter(sink, logger)
	cleanup := func() {
		_ = emitter.Close()
		_ = st.Close()
	}
	return st, emitter, cleanup, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func newEngine(cfg *config.Config, st store.Store, emitter *events.Emitter) *engine.Engine {
	guards := guard.NewEngine(dsl.NewRegistry(), slog.Default())
	eng := engine.New(st, guards, emitter, slog.Default()).WithDeadFails(cfg.DeadFails)
	if len(cfg.HighRisk) > 0 {
		statuses := make([]contracts.UOWStatus, 0, len(cfg.HighRisk))
		for _, s := range cfg.HighRisk {
			statuses = append(statuses, contracts.UOWStatus(s))
		}
		eng = eng.WithHighRisk(statuses...)
	}
	return eng
}

func runImport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "template YAML path (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		_, _ = fmt.Fprintln(stderr, "import: -file is required")
		return 2
	}

	cfg := config.Load()
	st, _, cleanup, err := bootstrap(cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	defer cleanup()

	tpl, err := template.NewImporter(st, slog.Default()).ImportFile(context.Background(), *file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "import failed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "imported template %s (%s %s)\n", tpl.ID, tpl.Name, tpl.Version)
	return 0
}

func runInstantiate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("instantiate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	templateID := fs.String("template", "", "template id (required)")
	name := fs.String("name", "", "instance name")
	contextJSON := fs.String("context", "{}", "initial context attributes as JSON object")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *templateID == "" {
		_, _ = fmt.Fprintln(stderr, "instantiate: -template is required")
		return 2
	}
	var initial map[string]any
	if err := json.Unmarshal([]byte(*contextJSON), &initial); err != nil {
		_, _ = fmt.Fprintf(stderr, "instantiate: bad -context: %v\n", err)
		return 2
	}

	cfg := config.Load()
	st, emitter, cleanup, err := bootstrap(cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	defer cleanup()

	instanceID, err := newEngine(cfg, st, emitter).Instantiate(context.Background(), *templateID, *name, initial)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "instantiate failed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "instance %s\n", instanceID)
	return 0
}

func runSweep(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	fs.SetOutput(stderr)
	loop := fs.Bool("loop", false, "keep sweeping on the configured interval until interrupted")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	st, emitter, cleanup, err := bootstrap(cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	defer cleanup()

	obs, err := observability.New(context.Background(), &observability.Config{
		ServiceName:  "windlass",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.TelemetryEnabled,
		Insecure:     true,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "telemetry init failed: %v\n", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	sw := sweeper.New(st, emitter, slog.Default(), cfg.SoftThreshold, cfg.HardThreshold).
		WithDeadFails(cfg.DeadFails).
		WithObservability(obs)

	if !*loop {
		report, err := sw.SweepOnce(context.Background())
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "sweep failed: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "soft_zombied=%d reclaimed=%d failed=%d\n",
			report.SoftZombied, report.Reclaimed, report.Failed)
		return 0
	}

	if err := sw.Start(cfg.SweepInterval); err != nil {
		_, _ = fmt.Fprintf(stderr, "sweeper start failed: %v\n", err)
		return 1
	}
	defer sw.Stop()
	_, _ = fmt.Fprintf(stdout, "sweeping every %s (soft=%s hard=%s); Ctrl-C to stop\n",
		cfg.SweepInterval, cfg.SoftThreshold, cfg.HardThreshold)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	return 0
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	uowID := fs.String("uow", "", "UOW id to verify (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *uowID == "" {
		_, _ = fmt.Fprintln(stderr, "verify: -uow is required")
		return 2
	}

	cfg := config.Load()
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	tx, err := st.Begin(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "verify: %v\n", err)
		return 1
	}
	defer func() { _ = tx.Rollback() }()

	if err := ledger.VerifyUOW(ctx, tx, *uowID); err != nil {
		_, _ = fmt.Fprintf(stderr, "chain verification failed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "uow %s: chain verified\n", *uowID)
	return 0
}

func runDecay(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("decay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	days := fs.Int("retention-days", 30, "delete superseded attribute versions older than this many days")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *days <= 0 {
		_, _ = fmt.Fprintln(stderr, "decay: -retention-days must be positive")
		return 2
	}

	cfg := config.Load()
	st, emitter, cleanup, err := bootstrap(cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	defer cleanup()

	report, err := newEngine(cfg, st, emitter).MemoryDecay(context.Background(), time.Duration(*days)*24*time.Hour)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "decay failed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "attributes_deleted=%d\n", report.AttributesDeleted)
	return 0
}
