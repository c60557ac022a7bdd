// Package pipeline wires the condor collectors, VO map, host probe,
// and report sinks into scheduled collection cycles.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"cagent/internal/condor"
	"cagent/internal/config"
	"cagent/internal/hostinfo"
	"cagent/internal/report"
	"cagent/internal/vomap"
)

// Engine owns the collection cycle lifecycle.
// Params: collectors, VO map source, renderer, and sink.
// Returns: pipeline runtime engine.
type Engine struct {
	site      string
	schedule  string
	collector *condor.Collector
	voSource  *vomap.Source
	prober    hostProber
	renderer  *report.Renderer
	sink      Sink
	logger    *slog.Logger

	newCycleID func() string
	now        func() time.Time
}

type hostProber interface {
	Probe(ctx context.Context) (hostinfo.Facts, error)
}

// NewFromConfig builds the engine from validated configuration.
// Params: ctx lifecycle context for the VO map watcher; cfg validated
// runtime config; logger initialized logger.
// Returns: engine ready to run or error.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	voSource, err := vomap.NewSource(cfg.VOMap.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("init VO map: %w", err)
	}
	if cfg.VOMap.Watch {
		if err := voSource.Watch(ctx); err != nil {
			return nil, fmt.Errorf("watch VO map: %w", err)
		}
	}

	renderer, err := report.NewRenderer(cfg.Report.Template)
	if err != nil {
		return nil, fmt.Errorf("init report renderer: %w", err)
	}

	opts, err := collectorOptions(cfg.Condor)
	if err != nil {
		return nil, err
	}

	runner := condor.NewShellRunner(cfg.Condor.Timeout.Duration, cfg.Condor.Env)

	return &Engine{
		site:       cfg.Agent.Site,
		schedule:   strings.TrimSpace(cfg.Agent.Schedule),
		collector:  condor.NewCollector(runner, resolveCommands(cfg.Condor.Commands), opts, logger),
		voSource:   voSource,
		prober:     hostinfo.NewProber(),
		renderer:   renderer,
		sink:       buildSink(cfg.Report.Output, logger),
		logger:     logger,
		newCycleID: uuid.NewString,
		now:        time.Now,
	}, nil
}

// Run executes collection cycles until the context ends. An empty
// schedule runs exactly one cycle; otherwise cycles follow the cron
// schedule and a still-running cycle suppresses the next tick.
// Params: ctx lifecycle context.
// Returns: cycle error in one-shot mode, nil on graceful stop.
func (e *Engine) Run(ctx context.Context) error {
	if e.schedule == "" {
		return e.runCycle(ctx)
	}

	ticker := cronLogger{logger: e.logger}
	scheduler := cron.New(
		cron.WithLogger(ticker),
		cron.WithChain(cron.SkipIfStillRunning(ticker)),
	)
	if _, err := scheduler.AddFunc(e.schedule, func() {
		if err := e.runCycle(ctx); err != nil {
			e.logger.Error("collection cycle failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("schedule cycles: %w", err)
	}

	e.logger.Info("cycle schedule started", slog.String("schedule", e.schedule))
	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	return nil
}

// runCycle performs one full collection and delivers the rendered report.
// Params: ctx for command cancellation.
// Returns: first collection or delivery error.
func (e *Engine) runCycle(ctx context.Context) error {
	cycleID := e.newCycleID()
	started := e.now()
	resolver := e.voSource.Snapshot()

	version, err := e.collector.Version(ctx)
	if err != nil {
		return fmt.Errorf("collect version: %w", err)
	}
	nodes, err := e.collector.Nodes(ctx)
	if err != nil {
		return fmt.Errorf("collect nodes: %w", err)
	}
	jobs, err := e.collector.Jobs(ctx, resolver)
	if err != nil {
		return fmt.Errorf("collect jobs: %w", err)
	}
	groups, err := e.collector.Groups(ctx, resolver)
	if err != nil {
		return fmt.Errorf("collect groups: %w", err)
	}

	facts, err := e.prober.Probe(ctx)
	if err != nil {
		e.logger.Warn("host probe failed",
			slog.String("cycle", cycleID),
			slog.String("error", err.Error()))
		facts = hostinfo.Facts{}
	}

	pool := report.Pool{
		Site:        e.site,
		CycleID:     cycleID,
		GeneratedAt: started,
		LRMSVersion: version,
		Nodes:       nodes,
		VOJobs:      jobs,
		Groups:      groups,
		Host:        facts,
	}

	var rendered bytes.Buffer
	if err := e.renderer.Render(&rendered, pool); err != nil {
		return err
	}
	if err := e.sink.Consume(ctx, pool, rendered.Bytes()); err != nil {
		return fmt.Errorf("deliver report: %w", err)
	}

	e.logger.Info("collection cycle finished",
		slog.String("cycle", cycleID),
		slog.String("lrms", "condor "+version),
		slog.Int("nodes", nodes.Total),
		slog.Int("vos", len(jobs)),
		slog.Int("groups", len(groups)),
		slog.Duration("elapsed", e.now().Sub(started)),
	)
	return nil
}

// collectorOptions converts condor config values into collector options.
// Params: cfg condor section with defaults applied.
// Returns: collector options or policy parse error.
func collectorOptions(cfg config.CondorConfig) (condor.Options, error) {
	unknownSubmitter, err := condor.ParseUnknownKeyPolicy(cfg.UnknownSubmitter)
	if err != nil {
		return condor.Options{}, fmt.Errorf("condor.unknown_submitter: %w", err)
	}
	unknownGroup, err := condor.ParseUnknownKeyPolicy(cfg.UnknownGroup)
	if err != nil {
		return condor.Options{}, fmt.Errorf("condor.unknown_group: %w", err)
	}

	subtractOwner := true
	if cfg.SubtractOwner != nil {
		subtractOwner = *cfg.SubtractOwner
	}

	return condor.Options{
		SubtractOwner:    subtractOwner,
		UnknownSubmitter: unknownSubmitter,
		UnknownGroup:     unknownGroup,
	}, nil
}

// resolveCommands merges configured command overrides onto the defaults.
// Params: overrides condor.commands section, empty fields keep defaults.
// Returns: effective command set.
func resolveCommands(overrides config.CondorCommandsConfig) condor.Commands {
	commands := condor.DefaultCommands()
	if v := strings.TrimSpace(overrides.Version); v != "" {
		commands.Version = v
	}
	if v := strings.TrimSpace(overrides.Machines); v != "" {
		commands.Status = v
	}
	if v := strings.TrimSpace(overrides.Submitters); v != "" {
		commands.Submitters = v
	}
	if v := strings.TrimSpace(overrides.GroupNames); v != "" {
		commands.Groups = v
	}
	if v := strings.TrimSpace(overrides.GroupQuota); v != "" {
		commands.Quota = v
	}
	if v := strings.TrimSpace(overrides.GroupPrio); v != "" {
		commands.Prio = v
	}
	return commands
}

// buildSink maps report.output to a sink. "stdout" and "-" stream to
// standard output; anything else is a file path replaced atomically.
// Params: output report.output value; logger for the debug sink.
// Returns: composite report sink.
func buildSink(output string, logger *slog.Logger) Sink {
	var primary Sink
	switch output {
	case "stdout", "-":
		primary = NewStreamSink(os.Stdout)
	default:
		primary = NewFileSink(output)
	}
	return NewMultiSink(primary, NewLogSink(logger))
}

// cronLogger adapts slog to the cron scheduler logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{slog.String("error", err.Error())}, keysAndValues...)
	l.logger.Error(msg, args...)
}
