package condor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"cagent/internal/classad"
)

// Submitter and machine attributes read from the status listings.
const (
	attrName           = "Name"
	attrState          = "State"
	attrRunningJobs    = "RunningJobs"
	attrIdleJobs       = "IdleJobs"
	attrHeldJobs       = "HeldJobs"
	attrMaxJobsRunning = "MaxJobsRunning"
)

// Machine states with dedicated accounting.
const (
	stateClaimed   = "Claimed"
	stateUnclaimed = "Unclaimed"
	stateOwner     = "Owner"
)

// notDefinedSentinel prefixes condor_config_val output for unset keys.
const notDefinedSentinel = "Not defined"

// versionPrefix starts the version line of condor_version output.
const versionPrefix = "$CondorVersion:"

// Commands holds the templated condor command lines issued by the
// collector. Quota and Prio carry a {group} placeholder expanded per
// accounting group.
type Commands struct {
	Version    string
	Status     string
	Submitters string
	Groups     string
	Quota      string
	Prio       string
}

// DefaultCommands returns the stock condor tool invocations.
// Params: none.
// Returns: command set using the tools from PATH.
func DefaultCommands() Commands {
	return Commands{
		Version:    "condor_version",
		Status:     "condor_status -xml",
		Submitters: "condor_status -submitter -xml",
		Groups:     "condor_config_val GROUP_NAMES",
		Quota:      "condor_config_val GROUP_QUOTA_group_{group}",
		Prio:       "condor_config_val GROUP_PRIO_FACTOR_group_{group}",
	}
}

// UnknownKeyPolicy selects how a collector treats names the VO map
// cannot resolve.
type UnknownKeyPolicy uint8

const (
	// SkipUnknown logs the unresolved name and drops its record.
	SkipUnknown UnknownKeyPolicy = iota
	// FailUnknown aborts the whole collection call.
	FailUnknown
)

// ParseUnknownKeyPolicy converts the config spelling of a policy.
// Params: value "skip" or "fail", case-insensitive.
// Returns: parsed policy or error for unsupported values.
func ParseUnknownKeyPolicy(value string) (UnknownKeyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "skip":
		return SkipUnknown, nil
	case "fail":
		return FailUnknown, nil
	default:
		return SkipUnknown, fmt.Errorf("unsupported unknown-key policy %q", value)
	}
}

// Resolver maps an account or accounting-group name to its VO.
type Resolver interface {
	Resolve(name string) (string, error)
}

// NodeTotals counts pool machines by claim state.
type NodeTotals struct {
	Total     int
	Claimed   int
	Unclaimed int
}

// JobTotals sums submitter queue counters for one VO.
type JobTotals struct {
	Running    int
	Idle       int
	Held       int
	MaxRunning int
}

// GroupTotals sums accounting-group quota and priority factor for one VO.
type GroupTotals struct {
	Quota int
	Prio  int
}

// Options tunes collector behavior per pool site.
type Options struct {
	// SubtractOwner removes Owner-state machines from the total,
	// keeping desktop cycle-scavenging nodes out of capacity figures.
	SubtractOwner bool
	// UnknownSubmitter governs submitters without a VO mapping.
	UnknownSubmitter UnknownKeyPolicy
	// UnknownGroup governs accounting groups without a VO mapping.
	UnknownGroup UnknownKeyPolicy
}

// Collector issues the condor status commands and folds their output
// into pool summaries. Every call runs its commands sequentially and
// builds fresh state; no state is shared across calls.
type Collector struct {
	runner   Runner
	commands Commands
	opts     Options
	logger   *slog.Logger
}

// NewCollector creates a collector over the given command runner.
// Params: runner command gateway; commands templated tool invocations;
// opts site tuning; logger for per-record diagnostics.
// Returns: configured collector.
func NewCollector(runner Runner, commands Commands, opts Options, logger *slog.Logger) *Collector {
	return &Collector{
		runner:   runner,
		commands: commands,
		opts:     opts,
		logger:   logger,
	}
}

// Version runs the version command and extracts the condor version.
// Params: ctx for cancellation.
// Returns: text after the version marker, or error when no line matches.
func (c *Collector) Version(ctx context.Context) (string, error) {
	out, err := c.collectText(ctx, c.commands.Version, nil)
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, versionPrefix) {
			return strings.TrimSpace(line[len(versionPrefix):]), nil
		}
	}

	err = fmt.Errorf("no version line in output of %q", c.commands.Version)
	c.logger.Error("condor version probe failed",
		slog.String("command", c.commands.Version),
		slog.String("error", err.Error()))
	return "", err
}

// Nodes tallies pool machines by state from the machine listing.
// Params: ctx for cancellation.
// Returns: node totals or command/parse error.
func (c *Collector) Nodes(ctx context.Context) (NodeTotals, error) {
	table, err := c.collectAds(ctx, c.commands.Status, classad.Config{
		IndexAttr: attrName,
		Attrs:     []string{attrState},
	})
	if err != nil {
		return NodeTotals{}, err
	}

	var totals NodeTotals
	for _, ad := range table {
		totals.Total++
		state, ok := ad[attrState]
		if !ok {
			continue
		}
		switch state {
		case stateClaimed:
			totals.Claimed++
		case stateUnclaimed:
			totals.Unclaimed++
		case stateOwner:
			if c.opts.SubtractOwner {
				totals.Total--
			}
		}
	}
	return totals, nil
}

// Jobs sums per-VO queue counters from the submitter listing. The part
// of the submitter name before the first @ resolves through the VO
// map; resolved VOs are lower-cased. The unknown-submitter policy
// decides whether unresolved names drop the record or fail the call.
// Params: ctx for cancellation; resolver name-to-VO lookup.
// Returns: totals keyed by lower-cased VO, or error.
func (c *Collector) Jobs(ctx context.Context, resolver Resolver) (map[string]JobTotals, error) {
	table, err := c.collectAds(ctx, c.commands.Submitters, classad.Config{
		IndexAttr: attrName,
		Attrs:     []string{attrRunningJobs, attrIdleJobs, attrHeldJobs, attrMaxJobsRunning},
	})
	if err != nil {
		return nil, err
	}

	totals := make(map[string]JobTotals)
	for submitter, ad := range table {
		user, _, _ := strings.Cut(submitter, "@")

		vo, err := resolver.Resolve(user)
		if err != nil {
			if c.opts.UnknownSubmitter == FailUnknown {
				return nil, fmt.Errorf("resolve submitter %q: %w", user, err)
			}
			c.logger.Warn("dropping submitter without VO mapping",
				slog.String("submitter", submitter),
				slog.String("user", user))
			continue
		}
		vo = strings.ToLower(vo)

		entry := totals[vo]
		addInt(&entry.Running, ad, attrRunningJobs)
		addInt(&entry.Idle, ad, attrIdleJobs)
		addInt(&entry.Held, ad, attrHeldJobs)
		addInt(&entry.MaxRunning, ad, attrMaxJobsRunning)
		totals[vo] = entry
	}
	return totals, nil
}

// Groups sums quota and priority factor per VO across the configured
// accounting groups. When GROUP_NAMES is unset (sentinel output or
// nothing) the pool has no group accounting and the summary is empty
// without issuing per-group queries.
// Params: ctx for cancellation; resolver group-to-VO lookup.
// Returns: totals keyed by VO, or error.
func (c *Collector) Groups(ctx context.Context, resolver Resolver) (map[string]GroupTotals, error) {
	out, err := c.collectText(ctx, c.commands.Groups, nil)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]GroupTotals)
	trimmed := strings.TrimSpace(out)
	if trimmed == "" || strings.HasPrefix(trimmed, notDefinedSentinel) {
		return totals, nil
	}

	for _, group := range strings.Split(trimmed, ",") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}

		params := map[string]string{"group": group}
		quota, err := c.collectText(ctx, c.commands.Quota, params)
		if err != nil {
			return nil, err
		}
		prio, err := c.collectText(ctx, c.commands.Prio, params)
		if err != nil {
			return nil, err
		}

		vo, err := resolver.Resolve(group)
		if err != nil {
			if c.opts.UnknownGroup == SkipUnknown {
				c.logger.Warn("dropping accounting group without VO mapping",
					slog.String("group", group))
				continue
			}
			return nil, fmt.Errorf("resolve accounting group %q: %w", group, err)
		}

		entry := totals[vo]
		addRawInt(&entry.Quota, quota)
		addRawInt(&entry.Prio, prio)
		totals[vo] = entry
	}
	return totals, nil
}

// collectAds runs a status command and parses its ClassAd XML stdout.
// Command failure takes precedence over parse failure, since a failing
// tool usually explains the truncated document.
func (c *Collector) collectAds(ctx context.Context, command string, cfg classad.Config) (classad.Table, error) {
	parser, err := classad.New(cfg)
	if err != nil {
		return nil, err
	}

	stream, err := c.runner.Run(ctx, command, nil)
	if err != nil {
		return nil, err
	}

	table, parseErr := parser.Parse(stream)
	if closeErr := stream.Close(); closeErr != nil {
		return nil, closeErr
	}
	if parseErr != nil {
		return nil, fmt.Errorf("command %q: %w", command, parseErr)
	}
	return table, nil
}

// collectText runs a command and returns its whole stdout as text.
func (c *Collector) collectText(ctx context.Context, command string, params map[string]string) (string, error) {
	stream, err := c.runner.Run(ctx, command, params)
	if err != nil {
		return "", err
	}

	payload, readErr := io.ReadAll(stream)
	if closeErr := stream.Close(); closeErr != nil {
		return "", closeErr
	}
	if readErr != nil {
		return "", fmt.Errorf("read output of %q: %w", ExpandCommand(command, params), readErr)
	}
	return string(payload), nil
}

// addInt adds the named attribute of ad into dst when it parses as an
// integer. A missing or malformed attribute leaves dst untouched; one
// bad field never discards the record's other fields.
func addInt(dst *int, ad classad.Ad, attr string) {
	raw, ok := ad[attr]
	if !ok {
		return
	}
	addRawInt(dst, raw)
}

// addRawInt adds raw command output into dst when it parses as an
// integer; malformed values are skipped.
func addRawInt(dst *int, raw string) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return
	}
	*dst += value
}
