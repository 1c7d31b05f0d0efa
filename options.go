package structsched

import (
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultWorkers           = 4
	defaultDrainGrace        = 5 * time.Second
	defaultEscalationLogRate = 20
)

// Options holds configuration options for the [Scheduler].
type Options struct {
	Workers           int
	DefaultPriority   Priority
	DrainGrace        time.Duration
	EscalationLogRate int
	Logger            zerolog.Logger
	Metrics           MetricsHook
}

func defaultOptions() *Options {
	return &Options{
		Workers:           defaultWorkers,
		DefaultPriority:   Priorities.Default,
		DrainGrace:        defaultDrainGrace,
		EscalationLogRate: defaultEscalationLogRate,
		Logger:            zerolog.Nop(),
	}
}

// Option is a function that configures [Options].
type Option func(*Options)

// WithWorkers sets the number of tasks that may run in parallel. Values below
// one are ignored.
func WithWorkers(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Workers = n
		}
	}
}

// WithDefaultPriority sets the base priority of unstructured tasks spawned
// from outside any task without an explicit priority.
func WithDefaultPriority(p Priority) Option {
	return func(o *Options) {
		if !p.IsUnknown() {
			o.DefaultPriority = p
		}
	}
}

// WithDrainGrace sets how long [Scheduler.CancelTree] waits by default for a
// cancelled subtree to finish.
func WithDrainGrace(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.DrainGrace = d
		}
	}
}

// WithLogger sets the logger for the [Scheduler].
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithEscalationLogRate caps escalation debug logs at perSec events per
// second. Zero or less removes the cap.
func WithEscalationLogRate(perSec int) Option {
	return func(o *Options) {
		o.EscalationLogRate = perSec
	}
}

// WithMetricsHook sets the metrics hook for the [Scheduler].
func WithMetricsHook(hook MetricsHook) Option {
	return func(o *Options) {
		o.Metrics = hook
	}
}

type spawnOptions struct {
	Priority Priority
	Policy   EscalationPolicy
}

// SpawnOption configures a single spawn.
type SpawnOption func(*spawnOptions)

func newSpawnOptions(opts []SpawnOption) spawnOptions {
	var o spawnOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithPriority overrides the inherited base priority of a new task.
// [Priorities].Unknown leaves inheritance in place.
func WithPriority(p Priority) SpawnOption {
	return func(o *spawnOptions) {
		o.Priority = p
	}
}

// WithEscalationPolicy escalates the new task on a timer, as if something
// more urgent had started waiting on it after each step's delay. Steps stop
// once the task finishes.
func WithEscalationPolicy(policy EscalationPolicy) SpawnOption {
	return func(o *spawnOptions) {
		o.Policy = policy
	}
}
