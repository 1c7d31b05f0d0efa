package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/structsched"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Run the priority propagation scenario",
	Long: `Run a small task tree and report the base and effective priority each task
observed while running:

  A      background, escalated to default by an outside caller
  B, C   group children of A (inherited and utility base)
  D, E   unstructured tasks spawned by A (inherited and utility base)

Group children follow A's escalation; unstructured tasks keep their base.
Exits non-zero if any task observed an unexpected priority.`,
	RunE: runScenarioCmd,
}

var scenarioTimeout time.Duration

func init() {
	scenarioCmd.Flags().DurationVar(&scenarioTimeout, "timeout", 10*time.Second, "give up after this long")
	rootCmd.AddCommand(scenarioCmd)
}

func runScenarioCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// A blocks its worker while the other four run.
	if cfg.Workers == 1 {
		return errors.New("scenario needs at least 2 workers")
	}

	log := cfg.Logger(os.Stderr)
	s := structsched.New(cfg.Options(log)...)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, scenarioTimeout)
	defer cancel()

	reports, runErr := runScenario(ctx, s)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown")
	}

	if runErr != nil {
		return fmt.Errorf("scenario: %w", runErr)
	}

	renderReports(cmd.OutOrStdout(), reports)

	var failed int
	for _, r := range reports {
		if !r.ok() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("scenario: %d task(s) observed an unexpected priority", failed)
	}
	return nil
}

type taskReport struct {
	Name          string
	Base          structsched.Priority
	Effective     structsched.Priority
	WantBase      structsched.Priority
	WantEffective structsched.Priority
}

func (r taskReport) ok() bool {
	return r.Base == r.WantBase && r.Effective == r.WantEffective
}

func (r *taskReport) observe(ctx context.Context) error {
	base, err := structsched.BasePriority(ctx)
	if err != nil {
		return err
	}
	cur, err := structsched.CurrentPriority(ctx)
	if err != nil {
		return err
	}
	r.Base, r.Effective = base, cur
	return nil
}

// runScenario runs the task tree on s and returns what each task observed.
func runScenario(ctx context.Context, s *structsched.Scheduler) ([]taskReport, error) {
	p := structsched.Priorities
	reports := []taskReport{
		{Name: "A", WantBase: p.Background, WantEffective: p.Default},
		{Name: "B", WantBase: p.Background, WantEffective: p.Default},
		{Name: "C", WantBase: p.Utility, WantEffective: p.Default},
		{Name: "D", WantBase: p.Background, WantEffective: p.Background},
		{Name: "E", WantBase: p.Utility, WantEffective: p.Utility},
	}

	a, err := s.Spawn(ctx, func(ctx context.Context) (any, error) {
		if err := awaitEscalation(ctx, p.Default); err != nil {
			return nil, err
		}
		if err := reports[0].observe(ctx); err != nil {
			return nil, err
		}

		g, err := structsched.OpenGroup(ctx)
		if err != nil {
			return nil, err
		}

		// B..E are observed through a plain WaitGroup: awaiting them would
		// lend them A's priority.
		var wg sync.WaitGroup
		spawn := func(i int, start func(structsched.Func, ...structsched.SpawnOption) (*structsched.Handle, error), opts ...structsched.SpawnOption) error {
			wg.Add(1)
			_, err := start(func(ctx context.Context) (any, error) {
				defer wg.Done()
				return nil, reports[i].observe(ctx)
			}, opts...)
			if err != nil {
				wg.Done()
			}
			return err
		}
		unstructured := func(fn structsched.Func, opts ...structsched.SpawnOption) (*structsched.Handle, error) {
			return s.Spawn(ctx, fn, opts...)
		}

		err = errors.Join(
			spawn(1, g.Go),
			spawn(2, g.Go, structsched.WithPriority(p.Utility)),
			spawn(3, unstructured),
			spawn(4, unstructured, structsched.WithPriority(p.Utility)),
		)
		wg.Wait()
		return nil, errors.Join(err, g.Wait(ctx))
	}, structsched.WithPriority(p.Background))
	if err != nil {
		return nil, err
	}

	s.Escalate(a, p.Default)

	if _, err := a.Await(ctx); err != nil {
		return nil, err
	}
	return reports, nil
}

// awaitEscalation yields until the calling task runs at want.
func awaitEscalation(ctx context.Context, want structsched.Priority) error {
	for {
		cur, err := structsched.CurrentPriority(ctx)
		if err != nil {
			return err
		}
		if !cur.Less(want) {
			return nil
		}
		if err := structsched.Yield(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func renderReports(w io.Writer, reports []taskReport) {
	var b strings.Builder
	b.WriteString(nameStyle.Render(headerStyle.Render("TASK")))
	b.WriteString(cellStyle.Render(headerStyle.Render("BASE")))
	b.WriteString(cellStyle.Render(headerStyle.Render("EFFECTIVE")))
	b.WriteString(wideStyle.Render(headerStyle.Render("EXPECTED")))
	b.WriteString("\n")

	for _, r := range reports {
		b.WriteString(nameStyle.Render(r.Name))
		b.WriteString(cellStyle.Render(r.Base.String()))
		b.WriteString(cellStyle.Render(r.Effective.String()))
		b.WriteString(wideStyle.Render(mutedStyle.Render(r.WantBase.String() + "/" + r.WantEffective.String())))
		if r.ok() {
			b.WriteString(okStyle.Render("ok"))
		} else {
			b.WriteString(failStyle.Render("mismatch"))
		}
		b.WriteString("\n")
	}
	fmt.Fprint(w, b.String())
}
