package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tomasbasham/structsched"
)

func TestRunScenario(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{2, 4} {
		s := structsched.New(structsched.WithWorkers(workers))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		reports, err := runScenario(ctx, s)
		cancel()
		if err != nil {
			t.Fatalf("%d workers: unexpected error: %v", workers, err)
		}
		if err := s.Shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown: %v", err)
		}

		if len(reports) != 5 {
			t.Fatalf("expected 5 reports, got: %d", len(reports))
		}
		for _, r := range reports {
			if !r.ok() {
				t.Errorf("%d workers: task %s mismatch:\n  got:  %s/%s\n  want: %s/%s",
					workers, r.Name, r.Base, r.Effective, r.WantBase, r.WantEffective)
			}
		}
	}
}

func TestRenderReports(t *testing.T) {
	t.Parallel()

	p := structsched.Priorities
	reports := []taskReport{
		{Name: "A", Base: p.Background, Effective: p.Default, WantBase: p.Background, WantEffective: p.Default},
		{Name: "D", Base: p.Background, Effective: p.Utility, WantBase: p.Background, WantEffective: p.Background},
	}

	var b strings.Builder
	renderReports(&b, reports)
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got: %q", b.String())
	}
	if !strings.Contains(lines[1], "ok") {
		t.Errorf("expected row A to pass, got: %q", lines[1])
	}
	if !strings.Contains(lines[2], "mismatch") {
		t.Errorf("expected row D to fail, got: %q", lines[2])
	}
}

func TestRenderPriorities(t *testing.T) {
	t.Parallel()

	out := renderPriorities(structsched.Priorities.Default)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected header and 5 levels, got: %q", out)
	}
	if !strings.Contains(lines[1], "user-interactive") {
		t.Errorf("expected most urgent level first, got: %q", lines[1])
	}
	if !strings.Contains(lines[3], "default") || !strings.Contains(lines[3], "(default)") {
		t.Errorf("expected default level marked, got: %q", lines[3])
	}
}
