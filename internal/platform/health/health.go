package health

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/theroutercompany/mock_api/pkg/mock/fixture"
)

// Check identifies a dependency to probe for readiness.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// CheckReport captures the outcome of a single check.
type CheckReport struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Report aggregates readiness across checks.
type Report struct {
	Status    string        `json:"status"`
	CheckedAt time.Time     `json:"checkedAt"`
	Checks    []CheckReport `json:"checks"`
}

// Checker evaluates readiness of the fixture tree and anything else registered.
type Checker struct {
	checks  []Check
	timeout time.Duration
}

// NewChecker returns a checker running checks with a per-check timeout.
func NewChecker(checks []Check, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{
		checks:  checks,
		timeout: timeout,
	}
}

// Readiness runs every check concurrently and returns an aggregated report.
func (c *Checker) Readiness(ctx context.Context) Report {
	if c == nil || len(c.checks) == 0 {
		return Report{Status: "ready", CheckedAt: time.Now().UTC()}
	}

	results := make([]CheckReport, len(c.checks))
	var wg sync.WaitGroup

	for idx, check := range c.checks {
		wg.Add(1)
		go func(i int, chk Check) {
			defer wg.Done()
			results[i] = c.run(ctx, chk)
		}(idx, check)
	}

	wg.Wait()

	report := Report{
		Status:    "ready",
		CheckedAt: time.Now().UTC(),
		Checks:    results,
	}
	for _, r := range results {
		if !r.Healthy {
			report.Status = "degraded"
			break
		}
	}

	return report
}

func (c *Checker) run(ctx context.Context, check Check) CheckReport {
	report := CheckReport{
		Name:      check.Name,
		CheckedAt: time.Now().UTC(),
	}
	if check.Probe == nil {
		report.Error = "no probe configured"
		return report
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- check.Probe(reqCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			report.Error = err.Error()
			return report
		}
		report.Healthy = true
	case <-reqCtx.Done():
		report.Error = reqCtx.Err().Error()
	}
	return report
}

// FixtureRoot reports whether the root of fsys can be listed.
func FixtureRoot(fsys fs.FS) Check {
	return Check{
		Name: "fixtures",
		Probe: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if fsys == nil {
				return errors.New("fixture root not configured")
			}
			if _, err := fs.ReadDir(fsys, "."); err != nil {
				return fmt.Errorf("read fixture root: %w", err)
			}
			return nil
		},
	}
}

// Lint fails when the fixture tree has lint errors. Warnings do not affect readiness.
func Lint(store *fixture.Store) Check {
	return Check{
		Name: "lint",
		Probe: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if store == nil {
				return errors.New("fixture store not configured")
			}
			report := store.Lint()
			if errs := report.Errors(); len(errs) > 0 {
				return fmt.Errorf("%d lint error(s), first: %s", len(errs), errs[0])
			}
			return nil
		},
	}
}
