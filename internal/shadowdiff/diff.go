package shadowdiff

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Result captures the outcome of replaying a single case.
type Result struct {
	Case           Case
	ExpectedStatus int
	ActualStatus   int
	BodyDiff       string
	Latency        time.Duration
	Err            error
}

// Matched reports whether the backend agreed with the fixture.
func (r Result) Matched() bool {
	return r.Err == nil && r.ExpectedStatus == r.ActualStatus && r.BodyDiff == ""
}

// Runner executes cases against the backend. Config.StripKeys names JSON
// keys left out of body comparison.
type Runner struct {
	Client *http.Client
	Config Config
}

// Run executes all cases and returns their results in input order.
func (r *Runner) Run(ctx context.Context, cases []Case) []Result {
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	concurrency := r.Config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	ignore := r.Config.ignoredKeys()
	results := make([]Result, len(cases))
	sem := make(chan struct{}, concurrency)
	wg := sync.WaitGroup{}

	for i, c := range cases {
		sem <- struct{}{}
		wg.Add(1)
		go func(idx int, tc Case) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = r.execute(ctx, client, tc, ignore)
		}(i, c)
	}

	wg.Wait()
	return results
}

func (r *Runner) execute(ctx context.Context, client *http.Client, tc Case, ignore map[string]struct{}) Result {
	res := Result{Case: tc, ExpectedStatus: tc.Expected.StatusCode}

	resp, latency, err := r.send(ctx, client, tc)
	res.Latency = latency
	if err != nil {
		res.Err = fmt.Errorf("backend request failed: %w", err)
		return res
	}
	defer resp.Body.Close()

	res.ActualStatus = resp.StatusCode
	if tc.Method == http.MethodHead {
		return res
	}

	actual, err := io.ReadAll(resp.Body)
	if err != nil {
		res.Err = fmt.Errorf("read backend body: %w", err)
		return res
	}
	res.BodyDiff = bodyDiff([]byte(tc.Expected.Body), actual, ignore)
	return res
}

func (r *Runner) send(ctx context.Context, client *http.Client, tc Case) (*http.Response, time.Duration, error) {
	method := tc.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.JoinPath(r.Config.BackendBaseURL, tc.Path)
	if err != nil {
		return nil, 0, fmt.Errorf("build url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, 0, err
	}

	for key, value := range tc.Headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)

	if err != nil {
		return nil, latency, err
	}

	return resp, latency, nil
}

// Summary counts results by outcome.
type Summary struct {
	Total   int
	Matched int
	Diffs   int
	Errors  int
}

// Summarize tallies results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, res := range results {
		switch {
		case res.Err != nil:
			s.Errors++
		case res.Matched():
			s.Matched++
		default:
			s.Diffs++
		}
	}
	return s
}
