package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/theroutercompany/mock_api/internal/shadowdiff"
	mockconfig "github.com/theroutercompany/mock_api/pkg/mock/config"
	"github.com/theroutercompany/mock_api/pkg/mock/fixture"
	mockopenapi "github.com/theroutercompany/mock_api/pkg/mock/openapi"
)

func openStore(cfg mockconfig.Config) (*fixture.Store, error) {
	root, err := cfg.FixtureRoot()
	if err != nil {
		return nil, fmt.Errorf("resolve fixture root: %w", err)
	}
	return fixture.Open(root, cfg.StoreOptions()...)
}

func lintCommand(args []string) error {
	fs := flag.NewFlagSet("lint", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to mock server configuration file")
	strict := fs.Bool("strict", false, "Treat warnings as failures")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	report := store.Lint()
	for _, issue := range report.Issues {
		fmt.Println(issue.String())
	}
	fmt.Printf("%d routes, %d errors, %d warnings\n", report.Routes, len(report.Errors()), len(report.Warnings()))

	if report.HasErrors() || (*strict && len(report.Warnings()) > 0) {
		return errors.New("fixture tree has problems")
	}
	return nil
}

func routesCommand(args []string) error {
	fs := flag.NewFlagSet("routes", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to mock server configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	routes, err := store.Routes()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tPATTERN\tFILE")
	for _, route := range routes {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", route.Method, route.Pattern, route.File)
	}
	return tw.Flush()
}

func openapiCommand(args []string) error {
	fs := flag.NewFlagSet("openapi", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to mock server configuration file")
	outPath := fs.String("out", "", "Path to write the OpenAPI document (stdout when empty)")
	serverURL := fs.String("server-url", "", "Server URL advertised in the document")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	url := *serverURL
	if url == "" {
		url = fmt.Sprintf("http://localhost:%d", cfg.HTTP.Port)
	}
	gen := mockopenapi.NewGenerator(store,
		mockopenapi.WithVersion(cfg.Version),
		mockopenapi.WithServerURL(url),
	)

	doc, err := gen.Document(context.Background())
	if err != nil {
		return fmt.Errorf("build openapi document: %w", err)
	}

	path := strings.TrimSpace(*outPath)
	if path == "" {
		fmt.Println(string(doc))
		return nil
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		return fmt.Errorf("write openapi document: %w", err)
	}

	fmt.Fprintf(os.Stdout, "OpenAPI document written to %s\n", path)
	return nil
}

func verifyCommand(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", "mockapi.verify.json", "Path to verification configuration")
	timeout := fs.Duration("timeout", 30*time.Second, "Overall time budget for the run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := shadowdiff.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	store, err := shadowdiff.OpenStore(cfg)
	if err != nil {
		return err
	}

	cases, skipped, err := shadowdiff.Plan(store, cfg)
	if err != nil {
		return err
	}
	for _, s := range skipped {
		fmt.Printf("[%s %s] skipped: %s\n", s.Route.Method, s.Route.Pattern, s.Reason)
	}

	runner := shadowdiff.Runner{
		Client: &http.Client{Timeout: 5 * time.Second},
		Config: cfg,
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	results := runner.Run(ctx, cases)
	for _, result := range results {
		if result.Err != nil {
			fmt.Printf("[%s] error: %v\n", result.Case.Name, result.Err)
			continue
		}
		if !result.Matched() {
			fmt.Printf("[%s] status fixture=%d backend=%d\n", result.Case.Name, result.ExpectedStatus, result.ActualStatus)
			if result.BodyDiff != "" {
				fmt.Println(result.BodyDiff)
			}
		}
	}

	summary := shadowdiff.Summarize(results)
	fmt.Printf("Processed %d fixtures, %d diffs, %d errors, %d skipped\n", summary.Total, summary.Diffs, summary.Errors, len(skipped))
	if summary.Diffs > 0 || summary.Errors > 0 {
		return fmt.Errorf("%d fixtures drifted from the backend", summary.Diffs+summary.Errors)
	}
	return nil
}
