package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	pkglog "github.com/theroutercompany/mock_api/pkg/log"
	mockconfig "github.com/theroutercompany/mock_api/pkg/mock/config"
	mockruntime "github.com/theroutercompany/mock_api/pkg/mock/runtime"
)

type command struct {
	name    string
	summary string
	run     func(args []string) error
}

var commands = []command{
	{"run", "Serve the fixture tree using the provided config", runCommand},
	{"validate", "Validate configuration without starting the server", validateCommand},
	{"lint", "Check the fixture tree for problems", lintCommand},
	{"routes", "List the routes the fixture tree serves", routesCommand},
	{"openapi", "Generate an OpenAPI document from the fixture tree", openapiCommand},
	{"verify", "Replay fixtures against a live backend and report drift", verifyCommand},
	{"init", "Generate a config skeleton", initCommand},
	{"daemon", "Manage the server as a background process", daemonCommand},
	{"admin", "Invoke admin endpoints (status/config/reload/lint)", adminCommand},
	{"convert-env", "Snapshot environment variables into a YAML config", convertEnvCommand},
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd, ok := lookupCommand(os.Args[1])
	if !ok {
		usage()
		os.Exit(1)
	}

	err := cmd.run(os.Args[2:])
	if err != nil {
		pkglog.Shared().Errorw("command failed", "command", cmd.name, "error", err)
	}
	_ = pkglog.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func usage() {
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Usage: mockapi <command> [options]")
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %s\t%s\n", c.name, c.summary)
	}
	_ = w.Flush()
}

func loadConfig(configPath string) (mockconfig.Config, []mockconfig.Option, error) {
	opts := []mockconfig.Option{}
	if strings.TrimSpace(configPath) != "" {
		opts = append(opts, mockconfig.WithPath(configPath))
	}
	cfg, err := mockconfig.Load(opts...)
	if err != nil {
		return mockconfig.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, opts, nil
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to mock server configuration file")
	watch := fs.Bool("watch", false, "Watch fixtures (and the config file, when given) for changes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, opts, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *watch {
		cfg.Watch.Enabled = true
	}

	logger := pkglog.Shared()

	reloadRequests := make(chan mockconfig.Config, 1)
	enqueueReload := func(cfg mockconfig.Config) {
		if *watch {
			cfg.Watch.Enabled = true
		}
		select {
		case reloadRequests <- cfg:
		default:
			go func() { reloadRequests <- cfg }()
		}
	}

	reloadFunc := func() (mockconfig.Config, error) {
		cfg, err := mockconfig.Load(opts...)
		if err != nil {
			return mockconfig.Config{}, err
		}
		enqueueReload(cfg)
		return cfg, nil
	}

	rt, err := mockruntime.New(cfg, mockruntime.WithReloadFunc(reloadFunc), mockruntime.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		watchErrCh  <-chan error
		watchCancel context.CancelFunc
	)
	if *watch && *configPath != "" {
		watchReloadCh, errCh, cancelWatch, err := watchConfig(ctx, *configPath, opts)
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		watchErrCh = errCh
		watchCancel = cancelWatch
		go func() {
			for cfg := range watchReloadCh {
				enqueueReload(cfg)
			}
		}()
	}
	defer func() {
		if watchCancel != nil {
			watchCancel()
		}
	}()

	runCtx, runCancel := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() {
		runDone <- rt.Run(runCtx)
	}()

	for {
		select {
		case err := <-runDone:
			runCancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case cfg := <-reloadRequests:
			runCancel()
			if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if err := rt.Reload(cfg); err != nil {
				return fmt.Errorf("reload config: %w", err)
			}
			runCtx, runCancel = context.WithCancel(ctx)
			runDone = make(chan error, 1)
			go func() {
				runDone <- rt.Run(runCtx)
			}()
			logger.Infow("configuration reloaded", "fixtureRoot", cfg.Fixtures.Root)
		case err, ok := <-watchErrCh:
			if !ok {
				watchErrCh = nil
				continue
			}
			if err != nil {
				logger.Warnw("config watch error", "error", err)
			}
		case <-ctx.Done():
			runCancel()
		}
	}
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to mock server configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("validate fixtures: %w", err)
	}

	report := store.Lint()
	for _, issue := range report.Issues {
		fmt.Println(issue.String())
	}
	if report.HasErrors() {
		return fmt.Errorf("validate fixtures: %d errors", len(report.Errors()))
	}

	fmt.Printf("configuration valid (%d routes)\n", report.Routes)
	return nil
}

func initCommand(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	outputPath := fs.String("path", "mockapi.yaml", "Destination path for generated config")
	fixtures := fs.Bool("fixtures", false, "Also create the fixture root with a sample GET fixture")
	force := fs.Bool("force", false, "Overwrite existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*force {
		if _, err := os.Stat(*outputPath); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", *outputPath)
		}
	}

	if err := os.WriteFile(*outputPath, []byte(sampleConfigYAML), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Printf("configuration written to %s\n", *outputPath)

	if *fixtures {
		root := filepath.Join(filepath.Dir(*outputPath), "mocks")
		if err := os.MkdirAll(root, 0o755); err != nil {
			return fmt.Errorf("create fixture root: %w", err)
		}
		sample := filepath.Join(root, "GET.mock")
		if _, err := os.Stat(sample); err == nil && !*force {
			return nil
		}
		if err := os.WriteFile(sample, []byte(sampleFixture), 0o644); err != nil {
			return fmt.Errorf("write sample fixture: %w", err)
		}
		fmt.Printf("sample fixture written to %s\n", sample)
	}
	return nil
}

func watchConfig(parent context.Context, path string, opts []mockconfig.Option) (<-chan mockconfig.Config, <-chan error, context.CancelFunc, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, nil, err
	}
	dir := filepath.Dir(absPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, nil, nil, fmt.Errorf("watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	reloadCh := make(chan mockconfig.Config)
	errCh := make(chan error, 1)

	go func() {
		defer close(reloadCh)
		defer close(errCh)
		defer watcher.Close()

		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !targetsFile(evt.Name, absPath) {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				debounce = time.After(200 * time.Millisecond)
			case <-debounce:
				cfg, err := mockconfig.Load(opts...)
				if err != nil {
					select {
					case errCh <- err:
					default:
					}
					debounce = nil
					continue
				}
				select {
				case reloadCh <- cfg:
				case <-ctx.Done():
				}
				debounce = nil
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return reloadCh, errCh, cancel, nil
}

func targetsFile(eventPath, target string) bool {
	if eventPath == "" {
		return false
	}
	abs, err := filepath.Abs(eventPath)
	if err != nil {
		return false
	}
	return abs == target
}

func convertEnvCommand(args []string) error {
	fs := flag.NewFlagSet("convert-env", flag.ExitOnError)
	configPath := fs.String("config", "", "Optional config file to merge before env overrides")
	outputPath := fs.String("output", "", "Destination path for generated YAML (stdout when empty)")
	force := fs.Bool("force", false, "Overwrite existing output file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config from environment: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	path := strings.TrimSpace(*outputPath)
	if path == "" {
		fmt.Print(string(data))
		return nil
	}

	if !*force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("output file %s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat output file: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure output directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}

	fmt.Printf("configuration written to %s\n", path)
	return nil
}

const sampleFixture = `HTTP/1.1 200 OK
Content-Type: application/json

{ "status": "ok" }
`

const sampleConfigYAML = `# Mock server configuration.
version: ""

http:
  port: 3000
  shutdownTimeout: 15s
  maxBodyBytes: 1048576

fixtures:
  root: ./mocks
  profile: ""
  extension: mock
  wildcard: __
  optionsFallback: same

cors:
  enabled: false
  allowedOrigins:
    - http://localhost:5173

rateLimit:
  window: 60s
  max: 0

metrics:
  enabled: true

admin:
  enabled: false
  listen: 127.0.0.1:9091
  token: ""
  jwtSecret: ""
  allow: []

watch:
  enabled: false
  debounce: 200ms
`
