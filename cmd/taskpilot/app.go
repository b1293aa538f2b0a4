package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/taskpilot/internal/approval"
	"github.com/ShayCichocki/taskpilot/internal/config"
	"github.com/ShayCichocki/taskpilot/internal/dispatch"
	"github.com/ShayCichocki/taskpilot/internal/hub"
	"github.com/ShayCichocki/taskpilot/internal/ledger"
	"github.com/ShayCichocki/taskpilot/internal/llm"
	"github.com/ShayCichocki/taskpilot/internal/logging"
	"github.com/ShayCichocki/taskpilot/internal/orchestrator"
	"github.com/ShayCichocki/taskpilot/internal/tools"
	"github.com/ShayCichocki/taskpilot/internal/version"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// rulesFile holds per-project instructions appended to the system prompt.
const rulesFile = ".taskpilotrules"

// ledgerBuffer is the event buffer between the task loop and the ledger.
const ledgerBuffer = 256

type appOptions struct {
	mode        models.Mode
	workDir     string
	approver    approval.Approver
	metricsAddr string
	out         io.Writer
	verbose     bool
}

// app owns every long-lived component of a run.
type app struct {
	cfg    *config.Config
	log    *logging.Logger
	logger *slog.Logger
	hub    *hub.Hub
	orch   *orchestrator.Orchestrator

	ledger       *ledger.Ledger
	ledgerEvents *orchestrator.ChannelObserver
	ledgerDone   chan struct{}

	metricsSrv *http.Server
	cancel     context.CancelFunc
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	if config.RequiresAPIKey(cfg.Provider.Name) {
		if _, err := config.GetAPIKey(cfg); err != nil {
			return nil, err
		}
	}

	log, err := logging.New(cfg.Logging.File, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	a := &app{cfg: cfg, log: log, logger: log.Slog(), cancel: cancel}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	workDir, err := resolveWorkDir(opts.workDir, cfg.WorkDir)
	if err != nil {
		return nil, err
	}

	registry := tools.NewDefaultRegistry(tools.Env{WorkDir: workDir, CommandTimeout: cfg.Timeouts.Command})

	a.hub = hub.New(hub.Options{
		Connector: hub.NewMCPConnector(hub.MCPOptions{ClientName: "taskpilot", ClientVersion: version.Get()}),
		Logger:    a.logger,
	})
	if err := a.startHub(ctx); err != nil {
		return nil, err
	}
	dispatcher := dispatch.New(registry, a.hub, a.logger)

	detector := approval.NewDetector()
	if f := cfg.AutoApproval.RiskyPatternsFile; f != "" {
		if err := detector.LoadFile(f); err != nil {
			return nil, err
		}
	}
	gate := approval.NewGate(approval.Policy{
		Enabled:            cfg.AutoApproval.Enabled,
		Tools:              cfg.AutoApproval.Tools,
		AllowRiskyCommands: cfg.AutoApproval.AllowRiskyCommands,
		MaxRequests:        cfg.AutoApproval.MaxRequests,
	}, detector, opts.approver, a.logger)

	metrics := orchestrator.MustNewMetrics(prometheus.DefaultRegisterer)
	if addr := firstNonEmpty(opts.metricsAddr, cfg.Metrics.Addr); addr != "" {
		a.serveMetrics(addr)
	}

	observers := []orchestrator.Observer{newEventPrinter(opts.out, opts.verbose)}
	if cfg.Ledger.Path != "" {
		if a.ledger, err = ledger.Open(cfg.Ledger.Path, a.logger); err != nil {
			return nil, err
		}
		a.ledgerEvents = orchestrator.NewChannelObserver(ledgerBuffer)
		a.ledgerDone = make(chan struct{})
		go func() {
			defer close(a.ledgerDone)
			a.ledger.Run(context.Background(), a.ledgerEvents.Events())
		}()
		observers = append(observers, a.ledgerEvents)
	}

	providers := llm.DefaultRegistry()
	mode := opts.mode
	if mode == "" {
		mode = models.Mode(cfg.Mode)
	}
	a.orch, err = orchestrator.New(orchestrator.RequiredConfig{
		Providers: func(m models.Mode) (llm.Provider, error) {
			return providers.Build(cfg.LLMConfig(m))
		},
		Dispatcher: dispatcher,
		Tools:      registry,
	},
		orchestrator.WithMode(mode),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithApprovalGate(gate),
		orchestrator.WithLimits(orchestrator.Limits{
			MaxConsecutiveMistakes: cfg.Limits.MaxConsecutiveMistakes,
			MaxContextRetries:      cfg.Limits.MaxContextRetries,
			MaxRequests:            cfg.Limits.MaxRequests,
		}),
		orchestrator.WithBlockWait(cfg.Timeouts.BlockWait),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithObservers(observers...),
		orchestrator.WithWorkDir(workDir),
		orchestrator.WithInstructions(readRules(workDir)),
	)
	if err != nil {
		return nil, err
	}

	a.hub.SetNotificationSink(func(n hub.Notification) {
		a.orch.Notify(n.Server, n.Level, n.Message)
	})
	return a, nil
}

// startHub connects the configured capability servers and, when enabled,
// watches the settings file for changes.
func (a *app) startHub(ctx context.Context) error {
	path := settingsPath(a.cfg)
	servers, err := hub.LoadSettings(path)
	if err != nil {
		return err
	}
	if err := a.hub.Initialize(ctx, servers); err != nil {
		return fmt.Errorf("initialize capability servers: %w", err)
	}
	if a.cfg.Capabilities.Watch {
		if err := a.hub.Watch(ctx, path); err != nil {
			a.logger.Warn("settings watch disabled", "path", path, "error", err)
		}
	}
	return nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", addr)
}

// Close aborts any running task and releases every component. The ledger
// is drained before it is closed.
func (a *app) Close() {
	if a.orch != nil {
		a.orch.Abort()
	}
	a.cancel()
	if a.hub != nil {
		if err := a.hub.Dispose(); err != nil {
			a.logger.Warn("dispose hub", "error", err)
		}
	}
	if a.ledgerEvents != nil {
		a.ledgerEvents.Close()
		<-a.ledgerDone
	}
	if a.ledger != nil {
		a.ledger.Close()
	}
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		a.metricsSrv.Shutdown(ctx)
		cancel()
	}
	a.log.Close()
}

func settingsPath(cfg *config.Config) string {
	if cfg.Capabilities.SettingsFile != "" {
		return cfg.Capabilities.SettingsFile
	}
	return config.DefaultSettingsFile()
}

func resolveWorkDir(flag, configured string) (string, error) {
	dir := firstNonEmpty(flag, configured)
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		return wd, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve work dir: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return "", fmt.Errorf("work dir %s is not a directory", abs)
	}
	return abs, nil
}

func readRules(workDir string) string {
	data, err := os.ReadFile(filepath.Join(workDir, rulesFile))
	if err != nil {
		return ""
	}
	return string(data)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
