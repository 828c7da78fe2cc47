/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/carverauto/livestatus/pkg/config"
	"github.com/carverauto/livestatus/pkg/lifecycle"
	"github.com/carverauto/livestatus/pkg/live"
	"github.com/carverauto/livestatus/pkg/logger"
	"github.com/carverauto/livestatus/pkg/models"
	"github.com/carverauto/livestatus/pkg/natsutil"
	"github.com/carverauto/livestatus/pkg/notify"
	"github.com/carverauto/livestatus/pkg/reconcile"
	"github.com/carverauto/livestatus/pkg/snapshot"
	"github.com/carverauto/livestatus/pkg/tui"
	"github.com/carverauto/livestatus/pkg/version"
	tea "github.com/charmbracelet/bubbletea"
)

var errFailedToLoadConfig = errors.New("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/livestatus/livestatus.json", "Path to livestatus config file")
	headless := flag.Bool("headless", false, "Log changes instead of drawing the dashboard")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersion())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg models.ClientConfig

	if err := config.NewConfig(nil).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	if *headless {
		cfg.UI.Headless = true
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = &logger.Config{
			Level:  "info",
			Output: logger.OutputStdout,
		}
	}

	// the dashboard owns the terminal
	if !cfg.UI.Headless && isTerminalOutput(logConfig.Output) {
		logConfig.Output = logger.OutputDiscard
	}

	mainLogger, err := lifecycle.CreateComponentLogger(ctx, "livestatus", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(); err != nil {
			log.Printf("Failed to shut down logger: %v", err)
		}
	}()

	if cfg.Metrics != nil {
		_, err := logger.InitializeMetrics(ctx, logger.MetricsConfig{
			ServiceName:    "livestatus",
			ServiceVersion: version.GetVersion(),
			OTel:           cfg.Metrics,
		})
		if err != nil && !errors.Is(err, logger.ErrOTelMetricsDisabled) {
			mainLogger.Warn().Err(err).Msg("Metrics export unavailable")
		}
	}

	mainLogger.Info().
		Str("version", version.GetFullVersion()).
		Str("api", cfg.API.BaseURL).
		Str("stream", cfg.Stream.URL).
		Bool("headless", cfg.UI.Headless).
		Msg("Starting livestatus")

	loader := snapshot.NewLoader(&cfg.API, mainLogger.Component("snapshot"))
	channel := live.NewChannel(&cfg.Stream, cfg.API.APIKey, mainLogger.Component("live"))

	notifiers := []notify.Notifier{notify.NewLogNotifier(mainLogger.Component("notify"))}

	if cfg.NATS.Enabled {
		natsNotifier, closeNATS, err := newNATSNotifier(ctx, &cfg.NATS, mainLogger.Component("nats"))
		if err != nil {
			return err
		}

		defer closeNATS()

		notifiers = append(notifiers, natsNotifier)
	}

	engineLogger := mainLogger.Component("engine")

	if cfg.UI.Headless {
		renderer := tui.NewLogRenderer(mainLogger.Component("renderer"))
		engine := reconcile.New(&cfg.Engine, loader, channel, renderer, notify.Multi(notifiers...), engineLogger)

		return engine.Run(ctx)
	}

	return runDashboard(ctx, &cfg, loader, channel, notifiers, engineLogger)
}

func runDashboard(
	ctx context.Context,
	cfg *models.ClientConfig,
	loader *snapshot.Loader,
	channel *live.Channel,
	notifiers []notify.Notifier,
	engineLogger logger.Logger,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bridge := tui.NewBridge()
	engine := reconcile.New(&cfg.Engine, loader, channel, bridge,
		notify.Multi(append(notifiers, bridge)...), engineLogger)

	program := tea.NewProgram(tui.NewModel(ctx, engine), tea.WithAltScreen(), tea.WithContext(ctx))
	bridge.Attach(program)

	errCh := make(chan error, 1)

	go func() { errCh <- engine.Run(ctx) }()

	_, err := program.Run()

	cancel()

	if engineErr := <-errCh; engineErr != nil {
		return engineErr
	}

	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("dashboard exited: %w", err)
	}

	return nil
}

func newNATSNotifier(ctx context.Context, cfg *models.NATSConfig, natsLog logger.Logger) (notify.Notifier, func(), error) {
	nc, err := natsutil.Connect(cfg, natsLog)
	if err != nil {
		return nil, nil, err
	}

	publisher := natsutil.NewEventPublisher(nc, cfg.Subject, cfg.Source)

	if cfg.Stream != "" {
		publisher, err = natsutil.CreateEventPublisher(ctx, nc, cfg.Stream, cfg.Subject, cfg.Source)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)

	notifier := notify.NewNATSNotifier(publisher, natsLog)
	go notifier.Run(runCtx)

	closeFn := func() {
		cancel()

		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}

	return notifier, closeFn, nil
}

func isTerminalOutput(output string) bool {
	return output == "" || output == logger.OutputStdout || output == logger.OutputStderr
}
