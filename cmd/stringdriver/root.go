package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/calvinmclean/stringdriver/audio"
	"github.com/calvinmclean/stringdriver/broker"
	"github.com/calvinmclean/stringdriver/config"
	"github.com/calvinmclean/stringdriver/controller"
	"github.com/calvinmclean/stringdriver/gpio"
	"github.com/calvinmclean/stringdriver/telemetry"
	"github.com/spf13/cobra"
)

type app struct {
	cfg    config.Config
	logger *slog.Logger

	port    string
	verbose bool
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "stringdriver",
		Short:         "Drive the string steppers and keep the Z axes in range",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	cmd.SetOut(os.Stdout)
	cmd.PersistentFlags().StringVarP(&a.port, "port", "p", "", "serial device path (overrides STRINGDRIVER_PORT)")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log every command at debug level")

	cmd.AddCommand(
		a.serveCommand(),
		a.moveCommand(),
		a.absCommand(),
		a.resetCommand(),
		a.positionsCommand(),
		a.paramCommand(),
		a.operationCommand("bump-check", "Retract Z steppers whose touch sensor reports contact", controller.OperationBumpCheck),
		a.operationCommand("calibrate", "Find each Z stepper's contact point and rest just above it", controller.OperationZCalibrate),
		a.operationCommand("adjust", "Move Z steppers until every string's audio is in range", controller.OperationZAdjust),
		a.operationCommand("x-home", "Drive the carriage to its home switch", controller.OperationXHome),
		a.operationCommand("x-away", "Drive the carriage to its away switch", controller.OperationXAway),
		a.operationCommand("x-calibrate", "Home the carriage, then drive it away", controller.OperationXCalibrate),
		a.portsCommand(),
		a.statusCommand(),
	)

	return cmd
}

func (a *app) load() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.port != "" {
		cfg.Port = a.port
	}
	if a.verbose {
		cfg.LogLevel = slog.LevelDebug
	}
	a.cfg = cfg

	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(a.logger)

	return nil
}

func (a *app) client() *broker.Client {
	return broker.NewClient(a.cfg.Port, broker.WithClientLogger(a.logger))
}

// supervisor builds a Supervisor over stepper with whichever sensors, audio
// and telemetry are configured. The returned func releases them.
func (a *app) supervisor(ctx context.Context, stepper controller.Stepper) (*controller.Supervisor, func(), error) {
	opts := []controller.Option{
		controller.WithLogger(a.logger),
		controller.WithSettings(a.cfg.Settings),
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if a.cfg.UseGPIO {
		board, err := gpio.Open(a.cfg.GPIO)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening gpio: %w", err)
		}
		closers = append(closers, func() { board.Close() })
		opts = append(opts, controller.WithTouchSensor(board))
		if a.cfg.GPIO.HomePin >= 0 && a.cfg.GPIO.AwayPin >= 0 {
			opts = append(opts, controller.WithLimitSensor(board))
		}
		a.logger.Info("using gpio sensors", "chip", board.Chip())
	}

	reader := audio.NewReader(a.cfg.Layout.StringNum)
	reader.PeaksPath = a.cfg.AudioPeaksPath
	reader.ControlPath = a.cfg.AudioControlPath
	poller := audio.NewPoller(reader, a.cfg.AudioInterval, a.logger)
	pollCtx, stopPolling := context.WithCancel(ctx)
	go poller.Run(pollCtx)
	closers = append(closers, stopPolling)
	opts = append(opts, controller.WithAudioSource(poller))

	if a.cfg.TWChartAddr != "" {
		recorder, err := a.recorder(ctx)
		if err != nil {
			a.logger.Warn("telemetry disabled", "error", err)
		} else {
			closers = append(closers, func() {
				if err := recorder.Done(context.WithoutCancel(ctx)); err != nil {
					a.logger.Warn("error finishing telemetry session", "error", err)
				}
			})
			opts = append(opts, controller.WithRecorder(recorder))
		}
	}

	sup, err := controller.New(a.cfg.Layout, stepper, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return sup, cleanup, nil
}

func (a *app) recorder(ctx context.Context) (*telemetry.Client, error) {
	channels, err := telemetry.ParseChannels(a.cfg.TWChartLabels)
	if err != nil {
		return nil, err
	}

	client := telemetry.NewClient(a.cfg.TWChartAddr)
	id, err := client.CreateSession(ctx, a.cfg.TWChartSession, channels)
	if err != nil {
		return nil, err
	}
	a.logger.Info("created telemetry session", "id", id)

	return client, nil
}

// refresh loads the firmware's positions so relative moves start from the
// real state
func (a *app) refresh(sup *controller.Supervisor) {
	err := sup.Refresh()
	if err != nil {
		a.logger.Warn("using zero positions", "error", err)
	}
}

func ownerHint(err error) error {
	if errors.Is(err, broker.ErrOwnerUnreachable) {
		return fmt.Errorf("%w (is `stringdriver serve` running?)", err)
	}
	return err
}
