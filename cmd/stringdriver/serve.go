package main

import (
	"context"

	"github.com/calvinmclean/stringdriver/broker"
	"github.com/calvinmclean/stringdriver/controller"
	"github.com/calvinmclean/stringdriver/device"
	"github.com/spf13/cobra"
)

func (a *app) serveCommand() *cobra.Command {
	var emulate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Own the serial device and share it with other stringdriver commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), emulate)
		},
	}
	cmd.Flags().BoolVar(&emulate, "emulate", false, "answer commands with an in-memory firmware instead of the serial device")

	return cmd
}

func (a *app) serve(ctx context.Context, emulate bool) error {
	cmds := a.cfg.Firmware.CommandSet()

	var dev broker.Device
	if emulate {
		emulator := device.NewEmulator(a.cfg.Layout.NumSteppers, cmds, a.logger)
		defer emulator.Close()
		dev = emulator
		a.logger.Info("emulating firmware", "firmware", a.cfg.Firmware, "steppers", a.cfg.Layout.NumSteppers)
	} else {
		cfg := device.DefaultConfig(a.cfg.Port)
		cfg.BaudRate = a.cfg.BaudRate

		transport := device.New(cfg, device.WithLogger(a.logger))
		if err := transport.Connect(ctx); err != nil {
			return err
		}
		defer transport.Close()
		dev = transport
	}

	b := broker.New(dev, broker.WithCommandSet(cmds), broker.WithLogger(a.logger))

	sup, cleanup, err := a.supervisor(ctx, b)
	if err != nil {
		return err
	}
	defer cleanup()

	sup.SetBumpCheckEnabled(a.cfg.BumpEnabled)
	a.refresh(sup)
	b.SetRunner(sup)

	if a.cfg.BumpInterval > 0 && a.cfg.UseGPIO {
		go sup.PeriodicBumpCheck(ctx, a.cfg.BumpInterval, a.logBumpCheck)
	}

	return b.ListenAndServe(ctx, broker.Endpoint(a.cfg.Port))
}

func (a *app) logBumpCheck(res controller.Result, err error) {
	if err != nil {
		a.logger.Warn("periodic bump check failed", "id", res.ID, "error", err)
		return
	}
	if res.Summary != "" {
		a.logger.Info("periodic bump check", "id", res.ID, "summary", res.Summary)
	}
}
