package main

import (
	"errors"

	"github.com/calvinmclean/stringdriver/broker"
	"github.com/calvinmclean/stringdriver/controller"
	"github.com/calvinmclean/stringdriver/device"
	"github.com/calvinmclean/stringdriver/gpio"
	"github.com/spf13/cobra"
)

func (a *app) portsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List USB serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := device.GetSerialPorts()
			if err != nil {
				return err
			}
			for _, p := range ports {
				cmd.Printf("%s\t%s\t%s:%s\n", p.Name, p.Product, p.VID, p.PID)
			}
			return nil
		},
	}
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the device owner is reachable and what the sensors read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := a.client()
			cmd.Printf("device:   %s\n", a.cfg.Port)
			cmd.Printf("endpoint: %s\n", client.Endpoint())
			cmd.Printf("firmware: %s\n", a.cfg.Firmware)

			positions, err := client.Positions(a.cfg.Layout.NumSteppers)
			switch {
			case errors.Is(err, broker.ErrOwnerUnreachable):
				cmd.Println("owner:    not running")
			case err != nil:
				cmd.Printf("owner:    running, positions unavailable: %v\n", err)
			default:
				cmd.Printf("owner:    running, positions %v\n", positions)
			}

			if !a.cfg.UseGPIO {
				return nil
			}

			board, err := gpio.Open(a.cfg.GPIO)
			if err != nil {
				return err
			}
			defer board.Close()

			sup, err := controller.New(a.cfg.Layout, client, controller.WithTouchSensor(board), controller.WithLogger(a.logger))
			if err != nil {
				return err
			}
			for _, state := range sup.BumpStatus() {
				if state.Err != nil {
					cmd.Printf("z %d:      %v\n", state.Axis, state.Err)
					continue
				}
				cmd.Printf("z %d:      touching=%t\n", state.Axis, state.Touching)
			}
			return nil
		},
	}
}
