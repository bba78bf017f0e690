package main

import (
	"fmt"
	"strconv"

	"github.com/calvinmclean/stringdriver"
	"github.com/spf13/cobra"
)

func parseAxis(s string) (int, error) {
	axis, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid axis %q: %w", s, err)
	}
	return axis, nil
}

func parseValue(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return int32(v), nil
}

func parseAxisValue(args []string) (int, int32, error) {
	axis, err := parseAxis(args[0])
	if err != nil {
		return 0, 0, err
	}
	value, err := parseValue(args[1])
	if err != nil {
		return 0, 0, err
	}
	return axis, value, nil
}

func (a *app) moveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "move AXIS DELTA",
		Short: "Move a stepper relative to its current position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			axis, delta, err := parseAxisValue(args)
			if err != nil {
				return err
			}
			return ownerHint(a.client().RelMove(axis, delta))
		},
	}
}

func (a *app) absCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "abs AXIS POSITION",
		Short: "Move a stepper to an absolute position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			axis, pos, err := parseAxisValue(args)
			if err != nil {
				return err
			}
			return ownerHint(a.client().AbsMove(axis, pos))
		},
	}
}

func (a *app) resetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset AXIS [POSITION]",
		Short: "Set a stepper's position counter without moving it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			axis, err := parseAxis(args[0])
			if err != nil {
				return err
			}
			var pos int32
			if len(args) == 2 {
				if pos, err = parseValue(args[1]); err != nil {
					return err
				}
			}
			return ownerHint(a.client().Reset(axis, pos))
		},
	}
}

func (a *app) positionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Print the firmware's stepper positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			positions, err := a.client().Positions(a.cfg.Layout.NumSteppers)
			if err != nil {
				return ownerHint(err)
			}
			for axis, pos := range positions {
				cmd.Printf("%d: %d\n", axis, pos)
			}
			return nil
		},
	}
}

func (a *app) paramCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "param AXIS accel|speed|min|max VALUE",
		Short: "Set a stepper motion parameter",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			axis, err := parseAxis(args[0])
			if err != nil {
				return err
			}
			param, err := stringdriver.ParseParam(args[1])
			if err != nil {
				return err
			}
			value, err := parseValue(args[2])
			if err != nil {
				return err
			}
			return ownerHint(a.client().SetParam(axis, param, value))
		},
	}
}
