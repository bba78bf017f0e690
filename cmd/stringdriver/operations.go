package main

import (
	"fmt"

	"github.com/calvinmclean/stringdriver/controller"
	"github.com/spf13/cobra"
)

// operationCommand asks the serving process to run op on its Supervisor, so
// every operation shares one busy flag and one position model
func (a *app) operationCommand(use, short string, op controller.Operation) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var axes []int
			for _, arg := range args {
				axis, err := parseAxis(arg)
				if err != nil {
					return err
				}
				axes = append(axes, axis)
			}

			res, err := a.client().Run(cmd.Context(), op, axes, a.cfg.Thresholds)
			if res.Summary != "" {
				cmd.Println(res.Summary)
			}
			if err != nil {
				return ownerHint(fmt.Errorf("%s failed: %w", op, err))
			}
			return nil
		},
	}

	if op == controller.OperationBumpCheck {
		cmd.Use = use + " [AXIS...]"
		cmd.Args = cobra.ArbitraryArgs
	}

	return cmd
}
