package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tollgate-dev/tollgate/internal/engine"
	"github.com/tollgate-dev/tollgate/internal/rules"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Trigger string
}

// NewCheckCommand creates the check command: compile-check an expression
// against a trigger point's environment without touching a database.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <expression>",
		Short: "Compile-check a script expression",
		Long: `Compile-check a script expression for a trigger point.

Pricing triggers (storefront_load) see product, customer, cart, customTables,
and orderHistory; gate triggers (add_to_cart, quantity_change, submit) see
customer, cart, products, and distributor_id.

Example:
  tollgate check --trigger submit 'cart.total >= 50.0'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Trigger, "trigger", "", "trigger point (required)")
	_ = cmd.MarkFlagRequired("trigger")

	return cmd
}

func runCheck(opts *CheckOptions, expr string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	tp, err := rules.ParseTriggerPoint(opts.Trigger)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid trigger", err)
	}

	eng, err := engine.New(slog.New(slog.DiscardHandler))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build engine", err)
	}

	if err := eng.Check(tp, expr); err != nil {
		if outErr := formatter.Error("COMPILE_FAILED", err.Error(), nil); outErr != nil {
			return outErr
		}
		return NewExitError(ExitFailure, "expression failed to compile")
	}

	if opts.Format == "json" {
		return formatter.Success(map[string]any{"trigger": tp, "valid": true})
	}
	fmt.Fprintln(cmd.OutOrStdout(), "OK")
	return nil
}
