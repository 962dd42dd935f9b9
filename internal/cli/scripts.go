package cli

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tollgate-dev/tollgate/internal/rulefile"
	"github.com/tollgate-dev/tollgate/internal/rules"
	"github.com/tollgate-dev/tollgate/internal/scripts"
)

// ScriptsOptions holds flags shared by the scripts subcommands.
type ScriptsOptions struct {
	*RootOptions
	Database string
	Tenant   string
}

// NewScriptsCommand creates the scripts command group.
func NewScriptsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScriptsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scripts",
		Short: "Manage tenant logic scripts",
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.PersistentFlags().StringVar(&opts.Tenant, "tenant", "", "tenant id (required)")
	_ = cmd.MarkPersistentFlagRequired("db")
	_ = cmd.MarkPersistentFlagRequired("tenant")

	cmd.AddCommand(newScriptsListCommand(opts))
	cmd.AddCommand(newScriptsAddCommand(opts))
	cmd.AddCommand(newScriptsRmCommand(opts))
	cmd.AddCommand(newScriptsActivateCommand(opts, true))
	cmd.AddCommand(newScriptsActivateCommand(opts, false))
	cmd.AddCommand(newScriptsReorderCommand(opts))
	cmd.AddCommand(newScriptsImportCommand(opts))

	return cmd
}

// quietApp opens the stack with logging suppressed unless --verbose.
// Admin commands print results themselves; background chatter gets in the way.
func quietApp(opts *ScriptsOptions) (*app, error) {
	logger := slog.New(slog.DiscardHandler)
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	a, err := openApp(opts.Database, "", 0, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return a, nil
}

func newScriptsListCommand(opts *ScriptsOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List a tenant's scripts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := quietApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.scripts.List(cmd.Context(), opts.Tenant)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list scripts", err)
			}

			if opts.Format == "json" {
				f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
				return f.Success(items)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTRIGGER\tSEQ\tACTIVE\tDESCRIPTION")
			for _, sc := range items {
				fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n", sc.ID, sc.Trigger, sc.SequenceOrder, sc.Active, sc.Description)
			}
			return w.Flush()
		},
	}
}

func newScriptsAddCommand(opts *ScriptsOptions) *cobra.Command {
	var (
		trigger  string
		desc     string
		sequence int
		prompt   string
	)

	cmd := &cobra.Command{
		Use:   "add <expression>",
		Short: "Add a script for a tenant",
		Long: `Add a logic script for a tenant.

The expression is compile-checked; a script that fails the check is stored
anyway with a warning, and fails open at evaluation time.

Example:
  tollgate scripts add --db ./tollgate.db --tenant acme \
    --trigger submit --seq 1 --desc "Minimum order value" \
    'cart.total >= 50.0'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := quietApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			sc, err := a.scripts.Create(cmd.Context(), opts.Tenant, scripts.CreateInput{
				Trigger:        trigger,
				Expression:     args[0],
				Description:    desc,
				SequenceOrder:  sequence,
				OriginalPrompt: prompt,
			})
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to add script", err)
			}

			if opts.Format == "json" {
				f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
				return f.Success(sc)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added script %s (%s, seq %d)\n", sc.ID, sc.Trigger, sc.SequenceOrder)
			return nil
		},
	}

	cmd.Flags().StringVar(&trigger, "trigger", "", "trigger point (required)")
	cmd.Flags().StringVar(&desc, "desc", "", "script description")
	cmd.Flags().IntVar(&sequence, "seq", 0, "sequence order within the trigger")
	cmd.Flags().StringVar(&prompt, "prompt", "", "original authoring prompt")
	_ = cmd.MarkFlagRequired("trigger")

	return cmd
}

func newScriptsRmCommand(opts *ScriptsOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "rm <script-id>",
		Short:         "Delete a script",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := quietApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.scripts.Delete(cmd.Context(), opts.Tenant, args[0]); err != nil {
				return WrapExitError(ExitCommandError, "failed to delete script", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted script %s\n", args[0])
			return nil
		},
	}
}

func newScriptsActivateCommand(opts *ScriptsOptions, active bool) *cobra.Command {
	use, short, verb := "activate", "Activate a script", "Activated"
	if !active {
		use, short, verb = "deactivate", "Deactivate a script", "Deactivated"
	}
	return &cobra.Command{
		Use:           use + " <script-id>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := quietApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.scripts.SetActive(cmd.Context(), opts.Tenant, args[0], active); err != nil {
				return WrapExitError(ExitCommandError, "failed to update script", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s script %s\n", verb, args[0])
			return nil
		},
	}
}

func newScriptsReorderCommand(opts *ScriptsOptions) *cobra.Command {
	var trigger string

	cmd := &cobra.Command{
		Use:   "reorder <script-id>...",
		Short: "Reorder a trigger's scripts",
		Long: `Reorder the scripts at one trigger point.

Ids are assigned sequence positions in the order given. Every active and
inactive script id at the trigger must be listed.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tp, err := rules.ParseTriggerPoint(trigger)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid trigger", err)
			}

			a, err := quietApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.scripts.Reorder(cmd.Context(), opts.Tenant, tp, args); err != nil {
				return WrapExitError(ExitCommandError, "failed to reorder scripts", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reordered %d script(s) at %s\n", len(args), tp)
			return nil
		},
	}

	cmd.Flags().StringVar(&trigger, "trigger", "", "trigger point (required)")
	_ = cmd.MarkFlagRequired("trigger")

	return cmd
}

func newScriptsImportCommand(opts *ScriptsOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <pack-file>",
		Short: "Import a YAML rule pack",
		Long: `Import a YAML rule pack for a tenant.

The pack is validated first; any blocking issue rejects the whole pack and
creates nothing.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			pack, err := rulefile.Load(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load pack", err)
			}

			a, err := quietApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := a.scripts.ImportPack(cmd.Context(), opts.Tenant, pack)
			if err != nil {
				return WrapExitError(ExitFailure, "pack rejected", err)
			}

			if opts.Format == "json" {
				f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
				return f.Success(created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d script(s)\n", len(created))
			return nil
		},
	}
}
