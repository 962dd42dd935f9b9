package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tollgate-dev/tollgate/internal/rules"
)

// PriceOptions holds flags for the price command.
type PriceOptions struct {
	*ScriptsOptions
}

// priceRequest is the JSON input for both price subcommands. Products is
// read by "price products", Items by "price cart".
type priceRequest struct {
	Customer map[string]any  `json:"customer"`
	Products []rules.Product `json:"products"`
	Items    []rules.Product `json:"items"`
}

// NewPriceCommand creates the price command group: run a tenant's pricing
// chain against a product or cart payload from a file, without a server.
func NewPriceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PriceOptions{ScriptsOptions: &ScriptsOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "price",
		Short: "Price products or a cart from a JSON file",
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.PersistentFlags().StringVar(&opts.Tenant, "tenant", "", "tenant id (required)")
	_ = cmd.MarkPersistentFlagRequired("db")
	_ = cmd.MarkPersistentFlagRequired("tenant")

	cmd.AddCommand(newPriceProductsCommand(opts))
	cmd.AddCommand(newPriceCartCommand(opts))

	return cmd
}

func newPriceProductsCommand(opts *PriceOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "products <file>",
		Short: "Price standalone products",
		Long: `Run the tenant's storefront_load pricing chain over the products in the
given JSON file ({"customer": {...}, "products": [...]}).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := loadPriceRequest(args[0])
			if err != nil {
				return err
			}

			a, err := quietApp(opts.ScriptsOptions)
			if err != nil {
				return err
			}
			defer a.Close()

			results := a.pricing.PriceProducts(cmd.Context(), opts.Tenant, req.Products, req.Customer)
			return writePriceResults(opts.RootOptions, cmd, results)
		},
	}
}

func newPriceCartCommand(opts *PriceOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cart <file>",
		Short: "Price cart items with cart context",
		Long: `Run the tenant's storefront_load pricing chain over the cart items in the
given JSON file ({"customer": {...}, "items": [...]}). Scripts see the cart
aggregate (itemCount, totalQuantity, subtotal, quantityByCategory) built from
the items.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := loadPriceRequest(args[0])
			if err != nil {
				return err
			}

			a, err := quietApp(opts.ScriptsOptions)
			if err != nil {
				return err
			}
			defer a.Close()

			results := a.pricing.PriceCartItems(cmd.Context(), opts.Tenant, req.Items, req.Customer)
			return writePriceResults(opts.RootOptions, cmd, results)
		},
	}
}

func loadPriceRequest(path string) (*priceRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read input file", err)
	}
	var req priceRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid input JSON", err)
	}
	return &req, nil
}

func writePriceResults(opts *RootOptions, cmd *cobra.Command, results []rules.PricingResult) error {
	if opts.Format == "json" {
		f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return f.Success(results)
	}

	for _, r := range results {
		if r.OnSale {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %.2f -> %.2f (%s)\n", r.SKU, r.OriginalPrice, r.UnitPrice, r.RuleDescription)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %.2f\n", r.SKU, r.UnitPrice)
		}
	}
	return nil
}
