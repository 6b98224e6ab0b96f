package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/canonical"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/store/fixture"
)

type globalFlags struct {
	fixture  string
	tenancy  string
	now      string
	verbose  bool
	customer string
	custType string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "entitle-playground",
		Short:         "Evaluate entitlement fixtures",
		Long:          `Load a YAML or JSONC ledger fixture into memory and query it at any instant.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.fixture, "fixture", "", "ledger fixture file (.yaml, .yml or JSONC)")
	pf.StringVar(&g.tenancy, "tenancy", "", "tenancy id (default: the fixture's tenancy)")
	pf.StringVar(&g.now, "now", "", "evaluation instant, RFC 3339 (default: current time)")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log engine events to stderr")

	root.AddCommand(
		ownedCmd(g),
		quantityCmd(g),
		transactionsCmd(g),
		switchOptionsCmd(g),
		canonicalizeCmd(),
		versionIDCmd(),
	)
	return root
}

func customerFlags(cmd *cobra.Command, g *globalFlags) {
	cmd.Flags().StringVar(&g.customer, "customer", "", "customer id")
	cmd.Flags().StringVar(&g.custType, "customer-type", string(product.CustomerUser), "customer type: user, team or custom")
	_ = cmd.MarkFlagRequired("customer") //nolint:errcheck // flag is defined above
}

// session is an engine over a loaded fixture.
type session struct {
	engine  *entitle.Engine
	tenancy string
	now     time.Time
}

func (g *globalFlags) open(ctx context.Context, cmd *cobra.Command) (*session, error) {
	if g.fixture == "" {
		return nil, errors.New("--fixture is required")
	}
	fx, err := fixture.LoadFile(ctx, g.fixture)
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	e := entitle.New(fx.Store,
		entitle.WithLogger(logger),
		entitle.WithCatalog(fx.Provider()),
	)
	if err := e.Start(ctx); err != nil {
		return nil, err
	}

	s := &session{engine: e, tenancy: fx.Tenancy, now: time.Now().UTC()}
	if g.tenancy != "" {
		s.tenancy = g.tenancy
	}
	if g.now != "" {
		s.now, err = time.Parse(time.RFC3339Nano, g.now)
		if err != nil {
			return nil, fmt.Errorf("--now: %w", err)
		}
	}
	return s, nil
}

func (g *globalFlags) customerType() (product.CustomerType, error) {
	return product.ParseCustomerType(g.custType)
}

func ownedCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "owned",
		Short:   "List the products a customer owns",
		Example: `  entitle-playground owned --fixture ledger.yaml --customer alice --now 2025-02-15T00:00:00Z`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.engine.Stop()

			ct, err := g.customerType()
			if err != nil {
				return err
			}
			owned, err := s.engine.GetOwnedProducts(ctx, s.tenancy, ct, g.customer, s.now)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), owned)
		},
	}
	customerFlags(cmd, g)
	return cmd
}

func quantityCmd(g *globalFlags) *cobra.Command {
	var (
		itemID    string
		effective bool
	)
	cmd := &cobra.Command{
		Use:   "quantity",
		Short: "Show a customer's item quantity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.engine.Stop()

			ct, err := g.customerType()
			if err != nil {
				return err
			}
			get := s.engine.GetItemQuantity
			if effective {
				get = s.engine.GetEffectiveItemQuantity
			}
			n, err := get(ctx, s.tenancy, itemID, g.customer, ct, s.now)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
			return err
		},
	}
	customerFlags(cmd, g)
	cmd.Flags().StringVar(&itemID, "item", "", "item id")
	cmd.Flags().BoolVar(&effective, "effective", false, "include items bundled with owned products")
	_ = cmd.MarkFlagRequired("item") //nolint:errcheck // flag is defined above
	return cmd
}

func transactionsCmd(g *globalFlags) *cobra.Command {
	var (
		limit  int
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "Page through the transaction history",
		Long: `Page through the transaction history, newest first. Without --customer
every customer of the tenancy is listed. Pass the printed next_cursor back
with --cursor to fetch the following page.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.engine.Stop()

			var filter entitle.TransactionFilter
			if g.customer != "" {
				ct, err := g.customerType()
				if err != nil {
					return err
				}
				filter = entitle.TransactionFilter{CustomerType: ct, CustomerID: g.customer}
			}
			page, err := s.engine.ListTransactionsPage(ctx, s.tenancy, filter, cursor, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), page)
		},
	}
	cmd.Flags().StringVar(&g.customer, "customer", "", "customer id (default: all customers)")
	cmd.Flags().StringVar(&g.custType, "customer-type", string(product.CustomerUser), "customer type: user, team or custom")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (default: engine default)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor from a previous page")
	return cmd
}

func switchOptionsCmd(g *globalFlags) *cobra.Command {
	var (
		productID string
		client    bool
	)
	cmd := &cobra.Command{
		Use:   "switch-options",
		Short: "List the products a subscriber may switch to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.engine.Stop()

			ct, err := g.customerType()
			if err != nil {
				return err
			}
			opts, err := s.engine.ListSwitchOptions(ctx, s.tenancy, ct, productID, client)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&productID, "product", "", "active product id")
	cmd.Flags().StringVar(&g.custType, "customer-type", string(product.CustomerUser), "customer type: user, team or custom")
	cmd.Flags().BoolVar(&client, "client", false, "hide server-only products and prices")
	_ = cmd.MarkFlagRequired("product") //nolint:errcheck // flag is defined above
	return cmd
}

func canonicalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "canonicalize [file]",
		Short: "Print the canonical form of a JSON document",
		Long:  `Read JSON from file, or stdin when no file is given, and print it with sorted keys and no insignificant whitespace.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := readDocument(cmd, args)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), canonical.Canonicalize(v))
			return err
		},
	}
}

func versionIDCmd() *cobra.Command {
	var productID string
	cmd := &cobra.Command{
		Use:   "version-id [file]",
		Short: "Compute the product version id of a product document",
		Long:  `Read a product JSON document from file or stdin and print its content address. Omit --product-id for inline products.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := readDocument(cmd, args)
			if err != nil {
				return err
			}
			var pid *string
			if cmd.Flags().Changed("product-id") {
				pid = &productID
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), product.ComputeVersionID(pid, v))
			return err
		},
	}
	cmd.Flags().StringVar(&productID, "product-id", "", "catalog product id")
	return cmd
}

func readDocument(cmd *cobra.Command, args []string) (canonical.Value, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 && args[0] != "-" {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return canonical.Value{}, err
	}
	return canonical.FromJSON(data)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
