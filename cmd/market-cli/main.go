package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nazeru/market-ledger-go/internal/market/apiclient"
	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/internal/market/ledger"
)

type options struct {
	baseURL string
	account string
	scale   int32
	timeout time.Duration
}

func (o *options) client() *apiclient.Client {
	return apiclient.New(o.baseURL, domain.AccountID(o.account), &http.Client{Timeout: o.timeout})
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "market-cli",
		Short:         "Drive a market-service from the command line",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.baseURL, "base-url", getenv("MARKET_BASE_URL", "http://localhost:8080"), "market-service base URL")
	root.PersistentFlags().StringVar(&opts.account, "account", getenv("MARKET_ACCOUNT", ""), "account to act as")
	root.PersistentFlags().Int32Var(&opts.scale, "scale", 2, "decimal places of the currency unit")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "per-request timeout")

	root.AddCommand(newTUICmd(opts), newSeedCmd(opts), newStatsCmd(opts), newBuyCmd(opts), newRunCmd(opts))
	return root
}

func newTUICmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Pick and run scenarios interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := tea.NewProgram(initialModel(opts)).Run()
			return err
		},
	}
}

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "run <scenario>",
		Short:     "Run one scenario and print the result",
		Args:      cobra.ExactArgs(1),
		ValidArgs: scenarioNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			scn, ok := findScenario(args[0])
			if !ok {
				return fmt.Errorf("unknown scenario %q (have %s)", args[0], strings.Join(scenarioNames(), ", "))
			}
			res := runScenario(cmd.Context(), opts, scn)
			fmt.Fprintln(cmd.OutOrStdout(), res.status)
			if res.detail != "" {
				fmt.Fprintln(cmd.OutOrStdout(), res.detail)
			}
			return res.err
		},
	}
}

func newSeedCmd(opts *options) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "List every item of a YAML catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			cat, err := parseCatalog(data, opts.scale)
			if err != nil {
				return err
			}
			c := opts.client()
			for _, e := range cat {
				it, err := c.As(e.seller).ListItem(cmd.Context(), e.input)
				if err != nil {
					return fmt.Errorf("list %q: %w", e.input.Title, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", it.ID, it.Seller, apiclient.FormatAmount(it.Price, opts.scale), it.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "catalog.yaml", "catalog file")
	return cmd
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print market statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := opts.client().Stats(cmd.Context())
			if err != nil {
				return err
			}
			var volume domain.Amount
			byStatus := map[domain.OrderStatus]int{}
			for _, d := range st.Data {
				volume = volume.AddSat(d.Total)
				byStatus[d.Status]++
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sellers=%d buyers=%d products=%d services=%d carts=%d orders=%d\n",
				st.Sellers, st.Buyers, st.Products, st.Services, st.Carts, st.Orders)
			fmt.Fprintf(out, "volume=%s\n", apiclient.FormatAmount(volume, opts.scale))
			for _, s := range domain.OrderStatuses {
				fmt.Fprintf(out, "  %-10s %d\n", s, byStatus[s])
			}
			return nil
		},
	}
}

func newBuyCmd(opts *options) *cobra.Command {
	var (
		item, tendered, address string
		qty                     uint64
	)
	cmd := &cobra.Command{
		Use:   "buy",
		Short: "Add an item to the cart and check out",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.account == "" {
				return fmt.Errorf("--account is required")
			}
			id, err := domain.ParseHash(item)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*opts.timeout)
			defer cancel()
			c := opts.client()
			cart, err := c.AddToCart(ctx, id, qty)
			if err != nil {
				return err
			}
			pay := cart.Total
			if tendered != "" {
				if pay, err = apiclient.ParseAmount(tendered, opts.scale); err != nil {
					return err
				}
			}
			rc, err := c.Checkout(ctx, ledger.CheckoutInput{DeliverToAddress: address, Tendered: pay}, "")
			if err != nil {
				return err
			}
			for _, o := range rc.Orders {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", o.ID, o.Status, apiclient.FormatAmount(o.LineTotal, opts.scale), o.ItemTitle)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&item, "item", "", "item id")
	cmd.Flags().Uint64Var(&qty, "qty", 1, "quantity")
	cmd.Flags().StringVar(&tendered, "tendered", "", "amount paid, defaults to the cart total")
	cmd.Flags().StringVar(&address, "address", "", "delivery address")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
