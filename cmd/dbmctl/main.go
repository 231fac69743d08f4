// Command dbmctl talks to the business manager command API.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	userID     string
	userHeader string
	timeout    time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dbmctl",
		Short:         "Send instructions to the business manager assistant",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL(), "API base URL (env DBM_API_URL)")
	root.PersistentFlags().StringVar(&userID, "user", os.Getenv("DBM_USER_ID"), "user id to act as (env DBM_USER_ID)")
	root.PersistentFlags().StringVar(&userHeader, "user-header", "X-User-ID", "header carrying the user id")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "request timeout")

	root.AddCommand(newCommandCmd(), newActivityCmd(), newSummaryCmd(), newStockCmd())
	return root
}

func requireClient() (*client, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("--user is required")
	}
	return newClient(serverURL, userHeader, userID, timeout), nil
}

func newCommandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "command <instruction>",
		Short: "Resolve a natural-language instruction",
		Example: `  dbmctl command --user u1 "invoice Jane Doe for 500"
  dbmctl command --user u1 "add a task: follow up with marketing, due tomorrow"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireClient()
			if err != nil {
				return err
			}
			res, err := c.sendCommand(strings.Join(args, " "))
			if err != nil {
				return err
			}
			printCommandResult(cmd.OutOrStdout(), res)
			if res.Failed {
				return fmt.Errorf("command failed")
			}
			return nil
		},
	}
}

func printCommandResult(w io.Writer, res *commandResult) {
	fmt.Fprintln(w, res.Reply)
	for _, a := range res.Actions {
		line := fmt.Sprintf("  - %s [%s]", a.Tool, a.Status)
		if a.EntityID != "" {
			line += " " + a.EntityID
		}
		if a.Detail != "" && a.Status != "succeeded" {
			line += ": " + a.Detail
		}
		fmt.Fprintln(w, line)
	}
	if res.Failed && res.Retryable {
		fmt.Fprintln(w, "(temporary problem; you can resubmit the same instruction)")
	}
}

func newActivityCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireClient()
			if err != nil {
				return err
			}
			acts, err := c.recentActivity(limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(acts) == 0 {
				fmt.Fprintln(w, "No recent activity.")
				return nil
			}
			for _, a := range acts {
				fmt.Fprintf(w, "%s  %s\n", a.Timestamp.Local().Format("2006-01-02 15:04"), a.Description)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of entries")
	return cmd
}

func newSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Summarize today's business activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireClient()
			if err != nil {
				return err
			}
			sum, err := c.dailySummary()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", sum.Date, sum.Summary)
			return nil
		},
	}
}

func newStockCmd() *cobra.Command {
	stock := &cobra.Command{Use: "stock", Short: "Manage inventory items"}

	var (
		sku      string
		quantity float64
		price    float64
	)
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add an inventory item",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireClient()
			if err != nil {
				return err
			}
			var p *float64
			if cmd.Flags().Changed("price") {
				p = &price
			}
			item, err := c.addStock(strings.Join(args, " "), sku, quantity, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s), quantity %g\n", item.Name, item.ID, item.Quantity)
			return nil
		},
	}
	add.Flags().StringVar(&sku, "sku", "", "stock keeping unit")
	add.Flags().Float64Var(&quantity, "quantity", 0, "quantity on hand")
	add.Flags().Float64Var(&price, "price", 0, "unit price")
	stock.AddCommand(add)
	return stock
}
