package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/tonwatch/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func listDepositsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-deposits",
		Usage:   "List recorded deposits",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "sender",
				Aliases: []string{"s"},
				Usage:   "Filter by sender address (substring match)",
			},
			&cli.StringFlag{
				Name:  "min-amount",
				Usage: "Minimum amount in TON (exact decimal, e.g. 0.05)",
			},
			&cli.StringFlag{
				Name:  "since",
				Usage: "Show deposits since this time (RFC3339 format)",
			},
			&cli.BoolFlag{
				Name:  "unprocessed",
				Usage: "Show only deposits not yet marked processed",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of deposits",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			params := db.ListDepositsParams{
				Sender: c.String("sender"),
				Limit:  int32(c.Int("limit")),
			}
			if minStr := c.String("min-amount"); minStr != "" {
				min, err := decimal.NewFromString(minStr)
				if err != nil {
					return fmt.Errorf("invalid min-amount: %w", err)
				}
				params.MinAmount = &min
			}
			if sinceStr := c.String("since"); sinceStr != "" {
				since, err := time.Parse(time.RFC3339, sinceStr)
				if err != nil {
					return fmt.Errorf("invalid time format (use RFC3339): %w", err)
				}
				params.From = &since
			}
			if c.Bool("unprocessed") {
				processed := false
				params.Processed = &processed
			}

			deposits, err := store.ListDeposits(context.Background(), params)
			if err != nil {
				return fmt.Errorf("failed to list deposits: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(deposits)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TX HASH\tSENDER\tAMOUNT (TON)\tTIMESTAMP\tPROCESSED")
			for _, dep := range deposits {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n",
					truncateHash(dep.TxHash),
					truncateHash(dep.SenderAddress),
					dep.Amount.String(),
					dep.Timestamp.Format(time.RFC3339),
					dep.Processed,
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d deposits\n", len(deposits))
			return nil
		},
	}
}

func getDepositCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-deposit",
		Usage:     "Get deposit details",
		Aliases:   []string{"get"},
		ArgsUsage: "<tx-hash>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction hash")
			}

			txHash := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			dep, err := store.GetDeposit(context.Background(), txHash)
			if err != nil {
				return fmt.Errorf("failed to get deposit: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(dep)
			}

			// Pretty output
			fmt.Printf("Tx Hash:       %s\n", dep.TxHash)
			fmt.Printf("Account:       %s\n", dep.AccountID)
			fmt.Printf("Sender:        %s\n", dep.SenderAddress)
			fmt.Printf("Amount:        %s TON (%d nanotons)\n", dep.Amount.String(), dep.AmountNanotons)
			if dep.Message != nil && *dep.Message != "" {
				fmt.Printf("Message:       %s\n", *dep.Message)
			} else {
				fmt.Printf("Message:       (none)\n")
			}
			fmt.Printf("Logical Time:  %d\n", dep.LogicalTime)
			fmt.Printf("Timestamp:     %s\n", dep.Timestamp.Format(time.RFC3339))
			fmt.Printf("Confirmed:     %v\n", dep.Confirmed)
			fmt.Printf("Processed:     %v\n", dep.Processed)
			fmt.Printf("Recorded At:   %s\n", dep.CreatedAt.Format(time.RFC3339))

			return nil
		},
	}
}

func depositStatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show aggregate deposit statistics",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "since",
				Usage: "Aggregate deposits since this time (RFC3339 format)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			params := db.ListDepositsParams{}
			if sinceStr := c.String("since"); sinceStr != "" {
				since, err := time.Parse(time.RFC3339, sinceStr)
				if err != nil {
					return fmt.Errorf("invalid time format (use RFC3339): %w", err)
				}
				params.From = &since
			}

			stats, err := store.AggregateDeposits(context.Background(), params)
			if err != nil {
				return fmt.Errorf("failed to aggregate deposits: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(stats)
			}

			fmt.Printf("Total Deposits:   %d\n", stats.TotalCount)
			fmt.Printf("Total Amount:     %s TON\n", stats.TotalAmount.String())
			fmt.Printf("Distinct Senders: %d\n", stats.DistinctSenders)
			fmt.Printf("Min Amount:       %s TON\n", stats.MinAmount.String())
			fmt.Printf("Max Amount:       %s TON\n", stats.MaxAmount.String())
			fmt.Printf("Processed:        %d\n", stats.ProcessedCount)
			fmt.Printf("Confirmed:        %d\n", stats.ConfirmedCount)
			if stats.FirstTimestamp != nil {
				fmt.Printf("First Deposit:    %s\n", stats.FirstTimestamp.Format(time.RFC3339))
			}
			if stats.LastTimestamp != nil {
				fmt.Printf("Last Deposit:     %s\n", stats.LastTimestamp.Format(time.RFC3339))
			}

			return nil
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	// Try to get from parent context first (for global flags)
	dbURL := c.String("database-url")
	if dbURL == "" && c.App != nil {
		// Try environment variable directly if flag not found
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncateHash shortens long hashes and addresses for table output.
func truncateHash(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:8] + ".." + s[len(s)-6:]
}
