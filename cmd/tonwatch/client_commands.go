package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/tonwatch/client"
	"github.com/itchyny/gojq"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the tonwatch service",
		Subcommands: []*cli.Command{
			awaitCommand(),
			verifyCommand(),
			syncCommand(),
			monitorCommand(),
		},
	}
}

func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:  "await",
		Usage: "Block until a deposit matching criteria arrives",
		Description: `Poll the service until a matching deposit appears.

Match criteria can be a transaction hash, a sender address, or an arbitrary
jq filter evaluated against the deposit JSON. The filter matches when it
produces a truthy value.

Examples:
  tonwatch client await --tx-hash 3b1f...
  tonwatch client await --filter '.sender_address == "UQalice" and (.amount_ton | tonumber) >= 1'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "tx-hash",
				Usage: "Match by exact transaction hash",
			},
			&cli.StringFlag{
				Name:  "sender",
				Usage: "Match by exact sender address",
			},
			&cli.StringFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "jq expression evaluated against each deposit",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Poll interval",
				Value: 5 * time.Second,
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for the deposit",
			},
		},
		Action: func(c *cli.Context) error {
			txHash := c.String("tx-hash")
			sender := c.String("sender")
			filterExpr := c.String("filter")
			jsonOutput := c.Bool("json")

			if txHash == "" && sender == "" && filterExpr == "" {
				return fmt.Errorf("must specify --tx-hash, --sender, or --filter")
			}

			match, err := buildMatcher(txHash, sender, filterExpr)
			if err != nil {
				return err
			}

			cl := newServiceClient(c)

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Waiting for deposit...\n")
				if txHash != "" {
					fmt.Fprintf(os.Stderr, "  Tx Hash: %s\n", txHash)
				}
				if sender != "" {
					fmt.Fprintf(os.Stderr, "  Sender:  %s\n", sender)
				}
				if filterExpr != "" {
					fmt.Fprintf(os.Stderr, "  Filter:  %s\n", filterExpr)
				}
				fmt.Fprintf(os.Stderr, "  Timeout: %v\n\n", c.Duration("timeout"))
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			dep, err := cl.Await(ctx, c.Duration("interval"), match)
			if err != nil {
				return fmt.Errorf("failed to await deposit: %w", err)
			}

			if jsonOutput {
				data, err := json.MarshalIndent(dep, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal deposit: %w", err)
				}
				fmt.Println(string(data))
			} else {
				printDepositDetailed(dep)
			}

			return nil
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Check whether a deposit of an exact amount arrived recently",
		ArgsUsage: "<amount-ton>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "sender",
				Usage: "Restrict to deposits from this sender address",
			},
			&cli.DurationFlag{
				Name:  "window",
				Usage: "Lookback window",
				Value: time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: amount in TON")
			}

			amount, err := decimal.NewFromString(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}

			cl := newServiceClient(c)
			result, err := cl.Verify(context.Background(), amount, c.String("sender"), c.Duration("window"))
			if err != nil {
				return fmt.Errorf("failed to verify deposit: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(result)
			}

			if result.Verified {
				fmt.Printf("✓ Deposit verified: %s TON (%d match(es))\n", amount.String(), result.Count)
				for _, dep := range result.Deposits {
					fmt.Printf("  Tx Hash: %s\n", dep.TxHash)
					fmt.Printf("  Sender:  %s\n", dep.SenderAddress)
				}
				return nil
			}

			return fmt.Errorf("no matching deposit of %s TON found within %v", amount.String(), c.Duration("window"))
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Trigger one sync cycle against the chain",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Number of recent transactions to fetch (0 uses the server default)",
			},
		},
		Action: func(c *cli.Context) error {
			cl := newServiceClient(c)
			result, err := cl.Sync(context.Background(), c.Int("limit"))
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(result)
			}

			fmt.Printf("✓ Sync complete\n")
			fmt.Printf("  Accepted: %d\n", result.AcceptedCount)
			fmt.Printf("  Rejected: %d\n", result.RejectedCount)
			for _, dep := range result.Accepted {
				fmt.Printf("  + %s TON from %s (%s)\n", dep.AmountTON.String(), dep.SenderAddress, truncateHash(dep.TxHash))
			}
			return nil
		},
	}
}

func monitorCommand() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Continuously sync and print new deposits as they arrive",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Sync interval",
				Value: 30 * time.Second,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Number of recent transactions each cycle fetches (0 uses the server default)",
			},
		},
		Action: func(c *cli.Context) error {
			cl := newServiceClient(c)
			interval := c.Duration("interval")
			limit := c.Int("limit")
			jsonOutput := c.Bool("json")

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Monitoring deposits every %v... (Ctrl-C to exit)\n\n", interval)
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			total := 0
			for {
				result, err := cl.Sync(context.Background(), limit)
				if err != nil {
					// A conflict just means a scheduled cycle beat us to it.
					fmt.Fprintf(os.Stderr, "sync failed: %v\n", err)
				} else {
					for _, dep := range result.Accepted {
						total++
						if jsonOutput {
							data, _ := json.Marshal(dep)
							fmt.Println(string(data))
						} else {
							printDepositDetailed(dep)
						}
					}
				}

				select {
				case <-sigChan:
					if !jsonOutput {
						fmt.Fprintf(os.Stderr, "\n✅ Observed %d deposits\n", total)
					}
					return nil
				case <-ticker.C:
				}
			}
		},
	}
}

// buildMatcher combines the exact-match flags and the jq filter into a single
// deposit matcher. All given criteria must hold.
func buildMatcher(txHash, sender, filterExpr string) (client.Matcher, error) {
	var code *gojq.Code
	if filterExpr != "" {
		query, err := gojq.Parse(filterExpr)
		if err != nil {
			return nil, fmt.Errorf("invalid filter expression: %w", err)
		}
		code, err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile filter expression: %w", err)
		}
	}

	return func(dep *client.Deposit) bool {
		if txHash != "" && dep.TxHash != txHash {
			return false
		}
		if sender != "" && dep.SenderAddress != sender {
			return false
		}
		if code != nil {
			return evalDepositFilter(code, dep)
		}
		return true
	}, nil
}

// evalDepositFilter runs a compiled jq program against the deposit's JSON
// representation and reports whether it produced a truthy value.
func evalDepositFilter(code *gojq.Code, dep *client.Deposit) bool {
	data, err := json.Marshal(dep)
	if err != nil {
		return false
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}

	iter := code.Run(doc)
	for {
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			continue
		}
		if v != nil && v != false {
			return true
		}
	}
}

// newServiceClient builds an HTTP API client from the global flags.
func newServiceClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server-url"), &http.Client{Timeout: 30 * time.Second}, logger)
}

func printDepositDetailed(dep *client.Deposit) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("✓ Deposit Received")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Tx Hash:     %s\n", dep.TxHash)
	fmt.Printf("Account:     %s\n", dep.AccountID)
	fmt.Printf("Sender:      %s\n", dep.SenderAddress)
	fmt.Printf("Amount:      %s TON\n", dep.AmountTON.String())

	if !dep.Timestamp.IsZero() {
		fmt.Printf("Timestamp:   %s\n", dep.Timestamp.Format(time.RFC3339))
	}

	if dep.Message != nil && *dep.Message != "" {
		fmt.Printf("Message:     %s\n", *dep.Message)
	}

	fmt.Printf("Confirmed:   %v\n", dep.Confirmed)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}
