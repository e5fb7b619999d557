package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/blinks/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func dbBlinksCommand() *cli.Command {
	return &cli.Command{
		Name:    "blinks",
		Usage:   "List the Blinks owned by a wallet",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "wallet",
				Aliases:  []string{"w"},
				Usage:    "Owner wallet",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "unpaid",
				Usage: "Only show Blinks whose creation fee is not confirmed",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of Blinks",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			blinks, err := store.ListBlinksByWallet(c.Context, db.ListBlinksByWalletParams{
				Wallet: c.String("wallet"),
				Limit:  int32(c.Int("limit")),
			})
			if err != nil {
				return fmt.Errorf("failed to list blinks: %w", err)
			}

			if c.Bool("unpaid") {
				filtered := make([]*db.Blink, 0)
				for _, b := range blinks {
					if !b.IsPaid {
						filtered = append(filtered, b)
					}
				}
				blinks = filtered
			}

			return render(c, blinks, func(out io.Writer) {
				// Pretty table output
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tKIND\tTITLE\tPAID\tCOMMISSION\tCREATED")
				for _, b := range blinks {
					commission := "-"
					if b.Commission.Enabled {
						commission = fmt.Sprintf("%.2f%%", b.Commission.Percentage*100)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
						b.ID,
						b.Kind,
						b.Title,
						b.IsPaid,
						commission,
						b.CreatedAt.Format(time.RFC3339),
					)
				}
				w.Flush()

				fmt.Fprintf(os.Stderr, "\nTotal: %d blinks\n", len(blinks))
			})
		},
	}
}

func dbGetBlinkCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-blink",
		Usage:     "Get Blink details",
		Aliases:   []string{"get"},
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: blink ID")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			blink, err := store.FindBlinkByID(c.Context, c.Args().First())
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("failed to get blink: blink %s not found", c.Args().First())
			}
			if err != nil {
				return fmt.Errorf("failed to get blink: %w", err)
			}

			return render(c, blink, func(w io.Writer) {
				fmt.Fprintf(w, "ID:          %s\n", blink.ID)
				fmt.Fprintf(w, "Kind:        %s\n", blink.Kind)
				fmt.Fprintf(w, "Title:       %s\n", blink.Title)
				fmt.Fprintf(w, "Wallet:      %s\n", blink.Wallet)
				if blink.Mint != nil {
					fmt.Fprintf(w, "Mint:        %s\n", *blink.Mint)
				}
				if blink.Decimals != nil {
					fmt.Fprintf(w, "Decimals:    %d\n", *blink.Decimals)
				}
				fmt.Fprintf(w, "Paid:        %t\n", blink.IsPaid)
				fmt.Fprintf(w, "Signature:   %s\n", formatOptional(blink.Signature))
				fmt.Fprintf(w, "Created:     %s\n", blink.CreatedAt.Format(time.RFC3339))
				if blink.UpdatedAt != nil {
					fmt.Fprintf(w, "Updated:     %s\n", blink.UpdatedAt.Format(time.RFC3339))
				}
			})
		},
	}
}

func dbAttemptsCommand() *cli.Command {
	return &cli.Command{
		Name:      "attempts",
		Usage:     "List transaction attempts recorded for a Blink",
		Aliases:   []string{"txs"},
		ArgsUsage: "<blink-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of attempts",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: blink ID")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			attempts, err := store.ListTransactionAttempts(c.Context, c.Args().First(), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list attempts: %w", err)
			}

			return render(c, attempts, func(out io.Writer) {
				if len(attempts) == 0 {
					fmt.Fprintln(out, "No attempts found")
					return
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSENDER\tAMOUNT\tBASE UNITS\tSTATUS\tCREATED")
				for _, a := range attempts {
					fmt.Fprintf(w, "%d\t%s\t%g\t%d\t%s\t%s\n",
						a.ID, a.Sender, a.Amount, a.BaseUnits, a.Status, a.CreatedAt.Format(time.RFC3339))
				}
				w.Flush()

				fmt.Fprintf(os.Stderr, "\nTotal: %d attempts\n", len(attempts))
			})
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	// Try to get from parent context first (for global flags)
	dbURL := c.String("database-url")
	if dbURL == "" {
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

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to format an optional value
func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "(none)"
}
