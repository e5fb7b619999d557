package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/brojonat/blinks/client"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const divider = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

func newClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a donation Blink and print its creation-fee transaction",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "wallet", Aliases: []string{"w"}, Usage: "Creator wallet that receives donations", Required: true},
			&cli.StringFlag{Name: "title", Usage: "Blink title", Required: true},
			&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Blink description", Required: true},
			&cli.StringFlag{Name: "label", Usage: "Button label", Required: true},
			&cli.StringFlag{Name: "icon", Usage: "Icon URL (http or https)", Required: true},
		},
		Action: func(c *cli.Context) error {
			resp, err := newClient(c).CreateBlink(c.Context, client.CreateBlinkRequest{
				Icon:        c.String("icon"),
				Title:       c.String("title"),
				Description: c.String("description"),
				Label:       c.String("label"),
				Wallet:      c.String("wallet"),
			})
			if err != nil {
				return fmt.Errorf("failed to create blink: %w", err)
			}
			return render(c, resp, func(w io.Writer) { printCreated(w, resp) })
		},
	}
}

func createTokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-token",
		Usage: "Create a token Blink prefilled from the mint's metadata",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "wallet", Aliases: []string{"w"}, Usage: "Creator wallet", Required: true},
			&cli.StringFlag{Name: "mint", Aliases: []string{"m"}, Usage: "SPL token mint", Required: true},
			&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Blink description", Required: true},
			&cli.StringFlag{Name: "label", Usage: "Button label", Value: "Buy"},
			&cli.Float64Flag{Name: "commission", Usage: "Commission taken for the creator (0..1, capped by the server); 0 disables it"},
		},
		Action: func(c *cli.Context) error {
			percentage := c.Float64("commission")
			if percentage < 0 || percentage > 1 {
				return fmt.Errorf("commission must be between 0 and 1")
			}

			resp, err := newClient(c).CreateTokenBlink(c.Context, client.CreateTokenBlinkRequest{
				Label:       c.String("label"),
				Description: c.String("description"),
				Wallet:      c.String("wallet"),
				Mint:        c.String("mint"),
				Commission:  percentage > 0,
				Percentage:  percentage,
			})
			if err != nil {
				return fmt.Errorf("failed to create token blink: %w", err)
			}
			return render(c, resp, func(w io.Writer) { printCreated(w, resp) })
		},
	}
}

func printCreated(w io.Writer, resp *client.CreateBlinkResponse) {
	fmt.Fprintln(w, "✓ Blink created")
	fmt.Fprintf(w, "  ID:         %s\n", resp.ID)
	fmt.Fprintf(w, "  Action URL: %s\n", resp.ActionURL)
	if resp.Transaction == "" {
		return
	}
	fmt.Fprintf(w, "  Memo:       %s\n", resp.Memo)
	fmt.Fprintf(w, "  Transaction (sign and submit to pay the creation fee):\n%s\n", resp.Transaction)
	fmt.Fprintf(os.Stderr, "\nAfter submitting, run: blinks pay %s <signature> --wait\n", resp.ID)
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get a Blink",
		ArgsUsage: "BLINK_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: blink ID")
			}

			blink, err := newClient(c).GetBlink(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get blink: %w", err)
			}
			return render(c, blink, func(w io.Writer) { printBlink(w, blink) })
		},
	}
}

func getManyCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-many",
		Usage:     "Get several Blinks concurrently",
		ArgsUsage: "BLINK_ID...",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "concurrency", Usage: "Maximum parallel requests", Value: 4},
		},
		Action: func(c *cli.Context) error {
			ids := c.Args().Slice()
			if len(ids) == 0 {
				return fmt.Errorf("at least one blink ID is required")
			}

			blinks, err := fetchBlinks(c.Context, newClient(c), ids, c.Int("concurrency"))
			if err != nil {
				return err
			}
			return render(c, blinks, func(w io.Writer) {
				for _, b := range blinks {
					printBlink(w, b)
				}
			})
		},
	}
}

// fetchBlinks gets every id in parallel and keeps the input order. The first
// failure cancels the remaining requests.
func fetchBlinks(ctx context.Context, cl *client.Client, ids []string, concurrency int) ([]*client.Blink, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	blinks := make([]*client.Blink, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range ids {
		g.Go(func() error {
			b, err := cl.GetBlink(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to get blink %s: %w", id, err)
			}
			blinks[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blinks, nil
}

func printBlink(w io.Writer, b *client.Blink) {
	fmt.Fprintln(w, divider)
	fmt.Fprintf(w, "ID:          %s\n", b.ID)
	fmt.Fprintf(w, "Kind:        %s\n", b.Kind)
	fmt.Fprintf(w, "Title:       %s\n", b.Title)
	fmt.Fprintf(w, "Description: %s\n", b.Description)
	fmt.Fprintf(w, "Label:       %s\n", b.Label)
	fmt.Fprintf(w, "Wallet:      %s\n", b.Wallet)
	if b.Mint != nil {
		symbol := ""
		if b.Symbol != nil {
			symbol = " (" + *b.Symbol + ")"
		}
		fmt.Fprintf(w, "Mint:        %s%s\n", *b.Mint, symbol)
	}
	if b.Commission {
		fmt.Fprintf(w, "Commission:  %.2f%%\n", b.Percentage*100)
	}
	fmt.Fprintf(w, "Paid:        %t\n", b.IsPaid)
	fmt.Fprintf(w, "Action URL:  %s\n", b.ActionURL)
	fmt.Fprintf(w, "Created At:  %s\n", b.CreatedAt.Format(time.RFC3339))
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List the Blinks owned by a wallet",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "wallet", Aliases: []string{"w"}, Usage: "Owner wallet", Required: true},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum number of Blinks (1-1000)", Value: 20},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Number of Blinks to skip"},
		},
		Action: func(c *cli.Context) error {
			limit := c.Int("limit")
			offset := c.Int("offset")
			if limit < 1 || limit > 1000 {
				return fmt.Errorf("limit must be between 1 and 1000")
			}
			if offset < 0 {
				return fmt.Errorf("offset cannot be negative")
			}

			blinks, err := newClient(c).ListBlinks(c.Context, c.String("wallet"), limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list blinks: %w", err)
			}
			return render(c, blinks, func(w io.Writer) {
				if len(blinks) == 0 {
					fmt.Fprintln(w, "No blinks found")
					return
				}
				for _, b := range blinks {
					printBlink(w, b)
				}
				fmt.Fprintf(os.Stderr, "\nTotal: %d blinks\n", len(blinks))
			})
		},
	}
}

func attemptsCommand() *cli.Command {
	return &cli.Command{
		Name:      "attempts",
		Usage:     "List the transactions handed out for a Blink",
		ArgsUsage: "BLINK_ID",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum number of attempts", Value: 50},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: blink ID")
			}

			attempts, err := newClient(c).ListAttempts(c.Context, c.Args().First(), c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to list attempts: %w", err)
			}
			return render(c, attempts, func(w io.Writer) {
				if len(attempts) == 0 {
					fmt.Fprintln(w, "No attempts found")
					return
				}
				for _, a := range attempts {
					fmt.Fprintf(w, "[%d] %s  sender=%s  amount=%g  base_units=%d  status=%s\n",
						a.ID, a.CreatedAt.Format(time.RFC3339), a.Sender, a.Amount, a.BaseUnits, a.Status)
				}
			})
		},
	}
}

func actionCommands() *cli.Command {
	return &cli.Command{
		Name:  "action",
		Usage: "Call a Blink's action endpoints the way a wallet does",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Fetch the action metadata",
				ArgsUsage: "KIND BLINK_ID",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("requires exactly two arguments: kind and blink ID")
					}

					action, err := newClient(c).GetAction(c.Context, c.Args().Get(0), c.Args().Get(1))
					if err != nil {
						return fmt.Errorf("failed to get action: %w", err)
					}
					return render(c, action, func(w io.Writer) {
						fmt.Fprintf(w, "%s\n%s\n\n", action.Title, action.Description)
						fmt.Fprintf(w, "Icon:  %s\n", action.Icon)
						fmt.Fprintf(w, "Label: %s\n", action.Label)
						if action.Links == nil {
							return
						}
						for _, linked := range action.Links.Actions {
							fmt.Fprintf(w, "  [%s] %s\n", linked.Label, linked.Href)
						}
					})
				},
			},
			{
				Name:      "post",
				Usage:     "Request an unsigned transaction",
				ArgsUsage: "KIND BLINK_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "account", Aliases: []string{"a"}, Usage: "Payer wallet", Required: true},
					&cli.StringFlag{Name: "amount", Usage: "Amount in SOL or tokens; empty uses the server default"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("requires exactly two arguments: kind and blink ID")
					}

					tx, err := newClient(c).PostAction(c.Context, c.Args().Get(0), c.Args().Get(1), c.String("account"), c.String("amount"))
					if err != nil {
						return fmt.Errorf("failed to post action: %w", err)
					}
					return render(c, tx, func(w io.Writer) {
						fmt.Fprintf(w, "✓ %s\n", tx.Message)
						fmt.Fprintln(w, tx.Transaction)
					})
				},
			},
		},
	}
}

func payCommand() *cli.Command {
	return &cli.Command{
		Name:      "pay",
		Usage:     "Submit the signature of a Blink's creation-fee payment",
		ArgsUsage: "BLINK_ID SIGNATURE",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "wait", Usage: "Block until the confirmation workflow finishes"},
			&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Usage: "How long to wait with --wait", Value: 3 * time.Minute},
			&cli.DurationFlag{Name: "poll-interval", Usage: "Status polling interval with --wait", Value: 2 * time.Second},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: blink ID and signature")
			}

			cl := newClient(c)
			conf, err := cl.ConfirmPayment(c.Context, c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("failed to confirm payment: %w", err)
			}

			if conf.WorkflowID == "" || !c.Bool("wait") {
				return render(c, conf, func(w io.Writer) {
					if conf.WorkflowID != "" {
						fmt.Fprintf(w, "⏳ Confirmation started (workflow: %s)\n", conf.WorkflowID)
						return
					}
					fmt.Fprintf(w, "✓ Blink %s is %s\n", conf.BlinkID, conf.Status)
				})
			}

			fmt.Fprintf(os.Stderr, "Waiting for workflow %s...\n", conf.WorkflowID)
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			status, err := cl.AwaitPayment(ctx, conf.WorkflowID, c.Duration("poll-interval"))
			if err != nil {
				return fmt.Errorf("failed to await payment: %w", err)
			}
			if err := render(c, status, func(w io.Writer) { printPaymentStatus(w, status) }); err != nil {
				return err
			}
			if status.Result == nil || status.Result.Status != "paid" {
				return fmt.Errorf("payment was not confirmed (workflow status: %s)", status.Status)
			}
			return nil
		},
	}
}

func paymentStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "payment-status",
		Usage:     "Show the state of a payment confirmation workflow",
		ArgsUsage: "WORKFLOW_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: workflow ID")
			}

			workflowID := c.Args().First()
			if !strings.HasPrefix(workflowID, "blink-payment-") {
				// Accept a bare Blink ID.
				workflowID = "blink-payment-" + workflowID
			}

			status, err := newClient(c).GetPaymentStatus(c.Context, workflowID)
			if err != nil {
				return fmt.Errorf("failed to get payment status: %w", err)
			}
			return render(c, status, func(w io.Writer) { printPaymentStatus(w, status) })
		},
	}
}

func printPaymentStatus(w io.Writer, s *client.PaymentStatus) {
	fmt.Fprintf(w, "Workflow: %s\n", s.WorkflowID)
	fmt.Fprintf(w, "Status:   %s\n", s.Status)
	if s.StartTime != nil {
		fmt.Fprintf(w, "Started:  %s\n", s.StartTime.Format(time.RFC3339))
	}
	if s.CloseTime != nil {
		fmt.Fprintf(w, "Closed:   %s\n", s.CloseTime.Format(time.RFC3339))
	}
	if s.Result != nil {
		fmt.Fprintf(w, "Result:   %s (%d lamports, slot %d)\n", s.Result.Status, s.Result.Lamports, s.Result.Slot)
		if s.Result.Error != nil {
			fmt.Fprintf(w, "Reason:   %s\n", *s.Result.Error)
		}
	}
	if s.Error != nil {
		fmt.Fprintf(w, "Error:    %s\n", *s.Error)
	}
}

func tokenInfoCommand() *cli.Command {
	return &cli.Command{
		Name:      "token-info",
		Usage:     "Resolve token metadata for a mint",
		ArgsUsage: "MINT",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: mint address")
			}

			info, err := newClient(c).GetTokenInfo(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get token info: %w", err)
			}
			return render(c, info, func(w io.Writer) {
				fmt.Fprintf(w, "Mint:     %s\n", info.Mint)
				fmt.Fprintf(w, "Name:     %s\n", info.Name)
				fmt.Fprintf(w, "Symbol:   %s\n", info.Symbol)
				fmt.Fprintf(w, "Title:    %s\n", info.Title)
				fmt.Fprintf(w, "Icon:     %s\n", info.Icon)
				if info.Decimals != nil {
					fmt.Fprintf(w, "Decimals: %d\n", *info.Decimals)
				}
			})
		},
	}
}
