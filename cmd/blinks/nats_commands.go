package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	natspkg "github.com/brojonat/blinks/service/nats"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand streams Blink events from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to attempt and payment events",
		ArgsUsage: "[blink_id]",
		Description: `Subscribe to real-time Blink events published to NATS JetStream.

Attempt events are published to blinks.attempts.{blink_id} and payment
confirmations to blinks.paid.{blink_id}. Without a Blink ID every Blink is
streamed.

Example:
  blinks nats subscribe 5f0c1d3e-... --events paid --json
  blinks nats subscribe --must-jq '.base_units > 1000000000'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "events",
				Usage: "Which events to stream: attempts, paid or all",
				Value: "all",
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "blinks-cli",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq expression an event must satisfy to be shown (repeatable, all must match)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("at most one blink ID may be given")
			}

			subjects, err := eventSubjects(c.String("events"), c.Args().First())
			if err != nil {
				return err
			}

			var filters []*gojq.Code
			for _, expr := range c.StringSlice("must-jq") {
				code, err := compileFilter(expr)
				if err != nil {
					return err
				}
				filters = append(filters, code)
			}

			return streamEvents(c, subjects, filters)
		},
	}
}

// eventSubjects returns the subjects to consume for an event selection and
// an optional Blink ID.
func eventSubjects(events, blinkID string) ([]string, error) {
	id := blinkID
	if id == "" {
		id = "*"
	}

	switch events {
	case "attempts":
		return []string{natspkg.AttemptSubject(id)}, nil
	case "paid":
		return []string{natspkg.PaidSubject(id)}, nil
	case "all", "":
		return []string{natspkg.AttemptSubject(id), natspkg.PaidSubject(id)}, nil
	default:
		return nil, fmt.Errorf("unknown event selection %q (use attempts, paid or all)", events)
	}
}

// matchesAll reports whether every filter yields a truthy first result for
// the event payload.
func matchesAll(filters []*gojq.Code, data []byte) bool {
	if len(filters) == 0 {
		return true
	}

	var payload interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return false
	}

	for _, code := range filters {
		v, ok := code.Run(payload).Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// streamEvents connects to NATS and prints events until interrupted.
func streamEvents(c *cli.Context, subjects []string, filters []*gojq.Code) error {
	natsURL := c.String("nats-url")
	jsonOutput := c.Bool("json")

	// Connect to NATS
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintf(os.Stderr, "📡 Subscribing to: %s\n", strings.Join(subjects, ", "))
		fmt.Fprintf(os.Stderr, "   NATS: %s\n", natsURL)
		fmt.Fprintf(os.Stderr, "\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubjects: subjects,
		AckPolicy:      jetstream.AckExplicitPolicy,
	}
	if c.Bool("durable") {
		consumerConfig.Durable = c.String("consumer-name")
		consumerConfig.Name = c.String("consumer-name")
	}

	cons, err := js.CreateOrUpdateConsumer(c.Context, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			if matchesAll(filters, msg.Data()) {
				count++
				if jsonOutput {
					fmt.Fprintln(stdout, string(msg.Data()))
				} else {
					printEvent(stdout, msg.Subject(), msg.Data())
				}
			}
			msg.Ack()

		case <-sigChan:
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "\n\n✅ Received %d events\n", count)
			}
			return nil
		}
	}
}

func printEvent(w io.Writer, subject string, data []byte) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "%s\n", subject)
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")

	if strings.HasPrefix(subject, "blinks.paid.") {
		var event natspkg.PaidEvent
		if err := json.Unmarshal(data, &event); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
			return
		}
		fmt.Fprintf(w, "Blink:      %s\n", event.BlinkID)
		fmt.Fprintf(w, "Wallet:     %s\n", event.Wallet)
		fmt.Fprintf(w, "Signature:  %s\n", event.Signature)
		fmt.Fprintf(w, "Fee:        %d lamports\n", event.Lamports)
		fmt.Fprintf(w, "Paid At:    %s\n\n", event.PaidAt.Format(time.RFC3339))
		return
	}

	var event natspkg.AttemptEvent
	if err := json.Unmarshal(data, &event); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Blink:      %s (%s)\n", event.BlinkID, event.Kind)
	fmt.Fprintf(w, "Sender:     %s\n", event.Sender)
	fmt.Fprintf(w, "Recipient:  %s\n", event.Recipient)
	fmt.Fprintf(w, "Amount:     %g (%d base units)\n", event.Amount, event.BaseUnits)
	if event.Mint != "" {
		fmt.Fprintf(w, "Mint:       %s\n", event.Mint)
	}
	fmt.Fprintf(w, "Published:  %s\n\n", event.PublishedAt.Format(time.RFC3339))
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the BLINKS JetStream stream",
		Description: `Show information about the JetStream stream including:
- Message count
- Consumers
- Storage usage

Example:
  blinks nats inspect-stream`,
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
			defer cancel()

			stream, err := js.Stream(ctx, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			return render(c, info, func(w io.Writer) {
				fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
				fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
				fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
				fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
				fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
				fmt.Fprintf(w, "First Seq:    %d\n", info.State.FirstSeq)
				fmt.Fprintf(w, "Last Seq:     %d\n", info.State.LastSeq)
				fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
				fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
				fmt.Fprintf(w, "Storage:      %s\n", info.Config.Storage)
			})
		},
	}
}
