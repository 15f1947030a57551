package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/messaging"
	"github.com/bardlex/gocoal/internal/protocol"
	"github.com/bardlex/gocoal/pkg/log"
	"github.com/bardlex/gocoal/pkg/retry"
)

// TxPublisher sends submissions to ledgerd and reads back their results
type TxPublisher interface {
	Publish(ctx context.Context, topic, key string, v any) error
	AwaitResult(ctx context.Context, txID string) (messaging.TransactionResult, error)
	Close() error
}

var newPublisher = func(brokers []string, encoding messaging.Encoding) TxPublisher {
	logger := log.NewWithWriter(os.Stderr, "coalctl", "dev", "warn", "text")
	return messaging.NewKafkaClient(brokers, encoding, logger)
}

var (
	brokersFlag = &cli.StringSliceFlag{
		Name:    "brokers",
		Usage:   "Kafka brokers",
		Value:   cli.NewStringSlice("localhost:9092"),
		EnvVars: []string{"KAFKA_BROKERS"},
	}
	encodingFlag = &cli.StringFlag{
		Name:    "encoding",
		Usage:   "message encoding (json, proto)",
		Value:   "json",
		EnvVars: []string{"MESSAGE_ENCODING"},
	}
	waitFlag = &cli.DurationFlag{
		Name:  "wait",
		Usage: "wait this long for each result and resubmit on Spam or NeedsReset (0 publishes once)",
	}
	attemptsFlag = &cli.IntFlag{
		Name:  "attempts",
		Usage: "submissions to try when waiting",
		Value: retry.SubmissionConfig().MaxAttempts,
	}
	signerFlag = &cli.StringFlag{
		Name:     "signer",
		Usage:    "transaction signer (base58)",
		Required: true,
	}
)

var commandSubmit = &cli.Command{
	Name:  "submit",
	Usage: "publish a transaction to ledgerd",
	Flags: []cli.Flag{brokersFlag, encodingFlag, waitFlag, attemptsFlag},
	Subcommands: []*cli.Command{
		{
			Name:  "mine",
			Usage: "submit a solution",
			Flags: []cli.Flag{
				signerFlag,
				&cli.Uint64Flag{Name: "bus", Usage: "bus id"},
				&cli.StringFlag{Name: "digest", Usage: "solution digest (hex)", Required: true},
				&cli.Uint64Flag{Name: "nonce", Usage: "solution nonce"},
				&cli.BoolFlag{Name: "tool", Usage: "apply the signer's equipped tool"},
				&cli.StringFlag{Name: "guild-config", Usage: "guild config account (base58)"},
				&cli.StringFlag{Name: "guild-member", Usage: "guild member account (base58)"},
			},
			Action: func(ctx *cli.Context) error {
				return submit(ctx, &messaging.TransactionMessage{
					Kind:        messaging.KindMine,
					BusID:       ctx.Uint64("bus"),
					Digest:      ctx.String("digest"),
					Nonce:       ctx.Uint64("nonce"),
					Tool:        ctx.Bool("tool"),
					GuildConfig: ctx.String("guild-config"),
					GuildMember: ctx.String("guild-member"),
				})
			},
		},
		{
			Name:  "reset",
			Usage: "submit an epoch reset",
			Flags: []cli.Flag{signerFlag},
			Action: func(ctx *cli.Context) error {
				return submit(ctx, &messaging.TransactionMessage{Kind: messaging.KindReset})
			},
		},
	},
}

// submitRetry is the resubmission policy; tests shorten its delays
var submitRetry = retry.SubmissionConfig

func submit(ctx *cli.Context, msg *messaging.TransactionMessage) error {
	p, err := processor(ctx)
	if err != nil {
		return err
	}
	signer, err := account.ParsePubkey(ctx.String(signerFlag.Name))
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	encoding, err := messaging.ParseEncoding(ctx.String(encodingFlag.Name))
	if err != nil {
		return err
	}

	msg.Resource = p.Resource.Name()
	msg.Signer = signer.String()

	publisher := newPublisher(ctx.StringSlice(brokersFlag.Name), encoding)
	defer func() { _ = publisher.Close() }()

	publish := func() error {
		msg.TxID = messaging.NewID()
		msg.SubmittedAt = time.Now().UTC()
		pubCtx, cancel := context.WithTimeout(ctx.Context, 10*time.Second)
		defer cancel()
		return publisher.Publish(pubCtx, messaging.TopicTransactions, msg.Signer, msg)
	}

	wait := ctx.Duration(waitFlag.Name)
	if wait <= 0 {
		if err := publish(); err != nil {
			return err
		}
		return output(ctx, msg, func(w io.Writer) {
			fmt.Fprintf(w, "submitted %s %s\n", msg.Kind, msg.TxID)
		})
	}

	policy := submitRetry()
	policy.MaxAttempts = ctx.Int(attemptsFlag.Name)
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		fmt.Fprintf(ctx.App.ErrWriter, "attempt %d: %v, resubmitting in %s\n", attempt, err, delay.Round(time.Millisecond))
	}
	res, err := retry.DoWithResult(ctx.Context, policy, func() (messaging.TransactionResult, error) {
		if err := publish(); err != nil {
			return messaging.TransactionResult{}, err
		}
		waitCtx, cancel := context.WithTimeout(ctx.Context, wait)
		defer cancel()
		res, err := publisher.AwaitResult(waitCtx, msg.TxID)
		if err != nil {
			return res, err
		}
		return res, resultError(res)
	})
	if err != nil {
		return err
	}

	return output(ctx, res, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s %s at slot %d\n", res.Status, msg.Kind, res.TxID, res.Slot)
	})
}

// resultError turns a result that did not commit into an error carrying the
// program's abort, so timing aborts are recognised as worth resubmitting.
func resultError(res messaging.TransactionResult) error {
	if res.Status == messaging.StatusCommitted {
		return nil
	}
	if perr, ok := protocol.LookupCode(protocol.Code(res.ErrorCode)); ok && perr.Name == res.ErrorName {
		return fmt.Errorf("transaction %s %s: %w", res.TxID, res.Status, perr)
	}
	return fmt.Errorf("transaction %s %s: %s", res.TxID, res.Status, res.ErrorName)
}
