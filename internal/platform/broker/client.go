// Package broker wraps the Kafka clients the gateway produces with: a plain
// fire-and-forget producer for status and retry events, and a transactional
// producer for the indexer/status pair that must commit atomically.
package broker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Client is the plain producer.
type Client struct {
	cl     *kgo.Client
	logger zerolog.Logger
}

func NewClient(seeds []string, logger zerolog.Logger) (*Client, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	return &Client{cl: cl, logger: logger.With().Str("component", "broker").Logger()}, nil
}

// Send produces records and waits for the broker acks.
func (c *Client) Send(ctx context.Context, records ...*kgo.Record) error {
	return c.cl.ProduceSync(ctx, records...).FirstErr()
}

func (c *Client) Ping(ctx context.Context) error { return c.cl.Ping(ctx) }

func (c *Client) Close() { c.cl.Close() }

// TxClient is the transactional producer. Each Send is one transaction.
type TxClient struct {
	cl     *kgo.Client
	logger zerolog.Logger
}

func NewTxClient(seeds []string, transactionalID string, logger zerolog.Logger) (*TxClient, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.TransactionalID(transactionalID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create transactional producer: %w", err)
	}
	return &TxClient{cl: cl, logger: logger.With().Str("component", "broker-tx").Logger()}, nil
}

// Send produces all records inside one transaction. Any produce failure
// aborts the transaction so either every record becomes visible or none.
func (c *TxClient) Send(ctx context.Context, records ...*kgo.Record) error {
	if err := c.cl.BeginTransaction(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := c.cl.ProduceSync(ctx, records...).FirstErr(); err != nil {
		if abortErr := c.cl.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			c.logger.Error().Err(abortErr).Msg("transaction abort failed")
		}
		return fmt.Errorf("produce in transaction: %w", err)
	}
	if err := c.cl.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (c *TxClient) Close() { c.cl.Close() }
