// Package microbatch batches inserts on a transaction so the many child rows
// of an advisory (packages, CVEs, fixes, affected products) don't pay one
// round trip each.
package microbatch

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Insert creates batches limited by the configured batch size.
type Insert struct {
	// a transaction to send the batch on
	tx pgx.Tx
	// the current batch holding queued inserts.
	currBatch *pgx.Batch
	// the size we flush a batch
	batchSize int
	// the current queued inserts
	currQueue int
	// the total number of rows queued
	total int
	// the timeout specified for a batch operation
	timeout time.Duration
}

// NewInsert returns a new micro batcher queueing inserts onto tx.
func NewInsert(tx pgx.Tx, batchSize int, timeout time.Duration) *Insert {
	if timeout == 0 {
		timeout = time.Minute
	}
	return &Insert{
		tx:        tx,
		batchSize: batchSize,
		timeout:   timeout,
	}
}

// Queue enqueues a query and its arguments into a batch.
//
// When the configured batch size is reached all queued inserts are sent.
func (v *Insert) Queue(ctx context.Context, query string, args ...interface{}) error {
	if v.currQueue == v.batchSize {
		if err := v.sendBatch(ctx); err != nil {
			return fmt.Errorf("failed to flush batch while queueing: %w", err)
		}
		v.currQueue = 0
	}

	v.currQueue++
	v.total++

	if v.currBatch == nil {
		v.currBatch = &pgx.Batch{}
	}

	v.currBatch.Queue(query, args...)
	return nil
}

// Done submits any remaining queued inserts.
//
// Done MUST be called once the caller has queued all rows to ensure the
// batches are properly flushed.
func (v *Insert) Done(ctx context.Context) error {
	if v.currQueue == 0 {
		return nil
	}

	tctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	res := v.tx.SendBatch(tctx, v.currBatch)
	defer res.Close()
	for i := 0; i < v.currQueue; i++ {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("failed in exec iteration %d, %w", i, err)
		}
	}
	return nil
}

// SendBatch is called from Queue when the batchSize threshold is reached.
func (v *Insert) sendBatch(ctx context.Context) error {
	tctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	res := v.tx.SendBatch(tctx, v.currBatch)
	defer res.Close()
	defer func() {
		v.currBatch = nil
	}()
	for i := 0; i < v.batchSize; i++ {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return nil
}
