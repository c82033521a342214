// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package commitpipeline drains CheckpointBatch values off the bounded
// channel spec §5 describes and persists them: five independent table writes
// (plus any epoch update) fanned out concurrently, then the checkpoint row last as the durability fence
// (spec §4.7). Retries follow the same "poll with a bounded budget, then
// fail" shape as the teacher's turbo/snapshotsync.WaitForDownloader, but
// implemented with exponential backoff (cenkalti/backoff/v4) instead of a
// fixed-interval ticker, since store writes benefit from backing off under
// contention in a way a download-completion poll does not.
package commitpipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/erigontech/move-indexer/internal/config"
	"github.com/erigontech/move-indexer/internal/ierrors"
	"github.com/erigontech/move-indexer/internal/indexed"
	"github.com/erigontech/move-indexer/internal/metrics"
	"github.com/erigontech/move-indexer/internal/store"
	"github.com/erigontech/move-indexer/internal/xmath"
)

// Pipeline is CommitPipeline: the sole consumer of the checkpoint-batch
// channel, run as its own goroutine by cmd/indexer.
type Pipeline struct {
	store   store.Store
	cfg     config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(s store.Store, cfg config.Config, log *zap.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{store: s, cfg: cfg, log: log, metrics: m}
}

// Run drains batches from in until ctx is cancelled or the channel closes,
// accumulating up to cfg.CheckpointCommitBatchSize checkpoint batches per
// commit to amortize store round trips (spec §4.7). It returns the first
// fatal error encountered; channel closure with no error is reported as nil.
func (p *Pipeline) Run(ctx context.Context, in <-chan *store.CheckpointBatch) error {
	for {
		first, ok, err := p.recv(ctx, in)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		batches := []*store.CheckpointBatch{first}
		batches = p.drainUpTo(in, batches, p.cfg.CheckpointCommitBatchSize)

		if p.metrics != nil {
			p.metrics.QueueDepth.Set(float64(len(in)))
		}
		if err := p.commit(ctx, batches); err != nil {
			return err
		}
	}
}

func (p *Pipeline) recv(ctx context.Context, in <-chan *store.CheckpointBatch) (*store.CheckpointBatch, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case batch, ok := <-in:
		return batch, ok, nil
	}
}

// drainUpTo opportunistically grabs any further batches already sitting in
// the channel, without blocking, until limit is reached or the channel is
// momentarily empty. It never blocks waiting for more: once queued work runs
// out the commit proceeds with whatever arrived in time.
func (p *Pipeline) drainUpTo(in <-chan *store.CheckpointBatch, batches []*store.CheckpointBatch, limit int) []*store.CheckpointBatch {
	for len(batches) < limit {
		select {
		case batch, ok := <-in:
			if !ok {
				return batches
			}
			batches = append(batches, batch)
		default:
			return batches
		}
	}
	return batches
}

// commit persists one drained group of checkpoint batches: Objects, one
// flattened Transactions/TxIndices/Events/Packages/EpochUpdate vector each,
// fanned out concurrently via errgroup (the same independent-work idiom
// changeprocessor.Process uses at the transaction level), then the
// checkpoint header rows last, in order, only once every other write has
// succeeded — the durability fence of spec §4.7.
func (p *Pipeline) commit(ctx context.Context, batches []*store.CheckpointBatch) error {
	if p.cfg.SkipDBCommit {
		if p.log != nil {
			p.log.Info("skip_db_commit set, discarding batch", zap.Int("checkpoints", len(batches)))
		}
		return nil
	}

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.CommitLatencySeconds.Observe(time.Since(start).Seconds())
		}
	}()

	flat := flatten(batches)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.retryWrite(gctx, "transactions", func() error { return p.persistTransactionChunks(gctx, flat.transactions) }) })
	g.Go(func() error { return p.retryWrite(gctx, "tx_indices", func() error { return p.store.PersistTxIndices(gctx, flat.txIndices) }) })
	g.Go(func() error { return p.retryWrite(gctx, "events", func() error { return p.store.PersistEvents(gctx, flat.events) }) })
	g.Go(func() error { return p.retryWrite(gctx, "objects", func() error { return p.persistObjectChunks(gctx, flat.objects) }) })
	g.Go(func() error { return p.retryWrite(gctx, "packages", func() error { return p.store.PersistPackages(gctx, flat.packages) }) })
	for _, update := range flat.epochUpdates {
		update := update
		g.Go(func() error { return p.retryWrite(gctx, "epochs", func() error { return p.store.PersistEpochUpdate(gctx, update) }) })
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if err := p.retryWrite(ctx, "checkpoints", func() error { return p.store.PersistCheckpoints(ctx, flat.checkpoints) }); err != nil {
		return err
	}

	if p.metrics != nil {
		p.metrics.CheckpointsCommittedTotal.Add(float64(len(flat.checkpoints)))
	}
	if p.log != nil {
		p.log.Info("committed checkpoints",
			zap.Uint64("first", flat.checkpoints[0].SequenceNumber),
			zap.Uint64("last", flat.checkpoints[len(flat.checkpoints)-1].SequenceNumber),
			zap.Int("count", len(flat.checkpoints)))
	}
	return nil
}

// flattened holds the per-table vectors produced by flattening a drained
// group of CheckpointBatch values, preserving input (checkpoint-sequence)
// order within each vector per spec §5's ordering guarantee.
type flattened struct {
	checkpoints  []indexed.IndexedCheckpoint
	transactions []indexed.IndexedTransaction
	txIndices    []indexed.TxIndex
	events       []indexed.IndexedEvent
	packages     []indexed.IndexedPackage
	objects      []indexed.ObjectChangeSet
	epochUpdates []*indexed.EpochUpdate
}

func flatten(batches []*store.CheckpointBatch) flattened {
	var f flattened
	f.checkpoints = make([]indexed.IndexedCheckpoint, 0, len(batches))
	f.objects = make([]indexed.ObjectChangeSet, 0, len(batches))
	for _, b := range batches {
		f.checkpoints = append(f.checkpoints, b.Checkpoint)
		f.transactions = append(f.transactions, b.Transactions...)
		f.txIndices = append(f.txIndices, b.TxIndices...)
		f.events = append(f.events, b.Events...)
		f.packages = append(f.packages, b.Packages...)
		f.objects = append(f.objects, b.Objects)
		if b.EpochUpdate != nil {
			f.epochUpdates = append(f.epochUpdates, b.EpochUpdate)
		}
	}
	return f
}

// persistTransactionChunks splits the flattened transaction vector into
// xmath.Chunks-sized groups so a single store write call never receives an
// unbounded slice, matching the cfg.ObjectPersistChunkSize knob of spec §5.
func (p *Pipeline) persistTransactionChunks(ctx context.Context, txs []indexed.IndexedTransaction) error {
	for _, bounds := range xmath.Chunks(len(txs), p.cfg.ObjectPersistChunkSize) {
		if err := p.store.PersistTransactions(ctx, txs[bounds[0]:bounds[1]]); err != nil {
			return err
		}
	}
	return nil
}

// persistObjectChunks writes one ObjectChangeSet per checkpoint (spec §4.7
// keeps object_changes as a list, one entry per checkpoint, because
// per-checkpoint latest-wins logic runs again at store level), chunking each
// checkpoint's mutated rows into ObjectPersistChunkSize groups; PersistObjects
// is required to be idempotent, so a chunk boundary never risks a partial,
// unsafe-to-replay write.
func (p *Pipeline) persistObjectChunks(ctx context.Context, changeSets []indexed.ObjectChangeSet) error {
	for _, cs := range changeSets {
		bounds := xmath.Chunks(len(cs.Mutated), p.cfg.ObjectPersistChunkSize)
		if len(bounds) == 0 {
			if err := p.store.PersistObjects(ctx, cs); err != nil {
				return err
			}
			continue
		}
		for i, b := range bounds {
			chunk := indexed.ObjectChangeSet{
				CheckpointSequence: cs.CheckpointSequence,
				Mutated:            cs.Mutated[b[0]:b[1]],
			}
			if i == 0 {
				chunk.Deleted = cs.Deleted
			}
			if err := p.store.PersistObjects(ctx, chunk); err != nil {
				return err
			}
		}
	}
	return nil
}

// retryWrite retries fn with exponential backoff bounded by
// cfg.StoreRetryBudget, classifying errors via ierrors: a non-transient
// error fails immediately without consuming the retry budget.
func (p *Pipeline) retryWrite(ctx context.Context, table string, fn func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.MaxElapsedTime = p.cfg.StoreRetryBudget
	b := backoff.WithContext(exp, ctx)
	operation := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !ierrors.Is(err, ierrors.StoreWrite) && !ierrors.Is(err, ierrors.StoreRead) {
			return backoff.Permanent(err)
		}
		return err
	}
	// notify runs once before each retry, so the counter counts retries.
	notify := func(error, time.Duration) {
		if p.metrics != nil {
			p.metrics.StoreRetriesTotal.WithLabelValues(table).Inc()
		}
	}
	return backoff.RetryNotify(operation, b, notify)
}
