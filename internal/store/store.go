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

// Package store defines the durable storage port the commit pipeline
// writes through and the object/module providers read through. It carries
// no implementation — spec §6 leaves the concrete backend out of scope —
// only the contract every concrete backend must satisfy, documented table
// by table the way the teacher documents its kv schema in
// erigon-lib/kv/tables.go.
package store

import (
	"context"

	"github.com/erigontech/move-indexer/internal/checkpoint"
	"github.com/erigontech/move-indexer/internal/indexed"
	"github.com/erigontech/move-indexer/internal/objectcache"
)

// Tables names the logical tables a Store implementation persists to. The
// pipeline itself is storage-agnostic; these names exist so every backend
// documents its schema the same way.
const (
	// TableCheckpoints holds one row per checkpoint: key is the checkpoint
	// sequence number, value is indexed.IndexedCheckpoint.
	TableCheckpoints = "checkpoints"
	// TableTransactions holds one row per transaction: key is the tx
	// sequence number, value is indexed.IndexedTransaction.
	TableTransactions = "transactions"
	// TableEvents holds one row per emitted event: key is
	// (tx_sequence_number, event_index_in_tx), value is indexed.IndexedEvent.
	TableEvents = "events"
	// TableTxIndices holds one row per transaction: key is the tx sequence
	// number, value is indexed.TxIndex, the lookup keys (input/changed
	// object ids, senders, recipients, move calls) derived from that
	// transaction.
	TableTxIndices = "tx_indices"
	// TableObjects holds one row per retained object mutation: key is
	// (object_id, version), value is indexed.IndexedObject.
	TableObjects = "objects"
	// TablePackages holds one row per published package: key is the
	// package id, value is indexed.IndexedPackage.
	TablePackages = "packages"
	// TableEpochs holds one row per epoch: key is the epoch number, value
	// is indexed.IndexedEpochInfo, later augmented in place with
	// indexed.IndexedEndOfEpochInfo fields at the epoch's last checkpoint.
	TableEpochs = "epochs"
	// TableTxSequence holds a single row: the last committed transaction
	// sequence number, the crash-recovery bookkeeping CheckpointIndexer
	// falls back to when its in-memory counter is unset.
	TableTxSequence = "tx_sequence"
)

// CheckpointBatch is everything one checkpoint's processing produces,
// handed to the commit pipeline as a unit so it can fan its per-table
// writes (transactions, tx indices, events, objects, packages, and, when
// present, the epoch update) out concurrently and commit the checkpoint
// marker last.
type CheckpointBatch struct {
	Checkpoint   indexed.IndexedCheckpoint
	Transactions []indexed.IndexedTransaction
	TxIndices    []indexed.TxIndex
	Events       []indexed.IndexedEvent
	Objects      indexed.ObjectChangeSet
	Packages     []indexed.IndexedPackage
	EpochUpdate  *indexed.EpochUpdate
}

// Store is the durable storage port. Implementations must make
// PersistCheckpoints' write of TableCheckpoints the last of a commit's
// writes to become visible, so that CheckpointSequence in TableCheckpoints
// is always a safe low-water mark for where to resume after a crash.
type Store interface {
	GetObject(ctx context.Context, id checkpoint.ObjectID, version checkpoint.SequenceNumber) (checkpoint.Object, bool, error)
	GetLatestObjectBelowOrAt(ctx context.Context, id checkpoint.ObjectID, version checkpoint.SequenceNumber) (checkpoint.Object, bool, error)

	ModuleCache() ModuleCache

	// CheckpointEndingTxSequenceNumber returns the tx sequence number one
	// past the last transaction of the given checkpoint, used by
	// CheckpointIndexer to recover a starting sequence it has no
	// in-memory record of (process start or crash recovery).
	CheckpointEndingTxSequenceNumber(ctx context.Context, checkpointSeq uint64) (uint64, bool, error)

	// NetworkTotalTransactionsPreviousEpoch returns network_total_transactions
	// as of the last checkpoint of the epoch before the given one, used to
	// compute the given epoch's transaction count when it ends.
	NetworkTotalTransactionsPreviousEpoch(ctx context.Context, epoch uint64) (uint64, bool, error)

	// PersistTransactions, PersistTxIndices, PersistEvents, PersistObjects,
	// and PersistPackages write their respective tables. The commit
	// pipeline calls all five concurrently before calling
	// PersistCheckpoints.
	PersistTransactions(ctx context.Context, txs []indexed.IndexedTransaction) error
	PersistTxIndices(ctx context.Context, indices []indexed.TxIndex) error
	PersistEvents(ctx context.Context, events []indexed.IndexedEvent) error
	PersistObjects(ctx context.Context, changes indexed.ObjectChangeSet) error
	PersistPackages(ctx context.Context, pkgs []indexed.IndexedPackage) error
	PersistEpochUpdate(ctx context.Context, update *indexed.EpochUpdate) error

	// PersistCheckpoints writes TableCheckpoints and, by convention, is
	// called only after every other write belonging to the same commit
	// batch has succeeded: its success is what marks those checkpoints
	// committed. Rows are passed in ascending sequence order.
	PersistCheckpoints(ctx context.Context, rows []indexed.IndexedCheckpoint) error
}

// ModuleCache is the durable fallback tier moduleresolver.Resolver consults
// once a module is not found in the in-memory objectcache.Cache.
type ModuleCache interface {
	GetModule(id objectcache.ModuleID) (*objectcache.CompiledModule, bool, error)
}
