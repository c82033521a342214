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

// Package indexer orchestrates components A-E per checkpoint (spec §4.6):
// tx-sequence bookkeeping, per-transaction change derivation, object-set
// reconciliation, package extraction, and epoch-boundary handling, producing
// one CheckpointBatch ready for the commit pipeline.
package indexer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/erigontech/move-indexer/internal/changeprocessor"
	"github.com/erigontech/move-indexer/internal/checkpoint"
	"github.com/erigontech/move-indexer/internal/dynamicfield"
	"github.com/erigontech/move-indexer/internal/ierrors"
	"github.com/erigontech/move-indexer/internal/indexed"
	"github.com/erigontech/move-indexer/internal/metrics"
	"github.com/erigontech/move-indexer/internal/moduleresolver"
	"github.com/erigontech/move-indexer/internal/objectcache"
	"github.com/erigontech/move-indexer/internal/objectprovider"
	"github.com/erigontech/move-indexer/internal/store"
)

// SequenceStore is the subset of store.Store CheckpointIndexer consults to
// recover its starting-tx-sequence bookkeeping and epoch totals.
type SequenceStore interface {
	CheckpointEndingTxSequenceNumber(ctx context.Context, checkpointSeq uint64) (uint64, bool, error)
	NetworkTotalTransactionsPreviousEpoch(ctx context.Context, epoch uint64) (uint64, bool, error)
}

// Indexer is CheckpointIndexer: the orchestrator of spec §4.6. One Indexer
// processes a strictly increasing stream of checkpoints; its in-memory
// sequence map is not safe for concurrent ProcessCheckpoint calls.
type Indexer struct {
	cache       *objectcache.Cache
	objects     *objectprovider.Provider
	moduleStore store.ModuleCache
	seqStore    SequenceStore
	dynField    *dynamicfield.Deriver
	log         *zap.Logger
	metrics     *metrics.Metrics

	mu            sync.Mutex
	startingTxSeq map[uint64]uint64
}

func New(cache *objectcache.Cache, objects *objectprovider.Provider, moduleStore store.ModuleCache, seqStore SequenceStore, log *zap.Logger, m *metrics.Metrics) *Indexer {
	return &Indexer{
		cache:         cache,
		objects:       objects,
		moduleStore:   moduleStore,
		seqStore:      seqStore,
		dynField:      dynamicfield.New(),
		log:           log,
		metrics:       m,
		startingTxSeq: make(map[uint64]uint64),
	}
}

// ProcessCheckpoint runs components A-E over one checkpoint and returns the
// resulting batch. It surfaces the first error encountered verbatim; the
// caller decides whether to retry the checkpoint.
func (ix *Indexer) ProcessCheckpoint(ctx context.Context, cp *checkpoint.CheckpointData) (*store.CheckpointBatch, error) {
	start := time.Now()
	startingSeq, err := ix.resolveStartingSequence(ctx, cp.Summary.SequenceNumber)
	if err != nil {
		return nil, err
	}

	for _, obj := range cp.Objects {
		ix.cache.InsertObject(obj)
	}

	packages := extractPackages(cp)
	resolver := moduleresolver.New(ix.cache, ix.moduleStore, packages)
	changer := changeprocessor.New(ix.objects)

	txRows := make([]indexed.IndexedTransaction, len(cp.Transactions))
	txIndexRows := make([]indexed.TxIndex, len(cp.Transactions))
	eventRows := make([]indexed.IndexedEvent, 0)
	writtenObjects := writtenObjectsByID(cp)

	for i, tx := range cp.Transactions {
		txSeq := startingSeq + uint64(i)
		result, err := changer.Process(ctx, &tx, writtenObjects)
		if err != nil {
			return nil, err
		}
		kind := indexed.KindProgrammable
		if tx.Data.Kind == checkpoint.KindSystem {
			kind = indexed.KindSystem
		}
		var events []checkpoint.Event
		if tx.Events != nil {
			events = tx.Events.Data
			for j, ev := range tx.Events.Data {
				eventRows = append(eventRows, indexed.IndexedEvent{
					TxSequenceNumber: txSeq,
					EventIndexInTx:   uint64(j),
					TxDigest:         tx.Digest,
					Payload:          ev,
					TimestampMs:      cp.Summary.TimestampMs,
				})
			}
		}
		txRows[i] = indexed.IndexedTransaction{
			TxSequenceNumber:       txSeq,
			TxDigest:               tx.Digest,
			CheckpointSequence:     cp.Summary.SequenceNumber,
			TimestampMs:            cp.Summary.TimestampMs,
			Transaction:            tx.Data,
			Effects:                tx.Effects,
			ObjectChanges:          result.ObjectChanges,
			BalanceChanges:         result.BalanceChanges,
			Events:                 events,
			Kind:                   kind,
			SuccessfulCommandCount: successfulCommandCount(&tx),
		}
		txIndexRows[i] = buildTxIndex(txSeq, &tx)
	}

	objectChangeSet, err := ix.buildObjectChangeSet(cp, writtenObjects, resolver)
	if err != nil {
		return nil, err
	}

	epochUpdate, err := ix.computeEpochUpdate(ctx, cp)
	if err != nil {
		return nil, err
	}

	checkpointRow := indexed.IndexedCheckpoint{
		SequenceNumber:           cp.Summary.SequenceNumber,
		Digest:                   cp.Contents.Digest,
		Epoch:                    cp.Summary.Epoch,
		TimestampMs:              cp.Summary.TimestampMs,
		NetworkTotalTransactions: cp.Summary.NetworkTotalTransactions,
		SuccessfulTxNum:          countSuccessful(txRows),
		EndOfEpochData:           cp.Summary.EndOfEpochData,
		ContentsDigest:           cp.Contents.Digest,
	}

	ix.recordNextStartingSequence(cp.Summary.SequenceNumber, startingSeq+uint64(len(cp.Transactions)))

	if ix.metrics != nil {
		ix.metrics.TransactionsPerCheckpoint.Observe(float64(len(cp.Transactions)))
		ix.metrics.CheckpointLatencySeconds.Observe(time.Since(start).Seconds())
	}
	if ix.log != nil {
		ix.log.Info("processed checkpoint",
			zap.Uint64("sequence", cp.Summary.SequenceNumber),
			zap.Int("transactions", len(cp.Transactions)),
			zap.Int("objects_mutated", len(objectChangeSet.Mutated)),
			zap.Int("objects_deleted", len(objectChangeSet.Deleted)))
	}

	return &store.CheckpointBatch{
		Checkpoint:   checkpointRow,
		Transactions: txRows,
		TxIndices:    txIndexRows,
		Events:       eventRows,
		Objects:      objectChangeSet,
		Packages:     packages,
		EpochUpdate:  epochUpdate,
	}, nil
}

// buildTxIndex derives spec §4.6's TxIndex for one transaction: its input
// and changed object ids, its sender, its address-owner recipients (deduped,
// first-occurrence order, per Testable Property #4), and the set of module
// entry points it called.
func buildTxIndex(txSeq uint64, tx *checkpoint.CheckpointTransaction) indexed.TxIndex {
	inputIDs := make([]checkpoint.ObjectID, len(tx.Data.InputObjects))
	for i, in := range tx.Data.InputObjects {
		inputIDs[i] = in.ObjectID
	}

	changedSeen := make(map[checkpoint.ObjectID]struct{})
	var changedIDs []checkpoint.ObjectID
	var recipients []checkpoint.Address
	recipientSeen := make(map[checkpoint.Address]struct{})
	for _, c := range tx.Effects.AllChangedObjects() {
		if _, ok := changedSeen[c.Ref.ObjectID]; !ok {
			changedSeen[c.Ref.ObjectID] = struct{}{}
			changedIDs = append(changedIDs, c.Ref.ObjectID)
		}
		if c.Owner.Kind != checkpoint.OwnerAddress {
			continue
		}
		if _, ok := recipientSeen[c.Owner.Address]; ok {
			continue
		}
		recipientSeen[c.Owner.Address] = struct{}{}
		recipients = append(recipients, c.Owner.Address)
	}

	moveCallSeen := make(map[indexed.MoveCallKey]struct{})
	var moveCalls []indexed.MoveCallKey
	for _, mc := range tx.Data.MoveCalls {
		key := indexed.MoveCallKey{Package: mc.Package, Module: mc.Module, Function: mc.Function}
		if _, ok := moveCallSeen[key]; ok {
			continue
		}
		moveCallSeen[key] = struct{}{}
		moveCalls = append(moveCalls, key)
	}

	return indexed.TxIndex{
		TxSequenceNumber: txSeq,
		TxDigest:         tx.Digest,
		InputObjectIDs:   inputIDs,
		ChangedObjectIDs: changedIDs,
		Senders:          []checkpoint.Address{tx.Data.Sender},
		Recipients:       recipients,
		MoveCalls:        moveCalls,
	}
}

// resolveStartingSequence implements the bookkeeping rule of spec §4.6: C=0
// starts at 0; otherwise prefer the in-memory record, falling back to the
// store's ending sequence for C-1, failing fatally if neither has it.
func (ix *Indexer) resolveStartingSequence(ctx context.Context, seq uint64) (uint64, error) {
	if seq == 0 {
		return 0, nil
	}
	ix.mu.Lock()
	cached, ok := ix.startingTxSeq[seq]
	ix.mu.Unlock()
	if ok {
		return cached, nil
	}
	ending, ok, err := ix.seqStore.CheckpointEndingTxSequenceNumber(ctx, seq-1)
	if err != nil {
		return 0, ierrors.Wrap(err, ierrors.StoreRead)
	}
	if !ok {
		return 0, ierrors.New(ierrors.Invariant, "no starting tx sequence recorded for checkpoint %d and none in-memory", seq)
	}
	return ending, nil
}

func (ix *Indexer) recordNextStartingSequence(seq, nextStarting uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.startingTxSeq[seq+1] = nextStarting
	delete(ix.startingTxSeq, seq)
}

// buildObjectChangeSet implements spec §4.6 steps 2-3: retain only the
// highest version per object id from the checkpoint's own object list,
// then for every changed-object ref across every transaction, skip
// superseded/removed refs and otherwise emit an IndexedObject (running
// DynamicFieldDeriver on it).
func (ix *Indexer) buildObjectChangeSet(cp *checkpoint.CheckpointData, writtenObjects map[checkpoint.ObjectID]checkpoint.Object, resolver *moduleresolver.Resolver) (indexed.ObjectChangeSet, error) {
	latest := make(map[checkpoint.ObjectID]checkpoint.Object, len(cp.Objects))
	for _, obj := range cp.Objects {
		if existing, ok := latest[obj.ID]; !ok || obj.Version > existing.Version {
			latest[obj.ID] = obj
		}
	}
	discarded := make(map[checkpoint.ObjectRef]struct{})
	for _, obj := range cp.Objects {
		if latest[obj.ID].Version != obj.Version {
			discarded[obj.Ref()] = struct{}{}
		}
	}

	deletedIDs := make(map[checkpoint.ObjectRef]struct{})
	var deleted []checkpoint.ObjectRef
	for _, tx := range cp.Transactions {
		for _, ref := range tx.Effects.AllRemovedObjects() {
			if _, seen := deletedIDs[ref]; seen {
				continue
			}
			deletedIDs[ref] = struct{}{}
			deleted = append(deleted, ref)
		}
	}

	seen := make(map[checkpoint.ObjectRef]struct{})
	var mutated []indexed.IndexedObject
	for _, tx := range cp.Transactions {
		for _, c := range tx.Effects.AllChangedObjects() {
			ref := c.Ref
			if _, ok := discarded[ref]; ok {
				continue
			}
			if _, ok := deletedIDs[ref]; ok {
				continue
			}
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}

			obj, ok := latest[ref.ObjectID]
			if !ok {
				return indexed.ObjectChangeSet{}, ierrors.New(ierrors.Invariant,
					"object %s referenced by effects but absent from checkpoint objects", ref.ObjectID)
			}
			if obj.Version != ref.Version {
				return indexed.ObjectChangeSet{}, ierrors.New(ierrors.Invariant,
					"object %s retained at version %d, effects expect version %d", ref.ObjectID, obj.Version, ref.Version)
			}
			dynField, err := ix.dynField.Derive(obj, writtenObjects, resolver)
			if err != nil {
				return indexed.ObjectChangeSet{}, err
			}
			mutated = append(mutated, indexed.IndexedObject{
				CheckpointSequence: cp.Summary.SequenceNumber,
				Object:             obj,
				DynamicField:       dynField,
			})
		}
	}

	return indexed.ObjectChangeSet{
		CheckpointSequence: cp.Summary.SequenceNumber,
		Mutated:            mutated,
		Deleted:            deleted,
	}, nil
}

// computeEpochUpdate implements spec §4.6's three epoch cases: genesis,
// ordinary (no record), and end-of-epoch (close the prior epoch, open the
// next).
func (ix *Indexer) computeEpochUpdate(ctx context.Context, cp *checkpoint.CheckpointData) (*indexed.EpochUpdate, error) {
	if cp.Summary.SequenceNumber == 0 {
		state, err := checkpoint.ExtractSystemState(cp.Objects)
		if err != nil {
			return nil, ierrors.Wrap(err, ierrors.Invariant)
		}
		return &indexed.EpochUpdate{
			NewEpoch: &indexed.IndexedEpochInfo{
				Epoch:                 0,
				FirstCheckpointID:     0,
				EpochStartTimestampMs: cp.Summary.TimestampMs,
				Validators:            state.ActiveValidators,
				ReferenceGasPrice:     state.ReferenceGasPrice,
				ProtocolVersion:       state.ProtocolVersion,
			},
		}, nil
	}

	if cp.Summary.EndOfEpochData == nil {
		return nil, nil
	}

	found, ok := checkpoint.FindSystemEpochInfoEvent(cp.Transactions)
	if !ok {
		return nil, ierrors.New(ierrors.Invariant, "end-of-epoch checkpoint %d carries no SystemEpochInfoEvent", cp.Summary.SequenceNumber)
	}
	epochEvent, err := checkpoint.DecodeSystemEpochInfoEvent(found.Contents)
	if err != nil {
		return nil, ierrors.Wrap(err, ierrors.SerDe)
	}

	state, err := checkpoint.ExtractSystemState(cp.Objects)
	if err != nil {
		return nil, ierrors.Wrap(err, ierrors.Invariant)
	}

	endedEpoch := cp.Summary.Epoch
	prevTotal, ok, err := ix.seqStore.NetworkTotalTransactionsPreviousEpoch(ctx, endedEpoch)
	if err != nil {
		return nil, ierrors.Wrap(err, ierrors.StoreRead)
	}
	if !ok {
		return nil, ierrors.New(ierrors.Invariant, "no previous-epoch transaction total recorded for epoch %d", endedEpoch)
	}

	endOfEpoch := &indexed.IndexedEndOfEpochInfo{
		Epoch:                        endedEpoch,
		LastCheckpointID:             cp.Summary.SequenceNumber,
		EpochEndTimestampMs:          cp.Summary.TimestampMs,
		ProtocolVersion:              cp.Summary.EndOfEpochData.NextEpochProtocolVersion,
		ReferenceGasPrice:            epochEvent.ReferenceGasPrice,
		TotalStake:                   epochEvent.TotalStake,
		StorageFundReinvestment:      epochEvent.StorageFundReinvestment,
		StorageCharge:                epochEvent.StorageCharge,
		StorageRebate:                epochEvent.StorageRebate,
		LeftoverStorageFundInflow:    epochEvent.LeftoverStorageFundInflow,
		StakeSubsidyAmount:           epochEvent.StakeSubsidyAmount,
		StorageFundBalance:           epochEvent.StorageFundBalance,
		TotalGasFees:                 epochEvent.TotalGasFees,
		TotalStakeRewardsDistributed: epochEvent.TotalStakeRewardsDistributed,
		EpochTotalTransactions:       cp.Summary.NetworkTotalTransactions - prevTotal,
	}
	newEpoch := &indexed.IndexedEpochInfo{
		Epoch:                 endedEpoch + 1,
		FirstCheckpointID:     cp.Summary.SequenceNumber + 1,
		EpochStartTimestampMs: cp.Summary.TimestampMs,
		Validators:            state.ActiveValidators,
		ReferenceGasPrice:     state.ReferenceGasPrice,
		ProtocolVersion:       cp.Summary.EndOfEpochData.NextEpochProtocolVersion,
	}

	return &indexed.EpochUpdate{NewEpoch: newEpoch, EndOfEpoch: endOfEpoch}, nil
}

func extractPackages(cp *checkpoint.CheckpointData) []indexed.IndexedPackage {
	var out []indexed.IndexedPackage
	seen := make(map[checkpoint.ObjectID]struct{})
	for _, obj := range cp.Objects {
		if obj.Data.Kind != checkpoint.DataPackage || obj.Data.Package == nil {
			continue
		}
		if _, ok := seen[obj.ID]; ok {
			continue
		}
		seen[obj.ID] = struct{}{}
		out = append(out, indexed.IndexedPackage{PackageID: obj.ID, MovePackage: *obj.Data.Package})
	}
	return out
}

func writtenObjectsByID(cp *checkpoint.CheckpointData) map[checkpoint.ObjectID]checkpoint.Object {
	out := make(map[checkpoint.ObjectID]checkpoint.Object, len(cp.Objects))
	for _, obj := range cp.Objects {
		if existing, ok := out[obj.ID]; !ok || obj.Version > existing.Version {
			out[obj.ID] = obj
		}
	}
	return out
}

func successfulCommandCount(tx *checkpoint.CheckpointTransaction) uint64 {
	if !tx.Effects.Status.Success {
		return 0
	}
	return uint64(len(tx.Data.MoveCalls))
}

func countSuccessful(txs []indexed.IndexedTransaction) uint64 {
	var n uint64
	for _, tx := range txs {
		if tx.Effects.Status.Success {
			n++
		}
	}
	return n
}
