package indexer_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/move-indexer/internal/checkpoint"
	"github.com/erigontech/move-indexer/internal/indexer"
	"github.com/erigontech/move-indexer/internal/objectcache"
	"github.com/erigontech/move-indexer/internal/objectprovider"
)

type fakeObjectStore struct{}

func (fakeObjectStore) GetObject(context.Context, checkpoint.ObjectID, checkpoint.SequenceNumber) (checkpoint.Object, bool, error) {
	return checkpoint.Object{}, false, nil
}
func (fakeObjectStore) GetLatestObjectBelowOrAt(context.Context, checkpoint.ObjectID, checkpoint.SequenceNumber) (checkpoint.Object, bool, error) {
	return checkpoint.Object{}, false, nil
}

type fakeFullNode struct{}

func (fakeFullNode) GetObject(context.Context, checkpoint.ObjectID, checkpoint.SequenceNumber) (checkpoint.Object, bool, error) {
	return checkpoint.Object{}, false, assert.AnError
}

type fakeModuleCache struct{}

func (fakeModuleCache) GetModule(objectcache.ModuleID) (*objectcache.CompiledModule, bool, error) {
	return nil, false, nil
}

// fakeSeqStore records checkpoint-ending sequences and epoch totals the way
// a real store would after earlier checkpoints had been committed.
type fakeSeqStore struct {
	ending     map[uint64]uint64
	epochTotal map[uint64]uint64
}

func (f *fakeSeqStore) CheckpointEndingTxSequenceNumber(_ context.Context, seq uint64) (uint64, bool, error) {
	v, ok := f.ending[seq]
	return v, ok, nil
}
func (f *fakeSeqStore) NetworkTotalTransactionsPreviousEpoch(_ context.Context, epoch uint64) (uint64, bool, error) {
	v, ok := f.epochTotal[epoch]
	return v, ok, nil
}

func newIndexer(seqStore *fakeSeqStore) *indexer.Indexer {
	cache := objectcache.New()
	provider := objectprovider.New(cache, fakeObjectStore{}, fakeFullNode{})
	return indexer.New(cache, provider, fakeModuleCache{}, seqStore, nil, nil)
}

func encodeU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// encodeSystemState builds the BCS contents checkpoint.decodeSystemState
// expects: four u64 fields then a ULEB128 validator count (zero here, the
// simplest valid encoding).
func encodeSystemState(epoch, protocolVersion, gasPrice, epochStart uint64) []byte {
	out := append([]byte{}, encodeU64(epoch)...)
	out = append(out, encodeU64(protocolVersion)...)
	out = append(out, encodeU64(gasPrice)...)
	out = append(out, encodeU64(epochStart)...)
	out = append(out, 0x00) // validator count: 0, single-byte ULEB128
	return out
}

func systemStateObject(epoch uint64) checkpoint.Object {
	return checkpoint.Object{
		ID:      checkpoint.SystemStateObjectID,
		Version: epoch,
		Data: checkpoint.ObjectData{
			Kind: checkpoint.DataMove,
			Move: &checkpoint.MoveObject{
				TypeTag:  "0x3::sui_system_state_inner::SuiSystemStateInner",
				Contents: encodeSystemState(epoch, 1, 1000, 42),
			},
		},
	}
}

// encodeSystemEpochInfoEvent builds the 12 u64 fields DecodeSystemEpochInfoEvent
// reads in order, starting with the closing epoch number.
func encodeSystemEpochInfoEvent(epoch uint64) []byte {
	var out []byte
	fields := []uint64{epoch, 1, 1000, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	for _, f := range fields {
		out = append(out, encodeU64(f)...)
	}
	return out
}

func TestProcessCheckpoint_GenesisEmitsEpochZero(t *testing.T) {
	seqStore := &fakeSeqStore{ending: map[uint64]uint64{}, epochTotal: map[uint64]uint64{}}
	ix := newIndexer(seqStore)

	cp := &checkpoint.CheckpointData{
		Summary: checkpoint.CheckpointSummary{SequenceNumber: 0, Epoch: 0, TimestampMs: 1},
		Objects: []checkpoint.Object{systemStateObject(0)},
	}

	batch, err := ix.ProcessCheckpoint(context.Background(), cp)
	require.NoError(t, err)
	require.NotNil(t, batch.EpochUpdate)
	require.NotNil(t, batch.EpochUpdate.NewEpoch)
	assert.Equal(t, uint64(0), batch.EpochUpdate.NewEpoch.Epoch)
	assert.Nil(t, batch.EpochUpdate.EndOfEpoch)
}

func TestProcessCheckpoint_OrdinaryCheckpointHasNoEpochUpdate(t *testing.T) {
	seqStore := &fakeSeqStore{ending: map[uint64]uint64{0: 5}, epochTotal: map[uint64]uint64{}}
	ix := newIndexer(seqStore)

	cp := &checkpoint.CheckpointData{
		Summary: checkpoint.CheckpointSummary{SequenceNumber: 1, Epoch: 0, TimestampMs: 2},
	}

	batch, err := ix.ProcessCheckpoint(context.Background(), cp)
	require.NoError(t, err)
	assert.Nil(t, batch.EpochUpdate)
}

func TestProcessCheckpoint_TxSequenceBookkeeping(t *testing.T) {
	seqStore := &fakeSeqStore{ending: map[uint64]uint64{}, epochTotal: map[uint64]uint64{}}
	ix := newIndexer(seqStore)

	cp0 := &checkpoint.CheckpointData{
		Summary: checkpoint.CheckpointSummary{SequenceNumber: 0, Epoch: 0, TimestampMs: 1},
		Objects: []checkpoint.Object{systemStateObject(0)},
		Transactions: []checkpoint.CheckpointTransaction{
			{Digest: checkpoint.Digest{1}, Effects: checkpoint.TransactionEffects{Status: checkpoint.ExecutionStatus{Success: true}}},
			{Digest: checkpoint.Digest{2}, Effects: checkpoint.TransactionEffects{Status: checkpoint.ExecutionStatus{Success: true}}},
		},
	}
	batch0, err := ix.ProcessCheckpoint(context.Background(), cp0)
	require.NoError(t, err)
	require.Len(t, batch0.Transactions, 2)
	assert.Equal(t, uint64(0), batch0.Transactions[0].TxSequenceNumber)
	assert.Equal(t, uint64(1), batch0.Transactions[1].TxSequenceNumber)

	cp1 := &checkpoint.CheckpointData{
		Summary: checkpoint.CheckpointSummary{SequenceNumber: 1, Epoch: 0, TimestampMs: 2},
		Transactions: []checkpoint.CheckpointTransaction{
			{Digest: checkpoint.Digest{3}, Effects: checkpoint.TransactionEffects{Status: checkpoint.ExecutionStatus{Success: true}}},
		},
	}
	batch1, err := ix.ProcessCheckpoint(context.Background(), cp1)
	require.NoError(t, err)
	require.Len(t, batch1.Transactions, 1)
	assert.Equal(t, uint64(2), batch1.Transactions[0].TxSequenceNumber, "checkpoint 1 must start where checkpoint 0's two transactions left off")
}

func TestProcessCheckpoint_MissingStartingSequenceIsFatal(t *testing.T) {
	seqStore := &fakeSeqStore{ending: map[uint64]uint64{}, epochTotal: map[uint64]uint64{}}
	ix := newIndexer(seqStore)

	cp := &checkpoint.CheckpointData{
		Summary: checkpoint.CheckpointSummary{SequenceNumber: 7, Epoch: 0},
	}
	_, err := ix.ProcessCheckpoint(context.Background(), cp)
	require.Error(t, err, "checkpoint 7 with neither an in-memory nor a stored starting sequence must fail fatally")
}

// TestProcessCheckpoint_DiscardedVersionDropsOlderWrite covers the "two
// writes to the same object in one checkpoint" case: only the
// highest-version snapshot is retained in ObjectChangeSet.Mutated.
func TestProcessCheckpoint_DiscardedVersionDropsOlderWrite(t *testing.T) {
	seqStore := &fakeSeqStore{ending: map[uint64]uint64{}, epochTotal: map[uint64]uint64{}}
	ix := newIndexer(seqStore)

	id := checkpoint.ObjectID{0x40}
	owner := checkpoint.AddressOwner(checkpoint.Address{1})
	objV1 := checkpoint.Object{ID: id, Version: 1, Owner: owner, Data: checkpoint.ObjectData{Kind: checkpoint.DataMove, Move: &checkpoint.MoveObject{TypeTag: "0x2::coin::Coin<0x2::sui::SUI>", Contents: make([]byte, 8)}}}
	objV2 := checkpoint.Object{ID: id, Version: 2, Owner: owner, Data: checkpoint.ObjectData{Kind: checkpoint.DataMove, Move: &checkpoint.MoveObject{TypeTag: "0x2::coin::Coin<0x2::sui::SUI>", Contents: make([]byte, 8)}}}

	cp := &checkpoint.CheckpointData{
		Summary: checkpoint.CheckpointSummary{SequenceNumber: 0, Epoch: 0},
		Objects: []checkpoint.Object{systemStateObject(0), objV1, objV2},
		Transactions: []checkpoint.CheckpointTransaction{
			{
				Digest: checkpoint.Digest{1},
				Effects: checkpoint.TransactionEffects{
					Status:  checkpoint.ExecutionStatus{Success: true},
					Created: []checkpoint.ChangedObject{{Ref: objV1.Ref(), Owner: owner, Kind: checkpoint.WriteCreated}},
				},
			},
			{
				Digest: checkpoint.Digest{2},
				Effects: checkpoint.TransactionEffects{
					Status:  checkpoint.ExecutionStatus{Success: true},
					Mutated: []checkpoint.ChangedObject{{Ref: objV2.Ref(), Owner: owner, Kind: checkpoint.WriteMutated}},
				},
			},
		},
	}

	batch, err := ix.ProcessCheckpoint(context.Background(), cp)
	require.NoError(t, err)
	require.Len(t, batch.Objects.Mutated, 1, "the version-1 write must be discarded in favor of version 2")
	assert.Equal(t, uint64(2), batch.Objects.Mutated[0].Object.Version)
}

func TestProcessCheckpoint_EndOfEpoch(t *testing.T) {
	seqStore := &fakeSeqStore{
		ending:     map[uint64]uint64{},
		epochTotal: map[uint64]uint64{0: 100},
	}
	ix := newIndexer(seqStore)

	event := checkpoint.Event{
		TypeTag:  "0x3::sui_system_state_inner::SystemEpochInfoEvent",
		Contents: encodeSystemEpochInfoEvent(0),
	}

	cp := &checkpoint.CheckpointData{
		Summary: checkpoint.CheckpointSummary{
			SequenceNumber:           3,
			Epoch:                    0,
			TimestampMs:              99,
			NetworkTotalTransactions: 150,
			EndOfEpochData:           &checkpoint.EndOfEpochData{NextEpochProtocolVersion: 2},
		},
		Objects: []checkpoint.Object{systemStateObject(1)},
		Transactions: []checkpoint.CheckpointTransaction{
			{
				Digest:  checkpoint.Digest{5},
				Effects: checkpoint.TransactionEffects{Status: checkpoint.ExecutionStatus{Success: true}},
				Events:  &checkpoint.TransactionEvents{Data: []checkpoint.Event{event}},
			},
		},
	}
	// Record checkpoint 2's ending sequence in the store so
	// resolveStartingSequence can recover checkpoint 3's starting sequence
	// without an in-memory record.
	seqStore.ending[2] = 50

	batch, err := ix.ProcessCheckpoint(context.Background(), cp)
	require.NoError(t, err)
	require.NotNil(t, batch.EpochUpdate)
	require.NotNil(t, batch.EpochUpdate.EndOfEpoch)
	require.NotNil(t, batch.EpochUpdate.NewEpoch)

	assert.Equal(t, uint64(0), batch.EpochUpdate.EndOfEpoch.Epoch)
	assert.Equal(t, uint64(50), batch.EpochUpdate.EndOfEpoch.EpochTotalTransactions, "150 network total minus 100 from the prior epoch must net to 50")
	assert.Equal(t, uint64(1), batch.EpochUpdate.NewEpoch.Epoch)
	assert.Equal(t, uint64(4), batch.EpochUpdate.NewEpoch.FirstCheckpointID)
}

// TestProcessCheckpoint_TxIndexRecipientDedupOrder covers Testable Property
// #4: TxIndex.Recipients keeps only AddressOwner-kind owners, deduped in
// first-occurrence order.
func TestProcessCheckpoint_TxIndexRecipientDedupOrder(t *testing.T) {
	seqStore := &fakeSeqStore{ending: map[uint64]uint64{}, epochTotal: map[uint64]uint64{}}
	ix := newIndexer(seqStore)

	addrA := checkpoint.Address{0xA}
	addrB := checkpoint.Address{0xB}
	ownerA := checkpoint.AddressOwner(addrA)
	ownerB := checkpoint.AddressOwner(addrB)
	ownerShared := checkpoint.Owner{Kind: checkpoint.OwnerShared}

	objA := checkpoint.Object{ID: checkpoint.ObjectID{1}, Version: 1, Owner: ownerA, Data: checkpoint.ObjectData{Kind: checkpoint.DataMove, Move: &checkpoint.MoveObject{TypeTag: "0x2::coin::Coin<0x2::sui::SUI>", Contents: make([]byte, 8)}}}
	objB := checkpoint.Object{ID: checkpoint.ObjectID{2}, Version: 1, Owner: ownerB, Data: checkpoint.ObjectData{Kind: checkpoint.DataMove, Move: &checkpoint.MoveObject{TypeTag: "0x2::coin::Coin<0x2::sui::SUI>", Contents: make([]byte, 8)}}}
	objAAgain := checkpoint.Object{ID: checkpoint.ObjectID{3}, Version: 1, Owner: ownerA, Data: checkpoint.ObjectData{Kind: checkpoint.DataMove, Move: &checkpoint.MoveObject{TypeTag: "0x2::coin::Coin<0x2::sui::SUI>", Contents: make([]byte, 8)}}}
	objShared := checkpoint.Object{ID: checkpoint.ObjectID{4}, Version: 1, Owner: ownerShared, Data: checkpoint.ObjectData{Kind: checkpoint.DataMove, Move: &checkpoint.MoveObject{TypeTag: "0x2::coin::Coin<0x2::sui::SUI>", Contents: make([]byte, 8)}}}

	cp := &checkpoint.CheckpointData{
		Summary: checkpoint.CheckpointSummary{SequenceNumber: 0, Epoch: 0},
		Objects: []checkpoint.Object{systemStateObject(0), objA, objB, objAAgain, objShared},
		Transactions: []checkpoint.CheckpointTransaction{
			{
				Digest: checkpoint.Digest{9},
				Data:   checkpoint.TransactionData{Sender: addrA},
				Effects: checkpoint.TransactionEffects{
					Status: checkpoint.ExecutionStatus{Success: true},
					Created: []checkpoint.ChangedObject{
						{Ref: objB.Ref(), Owner: ownerB, Kind: checkpoint.WriteCreated},
						{Ref: objA.Ref(), Owner: ownerA, Kind: checkpoint.WriteCreated},
						{Ref: objAAgain.Ref(), Owner: ownerA, Kind: checkpoint.WriteCreated},
						{Ref: objShared.Ref(), Owner: ownerShared, Kind: checkpoint.WriteCreated},
					},
				},
			},
		},
	}

	batch, err := ix.ProcessCheckpoint(context.Background(), cp)
	require.NoError(t, err)
	require.Len(t, batch.TxIndices, 1)

	idx := batch.TxIndices[0]
	assert.Equal(t, checkpoint.Digest{9}, idx.TxDigest)
	assert.Equal(t, []checkpoint.Address{addrA}, idx.Senders)
	assert.Equal(t, []checkpoint.Address{addrB, addrA}, idx.Recipients,
		"recipients must be deduped in first-occurrence order and exclude the shared-owner object")
	assert.Len(t, idx.ChangedObjectIDs, 4, "changed object ids are not deduped by owner, only by object id")
}

func TestProcessCheckpoint_EndOfEpochMissingEventIsFatal(t *testing.T) {
	seqStore := &fakeSeqStore{ending: map[uint64]uint64{0: 0}, epochTotal: map[uint64]uint64{}}
	ix := newIndexer(seqStore)

	// Checkpoint 1 rather than 0: checkpoint 0 takes the genesis branch and
	// never looks for the epoch event.
	cp := &checkpoint.CheckpointData{
		Summary: checkpoint.CheckpointSummary{
			SequenceNumber: 1,
			Epoch:          0,
			EndOfEpochData: &checkpoint.EndOfEpochData{NextEpochProtocolVersion: 2},
		},
	}
	_, err := ix.ProcessCheckpoint(context.Background(), cp)
	require.Error(t, err)
}
