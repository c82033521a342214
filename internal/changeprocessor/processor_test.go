package changeprocessor_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/move-indexer/internal/changeprocessor"
	"github.com/erigontech/move-indexer/internal/checkpoint"
	"github.com/erigontech/move-indexer/internal/indexed"
)

type fakeReader struct {
	byIDVersion map[checkpoint.ObjectID]checkpoint.Object
}

func (f *fakeReader) GetLE(_ context.Context, id checkpoint.ObjectID, _ checkpoint.SequenceNumber) (checkpoint.Object, error) {
	return f.byIDVersion[id], nil
}

func coinObject(id checkpoint.ObjectID, owner checkpoint.Owner, version uint64, amount uint64) checkpoint.Object {
	contents := make([]byte, 8)
	binary.LittleEndian.PutUint64(contents, amount)
	return checkpoint.Object{
		ID:      id,
		Version: version,
		Owner:   owner,
		Data: checkpoint.ObjectData{
			Kind: checkpoint.DataMove,
			Move: &checkpoint.MoveObject{
				TypeTag:  "0x2::coin::Coin<0x2::sui::SUI>",
				Contents: contents,
			},
		},
	}
}

func TestProcessor_ObjectChanges_Created(t *testing.T) {
	owner := checkpoint.AddressOwner(checkpoint.Address{1})
	id := checkpoint.ObjectID{0x10}
	obj := coinObject(id, owner, 1, 100)

	tx := &checkpoint.CheckpointTransaction{
		Data: checkpoint.TransactionData{Sender: checkpoint.Address{9}},
		Effects: checkpoint.TransactionEffects{
			Status:  checkpoint.ExecutionStatus{Success: true},
			Created: []checkpoint.ChangedObject{{Ref: obj.Ref(), Owner: owner, Kind: checkpoint.WriteCreated}},
		},
	}
	current := map[checkpoint.ObjectID]checkpoint.Object{id: obj}

	p := changeprocessor.New(&fakeReader{byIDVersion: map[checkpoint.ObjectID]checkpoint.Object{}})
	result, err := p.Process(context.Background(), tx, current)
	require.NoError(t, err)

	require.Len(t, result.ObjectChanges, 1)
	assert.Equal(t, indexed.ChangeCreated, result.ObjectChanges[0].Kind)
	assert.Equal(t, id, result.ObjectChanges[0].ObjectID)
}

func TestProcessor_ObjectChanges_MutatedBecomesTransferredOnOwnerChange(t *testing.T) {
	id := checkpoint.ObjectID{0x11}
	oldOwner := checkpoint.AddressOwner(checkpoint.Address{1})
	newOwner := checkpoint.AddressOwner(checkpoint.Address{2})

	prior := coinObject(id, oldOwner, 1, 100)
	post := coinObject(id, newOwner, 2, 100)

	tx := &checkpoint.CheckpointTransaction{
		Data: checkpoint.TransactionData{Sender: checkpoint.Address{9}},
		Effects: checkpoint.TransactionEffects{
			Status:  checkpoint.ExecutionStatus{Success: true},
			Mutated: []checkpoint.ChangedObject{{Ref: post.Ref(), Owner: newOwner, Kind: checkpoint.WriteMutated}},
		},
	}
	current := map[checkpoint.ObjectID]checkpoint.Object{id: post}

	p := changeprocessor.New(&fakeReader{byIDVersion: map[checkpoint.ObjectID]checkpoint.Object{id: prior}})
	result, err := p.Process(context.Background(), tx, current)
	require.NoError(t, err)

	require.Len(t, result.ObjectChanges, 1)
	assert.Equal(t, indexed.ChangeTransferred, result.ObjectChanges[0].Kind)
}

func TestProcessor_ObjectChanges_PublishedPackage(t *testing.T) {
	id := checkpoint.ObjectID{0x12}
	owner := checkpoint.AddressOwner(checkpoint.Address{1})
	pkg := checkpoint.Object{
		ID:      id,
		Version: 1,
		Owner:   owner,
		Data: checkpoint.ObjectData{
			Kind:    checkpoint.DataPackage,
			Package: &checkpoint.MovePackage{Modules: map[string][]byte{"coin": {1}}, Version: 1},
		},
	}

	tx := &checkpoint.CheckpointTransaction{
		Data: checkpoint.TransactionData{Sender: checkpoint.Address{9}},
		Effects: checkpoint.TransactionEffects{
			Status:  checkpoint.ExecutionStatus{Success: true},
			Mutated: []checkpoint.ChangedObject{{Ref: pkg.Ref(), Owner: owner, Kind: checkpoint.WriteMutated}},
		},
	}
	current := map[checkpoint.ObjectID]checkpoint.Object{id: pkg}

	p := changeprocessor.New(&fakeReader{byIDVersion: map[checkpoint.ObjectID]checkpoint.Object{}})
	result, err := p.Process(context.Background(), tx, current)
	require.NoError(t, err)

	require.Len(t, result.ObjectChanges, 1)
	assert.Equal(t, indexed.ChangePublished, result.ObjectChanges[0].Kind)
	assert.Equal(t, id, result.ObjectChanges[0].PackageID)
	assert.Equal(t, []string{"coin"}, result.ObjectChanges[0].Modules)
}

func TestProcessor_ObjectChanges_MissingCurrentObjectIsFatal(t *testing.T) {
	id := checkpoint.ObjectID{0x13}
	owner := checkpoint.AddressOwner(checkpoint.Address{1})

	tx := &checkpoint.CheckpointTransaction{
		Data: checkpoint.TransactionData{Sender: checkpoint.Address{9}},
		Effects: checkpoint.TransactionEffects{
			Status:  checkpoint.ExecutionStatus{Success: true},
			Created: []checkpoint.ChangedObject{{Ref: checkpoint.ObjectRef{ObjectID: id, Version: 1}, Owner: owner, Kind: checkpoint.WriteCreated}},
		},
	}

	p := changeprocessor.New(&fakeReader{byIDVersion: map[checkpoint.ObjectID]checkpoint.Object{}})
	_, err := p.Process(context.Background(), tx, map[checkpoint.ObjectID]checkpoint.Object{})
	require.Error(t, err)
}

func TestProcessor_BalanceChanges_NetsCreatedAndDeletedCoins(t *testing.T) {
	owner := checkpoint.AddressOwner(checkpoint.Address{1})
	createdID := checkpoint.ObjectID{0x20}
	deletedID := checkpoint.ObjectID{0x21}

	created := coinObject(createdID, owner, 1, 100)
	deletedPrior := coinObject(deletedID, owner, 3, 40)

	tx := &checkpoint.CheckpointTransaction{
		Data: checkpoint.TransactionData{Sender: checkpoint.Address{9}},
		Effects: checkpoint.TransactionEffects{
			Status:  checkpoint.ExecutionStatus{Success: true},
			Created: []checkpoint.ChangedObject{{Ref: created.Ref(), Owner: owner, Kind: checkpoint.WriteCreated}},
			Deleted: []checkpoint.ObjectRef{deletedPrior.Ref()},
		},
	}
	current := map[checkpoint.ObjectID]checkpoint.Object{createdID: created}
	reader := &fakeReader{byIDVersion: map[checkpoint.ObjectID]checkpoint.Object{deletedID: deletedPrior}}

	p := changeprocessor.New(reader)
	result, err := p.Process(context.Background(), tx, current)
	require.NoError(t, err)

	require.Len(t, result.BalanceChanges, 1)
	var net int64
	for _, bc := range result.BalanceChanges {
		net += bc.Amount.Int64()
	}
	assert.Equal(t, int64(60), net, "created 100 minus deleted 40 for the same owner and coin type must net to one +60 change")
}

func TestProcessor_BalanceChanges_IgnoresNonCoinObjects(t *testing.T) {
	owner := checkpoint.AddressOwner(checkpoint.Address{1})
	id := checkpoint.ObjectID{0x22}
	obj := checkpoint.Object{
		ID:      id,
		Version: 1,
		Owner:   owner,
		Data: checkpoint.ObjectData{
			Kind: checkpoint.DataMove,
			Move: &checkpoint.MoveObject{TypeTag: "0x2::kiosk::Kiosk", Contents: []byte{1, 2, 3}},
		},
	}

	tx := &checkpoint.CheckpointTransaction{
		Data: checkpoint.TransactionData{Sender: checkpoint.Address{9}},
		Effects: checkpoint.TransactionEffects{
			Status:  checkpoint.ExecutionStatus{Success: true},
			Created: []checkpoint.ChangedObject{{Ref: obj.Ref(), Owner: owner, Kind: checkpoint.WriteCreated}},
		},
	}
	current := map[checkpoint.ObjectID]checkpoint.Object{id: obj}

	p := changeprocessor.New(&fakeReader{byIDVersion: map[checkpoint.ObjectID]checkpoint.Object{}})
	result, err := p.Process(context.Background(), tx, current)
	require.NoError(t, err)
	assert.Empty(t, result.BalanceChanges)
}
