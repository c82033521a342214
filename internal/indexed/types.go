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

// Package indexed defines the entities the checkpoint indexing core
// produces: one struct per row family the commit pipeline eventually
// persists.
package indexed

import (
	"math/big"

	"github.com/erigontech/move-indexer/internal/checkpoint"
)

// ObjectChangeKind mirrors the platform's standard object-change shape.
type ObjectChangeKind uint8

const (
	ChangePublished ObjectChangeKind = iota
	ChangeTransferred
	ChangeMutated
	ChangeDeleted
	ChangeWrapped
	ChangeCreated
)

// ObjectChange is one entry in a transaction's derived object-change list.
type ObjectChange struct {
	Kind            ObjectChangeKind
	Sender          checkpoint.Address
	Owner           checkpoint.Owner
	ObjectID        checkpoint.ObjectID
	ObjectType      string
	Version         checkpoint.SequenceNumber
	PreviousVersion checkpoint.SequenceNumber
	Digest          checkpoint.Digest
	// PackageID and Modules are populated only for ChangePublished.
	PackageID checkpoint.ObjectID
	Modules   []string
}

// BalanceChange is one net coin delta for one (owner, coin type) pair
// produced by a single transaction.
type BalanceChange struct {
	Owner    checkpoint.Owner
	CoinType string
	Amount   *big.Int
}

// TransactionKind classifies a transaction for the index, distinct from
// checkpoint.TransactionKind in that it is the persisted/reported value.
type TransactionKind uint8

const (
	KindProgrammable TransactionKind = iota
	KindSystem
)

// IndexedTransaction is the canonical per-transaction row.
type IndexedTransaction struct {
	TxSequenceNumber       uint64
	TxDigest               checkpoint.Digest
	CheckpointSequence     uint64
	TimestampMs            uint64
	Transaction            checkpoint.TransactionData
	Effects                checkpoint.TransactionEffects
	ObjectChanges          []ObjectChange
	BalanceChanges         []BalanceChange
	Events                 []checkpoint.Event
	Kind                   TransactionKind
	SuccessfulCommandCount uint64
}

// IndexedEvent is one emitted event, keyed by its position within its
// transaction.
type IndexedEvent struct {
	TxSequenceNumber uint64
	EventIndexInTx   uint64
	TxDigest         checkpoint.Digest
	Payload          checkpoint.Event
	TimestampMs      uint64
}

// MoveCallKey is the deduplication key for TxIndex.MoveCalls.
type MoveCallKey struct {
	Package  checkpoint.ObjectID
	Module   string
	Function string
}

// TxIndex is the set of lookup keys CheckpointIndexer derives from one
// transaction (spec §3/§4.6): the object ids it read and changed, its
// senders and address-owner recipients, and the module entry points it
// called. Persisted alongside IndexedTransaction so a store-level query
// layer can index on any of these without re-deriving them from effects.
type TxIndex struct {
	TxSequenceNumber uint64
	TxDigest         checkpoint.Digest
	InputObjectIDs   []checkpoint.ObjectID
	ChangedObjectIDs []checkpoint.ObjectID
	Senders          []checkpoint.Address
	Recipients       []checkpoint.Address
	MoveCalls        []MoveCallKey
}

// DynamicFieldKind distinguishes an inline-value dynamic field from a
// dynamic object field that merely points at another object.
type DynamicFieldKind uint8

const (
	DynamicField DynamicFieldKind = iota
	DynamicObject
)

// DynamicFieldInfo is the metadata DynamicFieldDeriver extracts for an
// object acting as a dynamic-field wrapper.
type DynamicFieldInfo struct {
	NameType    string
	NameBCS     []byte
	NameJSON    []byte
	Kind        DynamicFieldKind
	ObjectType  string
	ObjectID    checkpoint.ObjectID
	Version     checkpoint.SequenceNumber
	Digest      checkpoint.Digest
}

// IndexedObject is one retained object mutation for a checkpoint, with its
// dynamic-field metadata if applicable.
type IndexedObject struct {
	CheckpointSequence uint64
	Object             checkpoint.Object
	DynamicField       *DynamicFieldInfo
}

// IndexedPackage is one package published within a checkpoint.
type IndexedPackage struct {
	PackageID      checkpoint.ObjectID
	MovePackage    checkpoint.MovePackage
}

// ObjectChangeSet is the full object-level outcome of one checkpoint: the
// retained (highest-version, non-deleted) mutations plus the removed refs.
type ObjectChangeSet struct {
	CheckpointSequence uint64
	Mutated            []IndexedObject
	Deleted            []checkpoint.ObjectRef
}

// IndexedCheckpoint is the flat checkpoint header row.
type IndexedCheckpoint struct {
	SequenceNumber           uint64
	Digest                   checkpoint.Digest
	Epoch                    uint64
	TimestampMs              uint64
	NetworkTotalTransactions uint64
	SuccessfulTxNum          uint64
	EndOfEpochData           *checkpoint.EndOfEpochData
	ContentsDigest           checkpoint.Digest
}

// IndexedEpochInfo opens the epoch that starts at FirstCheckpointID. It is
// emitted at genesis and at the last checkpoint of the preceding epoch.
type IndexedEpochInfo struct {
	Epoch                 uint64
	FirstCheckpointID      uint64
	EpochStartTimestampMs  uint64
	Validators             []checkpoint.ValidatorSummary
	ReferenceGasPrice      uint64
	ProtocolVersion        uint64
}

// IndexedEndOfEpochInfo augments the prior epoch's row at the epoch's last
// checkpoint.
type IndexedEndOfEpochInfo struct {
	Epoch                        uint64
	LastCheckpointID             uint64
	EpochEndTimestampMs          uint64
	ProtocolVersion              uint64
	ReferenceGasPrice            uint64
	TotalStake                   uint64
	StorageFundReinvestment      uint64
	StorageCharge                uint64
	StorageRebate                uint64
	LeftoverStorageFundInflow    uint64
	StakeSubsidyAmount           uint64
	StorageFundBalance           uint64
	TotalGasFees                 uint64
	TotalStakeRewardsDistributed uint64
	EpochTotalTransactions       uint64
}

// EpochUpdate bundles what CheckpointIndexer derived about epoch boundaries
// for one checkpoint: at most one new epoch row, and, only at the last
// checkpoint of an epoch, the closing row for the epoch just ended.
type EpochUpdate struct {
	NewEpoch *IndexedEpochInfo
	EndOfEpoch *IndexedEndOfEpochInfo
}
