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

// Package checkpoint defines the wire-level shape of one checkpoint as it
// arrives at the indexing core: transactions, their effects and events, and
// the flat object snapshot list the checkpoint carries. Nothing in this
// package talks to a store or a network; it is the input contract every
// other component is built against.
package checkpoint

import (
	"encoding/hex"
	"fmt"
)

// ObjectID identifies a Move object or package. Move addresses are 32 bytes,
// unlike the 20-byte addresses of account-based chains.
type ObjectID [32]byte

func (id ObjectID) String() string { return "0x" + hex.EncodeToString(id[:]) }

// Address identifies an account (a transaction sender, or an AddressOwner).
type Address [32]byte

func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

// Digest is a content hash: a transaction digest or an object digest.
type Digest [32]byte

func (d Digest) String() string { return "0x" + hex.EncodeToString(d[:]) }

// SequenceNumber is an object version, monotone per object id.
type SequenceNumber = uint64

// ObjectRef is the (id, version, digest) triple effects use to reference an
// object without embedding its full contents.
type ObjectRef struct {
	ObjectID ObjectID
	Version  SequenceNumber
	Digest   Digest
}

func (r ObjectRef) String() string {
	return fmt.Sprintf("%s@%d", r.ObjectID, r.Version)
}

// OwnerKind enumerates the ways an object can be owned.
type OwnerKind uint8

const (
	OwnerAddress OwnerKind = iota
	OwnerObject
	OwnerShared
	OwnerImmutable
)

// Owner is the tagged owner of an object. Only one of Address/Object is
// meaningful, selected by Kind.
type Owner struct {
	Kind    OwnerKind
	Address Address
	Object  ObjectID
}

func AddressOwner(a Address) Owner { return Owner{Kind: OwnerAddress, Address: a} }

// ObjectDataKind distinguishes a live Move object from an immutable package.
type ObjectDataKind uint8

const (
	DataMove ObjectDataKind = iota
	DataPackage
)

// MoveObject is the payload of a live (non-package) object.
type MoveObject struct {
	TypeTag           string // fully qualified Move type, e.g. "0x2::coin::Coin<0x2::sui::SUI>"
	HasPublicTransfer bool
	Contents          []byte // BCS-encoded struct fields
}

// MovePackage is the payload of a package object: its compiled modules,
// keyed by module name, plus the package's own version (packages are
// versioned by upgrade, not by mutation).
type MovePackage struct {
	Modules map[string][]byte
	Version SequenceNumber
}

// ObjectData is the tagged union of what an Object can hold.
type ObjectData struct {
	Kind    ObjectDataKind
	Move    *MoveObject
	Package *MovePackage
}

// Object is one versioned snapshot of an on-chain object or package.
type Object struct {
	ID                  ObjectID
	Version             SequenceNumber
	Digest              Digest
	Owner               Owner
	Data                ObjectData
	PreviousTransaction Digest
	StorageRebate       uint64
}

// Ref returns the (id, version, digest) triple for this snapshot.
func (o Object) Ref() ObjectRef {
	return ObjectRef{ObjectID: o.ID, Version: o.Version, Digest: o.Digest}
}

// WriteKind records how an effect touched an object: fresh creation,
// mutation of an existing object, or resurfacing a previously wrapped one.
type WriteKind uint8

const (
	WriteCreated WriteKind = iota
	WriteMutated
	WriteUnwrapped
)

// ChangedObject pairs a post-effect object reference with its new owner and
// the kind of write that produced it.
type ChangedObject struct {
	Ref   ObjectRef
	Owner Owner
	Kind  WriteKind
}

// ExecutionStatus is the pass/fail outcome of a transaction.
type ExecutionStatus struct {
	Success bool
	Error   string
}

// TransactionEffects is the authoritative record of what a transaction
// changed: the object refs it read at a prior version, the objects it
// created/mutated/unwrapped/deleted/wrapped, and its dependency set.
type TransactionEffects struct {
	Status               ExecutionStatus
	ModifiedAtVersions   []ObjectRef
	Created              []ChangedObject
	Mutated              []ChangedObject
	Unwrapped            []ChangedObject
	Deleted              []ObjectRef
	Wrapped              []ObjectRef
	UnwrappedThenDeleted []ObjectRef
	GasObject            ChangedObject
	Dependencies         []Digest
}

// AllChangedObjects returns every object ref this transaction wrote, in
// created/mutated/unwrapped order, followed by the gas object when one is
// set (a GasObject with a zero ObjectID is treated as absent).
func (e *TransactionEffects) AllChangedObjects() []ChangedObject {
	out := make([]ChangedObject, 0, len(e.Created)+len(e.Mutated)+len(e.Unwrapped)+1)
	out = append(out, e.Created...)
	out = append(out, e.Mutated...)
	out = append(out, e.Unwrapped...)
	if e.GasObject.Ref.ObjectID != (ObjectID{}) {
		out = append(out, e.GasObject)
	}
	return out
}

// AllRemovedObjects returns every object ref this transaction removed:
// deleted, wrapped, or unwrapped-then-deleted. These take precedence over
// any mutation of the same (id, version) in the same checkpoint.
func (e *TransactionEffects) AllRemovedObjects() []ObjectRef {
	out := make([]ObjectRef, 0, len(e.Deleted)+len(e.Wrapped)+len(e.UnwrappedThenDeleted))
	out = append(out, e.Deleted...)
	out = append(out, e.Wrapped...)
	out = append(out, e.UnwrappedThenDeleted...)
	return out
}

// TransactionKind distinguishes system transactions (e.g. epoch change)
// from ordinary programmable transactions.
type TransactionKind uint8

const (
	KindProgrammable TransactionKind = iota
	KindSystem
)

// MoveCall is one (package, module, function) entry point invoked by a
// programmable transaction.
type MoveCall struct {
	Package  ObjectID
	Module   string
	Function string
}

// InputObjectKind names one object a transaction declared as input,
// independent of whether the effects ultimately changed it.
type InputObjectKind struct {
	ObjectID ObjectID
}

// TransactionData is the signed transaction content: who sent it, what kind
// it is, and what it declared as input / called.
type TransactionData struct {
	Sender       Address
	Kind         TransactionKind
	InputObjects []InputObjectKind
	MoveCalls    []MoveCall
}

func (t *TransactionData) IsSystemTx() bool { return t.Kind == KindSystem }

// Event is one Move event emitted during execution.
type Event struct {
	PackageID         ObjectID
	TransactionModule string
	Sender            Address
	TypeTag           string
	Contents          []byte
}

// systemEpochInfoEventType is the fully qualified type of the one event
// CheckpointIndexer looks for at an end-of-epoch checkpoint.
const systemEpochInfoEventType = "0x3::sui_system_state_inner::SystemEpochInfoEvent"

func (e *Event) IsSystemEpochInfoEvent() bool { return e.TypeTag == systemEpochInfoEventType }

// TransactionEvents is the (possibly absent) list of events a transaction
// emitted.
type TransactionEvents struct {
	Data []Event
}

// CheckpointTransaction is one (tx, effects, events) tuple as it appears in
// a checkpoint, in execution order.
type CheckpointTransaction struct {
	Digest  Digest
	Data    TransactionData
	Effects TransactionEffects
	Events  *TransactionEvents
}

// EndOfEpochData marks a checkpoint as the last of its epoch. Its presence,
// not its content, is what CheckpointIndexer keys end-of-epoch handling on.
type EndOfEpochData struct {
	NextEpochProtocolVersion uint64
}

// CheckpointSummary carries the checkpoint's global progress counters.
type CheckpointSummary struct {
	SequenceNumber           uint64
	Epoch                    uint64
	TimestampMs              uint64
	NetworkTotalTransactions uint64
	EndOfEpochData           *EndOfEpochData
}

// CheckpointContents carries the ordering/validator commitments for the
// checkpoint. Its internals are opaque to the indexing core; only its
// digest is retained on IndexedCheckpoint.
type CheckpointContents struct {
	Digest Digest
}

// CheckpointData is one full checkpoint as delivered to process_checkpoint:
// an ordered transaction list, the summary, the contents commitment, and
// every object snapshot the checkpoint's transactions touched.
type CheckpointData struct {
	Transactions []CheckpointTransaction
	Summary      CheckpointSummary
	Contents     CheckpointContents
	Objects      []Object
}

// Source is the out-of-scope checkpoint provider's contract: it yields
// checkpoints in strictly increasing sequence order with no gaps.
type Source interface {
	NextCheckpoint() (*CheckpointData, error)
}
