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

package checkpoint

import "fmt"

// SystemStateObjectID is the well-known address of the chain's system
// state object, shared and mutated by every epoch-changing transaction.
var SystemStateObjectID = ObjectID{0: 0x05}

// ValidatorSummary is one active validator entry inside the system state.
type ValidatorSummary struct {
	Address     Address
	Name        string
	VotingPower uint64
}

// SystemStateSummary is the subset of the on-chain system state object this
// indexer reads to produce epoch records.
type SystemStateSummary struct {
	Epoch                 uint64
	ProtocolVersion       uint64
	ReferenceGasPrice     uint64
	EpochStartTimestampMs uint64
	ActiveValidators      []ValidatorSummary
}

// ExtractSystemState reads the system state object *from this checkpoint's
// own object list*, never from a "latest system state" side channel. A
// helper that returned the latest system state regardless of which
// checkpoint asked for it would race ahead of the checkpoint actually being
// indexed — see DESIGN.md for the history of that bug in the source this
// was ported from.
func ExtractSystemState(objects []Object) (*SystemStateSummary, error) {
	for i := range objects {
		o := &objects[i]
		if o.ID != SystemStateObjectID || o.Data.Kind != DataMove {
			continue
		}
		return decodeSystemState(o.Data.Move.Contents)
	}
	return nil, fmt.Errorf("system state object %s not present in checkpoint objects", SystemStateObjectID)
}

func decodeSystemState(contents []byte) (*SystemStateSummary, error) {
	r := NewBCSReader(contents)
	epoch, err := r.ReadU64()
	if err != nil {
		return nil, fmt.Errorf("system state: epoch: %w", err)
	}
	protocolVersion, err := r.ReadU64()
	if err != nil {
		return nil, fmt.Errorf("system state: protocol version: %w", err)
	}
	referenceGasPrice, err := r.ReadU64()
	if err != nil {
		return nil, fmt.Errorf("system state: reference gas price: %w", err)
	}
	epochStart, err := r.ReadU64()
	if err != nil {
		return nil, fmt.Errorf("system state: epoch start timestamp: %w", err)
	}
	count, err := r.ReadULEB128()
	if err != nil {
		return nil, fmt.Errorf("system state: validator count: %w", err)
	}
	validators := make([]ValidatorSummary, 0, count)
	for i := uint64(0); i < count; i++ {
		addr, err := r.ReadAddress()
		if err != nil {
			return nil, fmt.Errorf("system state: validator %d address: %w", i, err)
		}
		nameBytes, err := r.ReadBytes()
		if err != nil {
			return nil, fmt.Errorf("system state: validator %d name: %w", i, err)
		}
		votingPower, err := r.ReadU64()
		if err != nil {
			return nil, fmt.Errorf("system state: validator %d voting power: %w", i, err)
		}
		validators = append(validators, ValidatorSummary{
			Address:     Address(addr),
			Name:        string(nameBytes),
			VotingPower: votingPower,
		})
	}
	return &SystemStateSummary{
		Epoch:                 epoch,
		ProtocolVersion:       protocolVersion,
		ReferenceGasPrice:     referenceGasPrice,
		EpochStartTimestampMs: epochStart,
		ActiveValidators:      validators,
	}, nil
}

// SystemEpochInfoEvent is the event emitted exactly once by the end-of-epoch
// transaction, carrying the closing epoch's final economics.
type SystemEpochInfoEvent struct {
	Epoch                        uint64
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
}

// DecodeSystemEpochInfoEvent parses an event's raw contents into a
// SystemEpochInfoEvent.
func DecodeSystemEpochInfoEvent(contents []byte) (*SystemEpochInfoEvent, error) {
	r := NewBCSReader(contents)
	fields := make([]uint64, 12)
	for i := range fields {
		v, err := r.ReadU64()
		if err != nil {
			return nil, fmt.Errorf("SystemEpochInfoEvent: field %d: %w", i, err)
		}
		fields[i] = v
	}
	return &SystemEpochInfoEvent{
		Epoch:                        fields[0],
		ProtocolVersion:              fields[1],
		ReferenceGasPrice:            fields[2],
		TotalStake:                   fields[3],
		StorageFundReinvestment:      fields[4],
		StorageCharge:                fields[5],
		StorageRebate:                fields[6],
		LeftoverStorageFundInflow:    fields[7],
		StakeSubsidyAmount:           fields[8],
		StorageFundBalance:           fields[9],
		TotalGasFees:                 fields[10],
		TotalStakeRewardsDistributed: fields[11],
	}, nil
}

// FindSystemEpochInfoEvent scans every transaction's events for the single
// SystemEpochInfoEvent expected at an end-of-epoch checkpoint. Its absence
// is a fatal invariant violation at the callsite, not handled here.
func FindSystemEpochInfoEvent(txs []CheckpointTransaction) (*Event, bool) {
	for i := range txs {
		if txs[i].Events == nil {
			continue
		}
		for j := range txs[i].Events.Data {
			if txs[i].Events.Data[j].IsSystemEpochInfoEvent() {
				return &txs[i].Events.Data[j], true
			}
		}
	}
	return nil, false
}
