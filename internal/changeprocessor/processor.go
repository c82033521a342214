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

// Package changeprocessor derives the two per-transaction views spec §4.4
// describes: the object-change list (what each write/removal means at the
// object-type level) and the balance-change list (net coin deltas by owner
// and coin type). The two derivations read disjoint inputs, so Process runs
// them concurrently with errgroup, the same pattern the teacher's commit
// fan-out uses for independent per-checkpoint work.
package changeprocessor

import (
	"context"
	"math/big"

	"golang.org/x/sync/errgroup"

	"github.com/erigontech/move-indexer/internal/checkpoint"
	"github.com/erigontech/move-indexer/internal/ierrors"
	"github.com/erigontech/move-indexer/internal/indexed"
)

// coinStructPrefix is the type-tag prefix of the platform's Coin struct;
// only objects whose MoveObject.TypeTag carries this prefix contribute to
// balance changes.
const coinStructPrefix = "0x2::coin::Coin<"

// PriorVersionReader resolves an object's state immediately before the
// current transaction, used to compute a mutation's previous owner/version
// and a coin object's prior balance.
type PriorVersionReader interface {
	GetLE(ctx context.Context, id checkpoint.ObjectID, version checkpoint.SequenceNumber) (checkpoint.Object, error)
}

// Processor derives object and balance changes for one transaction at a
// time, given a way to read an object's state prior to this transaction.
type Processor struct {
	objects PriorVersionReader
}

func New(objects PriorVersionReader) *Processor {
	return &Processor{objects: objects}
}

// Result bundles both derivations for one transaction.
type Result struct {
	ObjectChanges  []indexed.ObjectChange
	BalanceChanges []indexed.BalanceChange
}

// Process derives both change lists for one transaction's effects,
// consulting currentObjects (the post-effect snapshots the checkpoint
// carries for this transaction's writes) to read object types and contents.
func (p *Processor) Process(ctx context.Context, tx *checkpoint.CheckpointTransaction, currentObjects map[checkpoint.ObjectID]checkpoint.Object) (Result, error) {
	var res Result
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		changes, err := p.objectChanges(gctx, tx, currentObjects)
		if err != nil {
			return err
		}
		res.ObjectChanges = changes
		return nil
	})
	g.Go(func() error {
		changes, err := p.balanceChanges(gctx, tx, currentObjects)
		if err != nil {
			return err
		}
		res.BalanceChanges = changes
		return nil
	})

	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (p *Processor) objectChanges(ctx context.Context, tx *checkpoint.CheckpointTransaction, current map[checkpoint.ObjectID]checkpoint.Object) ([]indexed.ObjectChange, error) {
	effects := &tx.Effects
	out := make([]indexed.ObjectChange, 0, len(effects.Created)+len(effects.Mutated)+len(effects.Unwrapped)+len(effects.AllRemovedObjects()))

	for _, c := range effects.Created {
		obj, ok := current[c.Ref.ObjectID]
		if !ok {
			return nil, ierrors.New(ierrors.Invariant, "created object %s missing from checkpoint objects", c.Ref.ObjectID)
		}
		out = append(out, newOrMutatedChange(tx, obj, c, true))
	}
	for _, c := range effects.Unwrapped {
		obj, ok := current[c.Ref.ObjectID]
		if !ok {
			return nil, ierrors.New(ierrors.Invariant, "unwrapped object %s missing from checkpoint objects", c.Ref.ObjectID)
		}
		out = append(out, newOrMutatedChange(tx, obj, c, true))
	}
	for _, c := range effects.Mutated {
		obj, ok := current[c.Ref.ObjectID]
		if !ok {
			return nil, ierrors.New(ierrors.Invariant, "mutated object %s missing from checkpoint objects", c.Ref.ObjectID)
		}
		prior, err := p.objects.GetLE(ctx, c.Ref.ObjectID, c.Ref.Version-1)
		if err != nil {
			return nil, err
		}
		change := newOrMutatedChange(tx, obj, c, false)
		// A mutation whose owner differs from the prior snapshot's owner is a
		// transfer rather than a plain mutation.
		if c.Owner != prior.Owner {
			change.Kind = indexed.ChangeTransferred
		}
		if obj.Data.Kind == checkpoint.DataPackage {
			change.Kind = indexed.ChangePublished
			change.PackageID = obj.ID
			change.Modules = moduleNames(obj.Data.Package)
		}
		out = append(out, change)
	}
	for _, ref := range effects.Deleted {
		out = append(out, removalChange(tx, ref, indexed.ChangeDeleted))
	}
	for _, ref := range effects.Wrapped {
		out = append(out, removalChange(tx, ref, indexed.ChangeWrapped))
	}
	for _, ref := range effects.UnwrappedThenDeleted {
		out = append(out, removalChange(tx, ref, indexed.ChangeDeleted))
	}
	return out, nil
}

func newOrMutatedChange(tx *checkpoint.CheckpointTransaction, obj checkpoint.Object, c checkpoint.ChangedObject, created bool) indexed.ObjectChange {
	kind := indexed.ChangeMutated
	if created {
		kind = indexed.ChangeCreated
	}
	return indexed.ObjectChange{
		Kind:            kind,
		Sender:          tx.Data.Sender,
		Owner:           c.Owner,
		ObjectID:        c.Ref.ObjectID,
		ObjectType:      objectType(obj),
		Version:         c.Ref.Version,
		PreviousVersion: priorVersion(obj),
		Digest:          c.Ref.Digest,
	}
}

func removalChange(tx *checkpoint.CheckpointTransaction, ref checkpoint.ObjectRef, kind indexed.ObjectChangeKind) indexed.ObjectChange {
	return indexed.ObjectChange{
		Kind:     kind,
		Sender:   tx.Data.Sender,
		ObjectID: ref.ObjectID,
		Version:  ref.Version,
		Digest:   ref.Digest,
	}
}

func objectType(obj checkpoint.Object) string {
	if obj.Data.Kind == checkpoint.DataMove && obj.Data.Move != nil {
		return obj.Data.Move.TypeTag
	}
	return ""
}

func priorVersion(obj checkpoint.Object) checkpoint.SequenceNumber {
	if obj.Version == 0 {
		return 0
	}
	return obj.Version - 1
}

func moduleNames(pkg *checkpoint.MovePackage) []string {
	if pkg == nil {
		return nil
	}
	names := make([]string, 0, len(pkg.Modules))
	for name := range pkg.Modules {
		names = append(names, name)
	}
	return names
}

// balanceChanges nets coin deltas by (owner, coin type) across every object
// the transaction created, mutated, unwrapped, or deleted. A coin that is
// merely transferred nets to zero for the old owner's loss and the new
// owner's gain only when both sides are visible within the same
// transaction, matching the platform's own balance-change semantics.
func (p *Processor) balanceChanges(ctx context.Context, tx *checkpoint.CheckpointTransaction, current map[checkpoint.ObjectID]checkpoint.Object) ([]indexed.BalanceChange, error) {
	deltas := make(map[balanceKey]*big.Int)
	effects := &tx.Effects

	for _, c := range effects.AllChangedObjects() {
		obj, ok := current[c.Ref.ObjectID]
		if !ok || !isCoin(obj) {
			continue
		}
		amount, ok := coinAmount(obj)
		if !ok {
			continue
		}
		addCoinDelta(deltas, c.Owner, obj, amount)

		if c.Kind == checkpoint.WriteMutated || c.Kind == checkpoint.WriteUnwrapped {
			prior, err := p.objects.GetLE(ctx, c.Ref.ObjectID, c.Ref.Version-1)
			if err != nil {
				return nil, err
			}
			priorAmount, ok := coinAmount(prior)
			if ok {
				subCoinDelta(deltas, prior.Owner, obj, priorAmount)
			}
		}
	}
	for _, ref := range effects.AllRemovedObjects() {
		prior, err := p.objects.GetLE(ctx, ref.ObjectID, ref.Version)
		if err != nil {
			return nil, err
		}
		if !isCoin(prior) {
			continue
		}
		amount, ok := coinAmount(prior)
		if !ok {
			continue
		}
		subCoinDelta(deltas, prior.Owner, prior, amount)
	}

	out := make([]indexed.BalanceChange, 0, len(deltas))
	for key, amount := range deltas {
		if amount.Sign() == 0 {
			continue
		}
		out = append(out, indexed.BalanceChange{
			Owner:    key.owner,
			CoinType: key.coinType,
			Amount:   amount,
		})
	}
	return out, nil
}

type balanceKey struct {
	owner    checkpoint.Owner
	coinType string
}

func addCoinDelta(deltas map[balanceKey]*big.Int, owner checkpoint.Owner, obj checkpoint.Object, amount *big.Int) {
	key := balanceKey{owner: owner, coinType: objectType(obj)}
	d, ok := deltas[key]
	if !ok {
		d = new(big.Int)
		deltas[key] = d
	}
	d.Add(d, amount)
}

func subCoinDelta(deltas map[balanceKey]*big.Int, owner checkpoint.Owner, obj checkpoint.Object, amount *big.Int) {
	key := balanceKey{owner: owner, coinType: objectType(obj)}
	d, ok := deltas[key]
	if !ok {
		d = new(big.Int)
		deltas[key] = d
	}
	d.Sub(d, amount)
}

func isCoin(obj checkpoint.Object) bool {
	if obj.Data.Kind != checkpoint.DataMove || obj.Data.Move == nil {
		return false
	}
	t := obj.Data.Move.TypeTag
	return len(t) >= len(coinStructPrefix) && t[:len(coinStructPrefix)] == coinStructPrefix
}

// coinAmount reads the little-endian u64 "value" field every Coin struct's
// BCS encoding leads with. Coin is the one Move struct whose layout this
// pipeline needs to peek into without a full BCS-to-struct decoder.
func coinAmount(obj checkpoint.Object) (*big.Int, bool) {
	if !isCoin(obj) || len(obj.Data.Move.Contents) < 8 {
		return nil, false
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(obj.Data.Move.Contents[i])
	}
	return new(big.Int).SetUint64(v), true
}
