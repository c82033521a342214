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

// Package moduleresolver implements the two-tier module lookup described in
// spec §4.2: packages published within the checkpoint currently being
// indexed, then the durable module cache for everything older.
package moduleresolver

import (
	"github.com/erigontech/move-indexer/internal/checkpoint"
	"github.com/erigontech/move-indexer/internal/ierrors"
	"github.com/erigontech/move-indexer/internal/indexed"
	"github.com/erigontech/move-indexer/internal/objectcache"
)

// DurableModuleCache is the fallback tier: a module cache backed by
// durable storage (Store.module_cache() in spec §6).
type DurableModuleCache interface {
	GetModule(id objectcache.ModuleID) (*objectcache.CompiledModule, bool, error)
}

// Resolver answers module lookups for one checkpoint. It is constructed
// fresh per checkpoint so it can be handed exactly that checkpoint's
// newly-published packages.
type Resolver struct {
	cache    *objectcache.Cache
	fallback DurableModuleCache
}

// New inserts the checkpoint's own published packages into the shared
// object cache, then returns a resolver that consults the cache before the
// durable fallback. A transaction within the checkpoint may call a package
// published earlier in the same checkpoint, which is not yet durable — the
// cache insert below is what makes that call resolvable.
func New(cache *objectcache.Cache, fallback DurableModuleCache, checkpointPackages []indexed.IndexedPackage) *Resolver {
	cache.InsertPackages(checkpointPackages)
	return &Resolver{cache: cache, fallback: fallback}
}

// GetModule resolves a module, trying the in-checkpoint cache first.
func (r *Resolver) GetModule(id objectcache.ModuleID) (*objectcache.CompiledModule, error) {
	if m, ok := r.cache.GetModule(id); ok {
		return m, nil
	}
	m, ok, err := r.fallback.GetModule(id)
	if err != nil {
		return nil, ierrors.Wrap(err, ierrors.StoreRead)
	}
	if !ok {
		return nil, ierrors.New(ierrors.NotFound, "module %s::%s not found", id.Package, id.Module)
	}
	return m, nil
}

// ModuleIDFromTypeTag extracts the (package, module) a fully qualified
// Move type tag belongs to, e.g. "0x2::coin::Coin<...>" -> (0x2, "coin").
func ModuleIDFromTypeTag(typeTag string) (objectcache.ModuleID, error) {
	pkg, module, _, err := splitTypeTag(typeTag)
	if err != nil {
		return objectcache.ModuleID{}, err
	}
	return objectcache.ModuleID{Package: pkg, Module: module}, nil
}

// splitTypeTag parses "<addr>::<module>::<rest>" into its first two
// segments plus whatever follows (which may itself contain generics).
func splitTypeTag(typeTag string) (pkg checkpoint.ObjectID, module string, rest string, err error) {
	first := indexOf(typeTag, ':', ':')
	if first < 0 {
		return pkg, module, rest, ierrors.New(ierrors.DataTransformation, "malformed type tag %q", typeTag)
	}
	addrStr := typeTag[:first]
	remainder := typeTag[first+2:]
	second := indexOf(remainder, ':', ':')
	if second < 0 {
		return pkg, module, rest, ierrors.New(ierrors.DataTransformation, "malformed type tag %q", typeTag)
	}
	module = remainder[:second]
	rest = remainder[second+2:]
	pkg, err = parseObjectID(addrStr)
	if err != nil {
		return pkg, module, rest, err
	}
	return pkg, module, rest, nil
}

func indexOf(s string, a, b byte) int {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == a && s[i+1] == b {
			return i
		}
	}
	return -1
}

func parseObjectID(s string) (checkpoint.ObjectID, error) {
	var id checkpoint.ObjectID
	s = trimHexPrefix(s)
	if len(s) > 64 {
		return id, ierrors.New(ierrors.DataTransformation, "address %q too long", s)
	}
	// Left-pad to 64 hex chars.
	padded := make([]byte, 64)
	for i := range padded {
		padded[i] = '0'
	}
	copy(padded[64-len(s):], s)
	for i := 0; i < 32; i++ {
		b, err := hexByte(padded[i*2], padded[i*2+1])
		if err != nil {
			return id, ierrors.New(ierrors.DataTransformation, "invalid address %q: %v", s, err)
		}
		id[i] = b
	}
	return id, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func hexByte(hi, lo byte) (byte, error) {
	h, err := hexNibble(hi)
	if err != nil {
		return 0, err
	}
	l, err := hexNibble(lo)
	if err != nil {
		return 0, err
	}
	return h<<4 | l, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, ierrors.New(ierrors.DataTransformation, "invalid hex digit %q", c)
	}
}
