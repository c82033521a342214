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

// Package config loads the commit pipeline's runtime tunables from the
// environment, following the same plain os.Getenv-plus-defaults style the
// teacher uses for process-level knobs rather than a flag/viper layer,
// since cmd/indexer's own flags (RPC endpoint, metrics address, object
// cache capacity) are the only
// other configuration surface this module has.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the commit pipeline knobs spec §5 and §7 name explicitly.
type Config struct {
	// CheckpointQueueSize bounds the channel between CheckpointIndexer and
	// CommitPipeline; a full queue blocks the indexer (backpressure).
	CheckpointQueueSize int
	// CheckpointCommitBatchSize is how many drained batches the committer
	// accumulates before writing, to amortize store round trips.
	CheckpointCommitBatchSize int
	// ObjectPersistChunkSize bounds how many object rows a single store
	// write call receives at once.
	ObjectPersistChunkSize int
	// SkipDBCommit runs the pipeline without writing to the store, for
	// dry-run validation of the derivation stages.
	SkipDBCommit bool
	// StoreRetryBudget is the total time a store write may spend retrying
	// before the pipeline gives up and fails the checkpoint.
	StoreRetryBudget time.Duration
}

// Default matches the values spec §5 states as defaults.
func Default() Config {
	return Config{
		CheckpointQueueSize:       1000,
		CheckpointCommitBatchSize: 5,
		ObjectPersistChunkSize:    1000,
		SkipDBCommit:              false,
		StoreRetryBudget:          60 * time.Second,
	}
}

// FromEnv overlays environment variables onto Default, leaving any unset
// variable at its default.
func FromEnv() Config {
	c := Default()
	if v, ok := lookupInt("CHECKPOINT_QUEUE_SIZE"); ok {
		c.CheckpointQueueSize = v
	}
	if v, ok := lookupInt("CHECKPOINT_COMMIT_BATCH_SIZE"); ok {
		c.CheckpointCommitBatchSize = v
	}
	if v, ok := lookupInt("OBJECT_PERSIST_CHUNK_SIZE"); ok {
		c.ObjectPersistChunkSize = v
	}
	if v, ok := os.LookupEnv("SKIP_DB_COMMIT"); ok {
		c.SkipDBCommit = v == "1" || v == "true"
	}
	if v, ok := lookupInt("STORE_RETRY_BUDGET_SECONDS"); ok {
		c.StoreRetryBudget = time.Duration(v) * time.Second
	}
	return c
}

func lookupInt(name string) (int, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
