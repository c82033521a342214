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

// Command indexer wires the checkpoint indexing core to a checkpoint
// source, a store, and a full-node RPC endpoint, and runs it until
// cancelled. Bootstrapping the store/RPC backends and the checkpoint
// source itself are out of scope for this module; main wires the ports
// this module defines to whatever implementations the deployment supplies.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/erigontech/move-indexer/internal/checkpoint"
	"github.com/erigontech/move-indexer/internal/commitpipeline"
	"github.com/erigontech/move-indexer/internal/config"
	"github.com/erigontech/move-indexer/internal/ierrors"
	"github.com/erigontech/move-indexer/internal/indexer"
	"github.com/erigontech/move-indexer/internal/metrics"
	"github.com/erigontech/move-indexer/internal/objectcache"
	"github.com/erigontech/move-indexer/internal/objectprovider"
	"github.com/erigontech/move-indexer/internal/rpcclient"
	"github.com/erigontech/move-indexer/internal/store"
)

var (
	rpcEndpoint   string
	metricsAddr   string
	cacheCapacity int
)

func main() {
	root := &cobra.Command{
		Use:   "indexer",
		Short: "Runs the checkpoint indexing core against a checkpoint source and a store backend.",
		RunE:  run,
	}
	root.Flags().StringVar(&rpcEndpoint, "rpc-endpoint", "", "full node JSON-RPC endpoint used as the object-read fallback")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	root.Flags().IntVar(&cacheCapacity, "object-cache-capacity", 0, "bound the object cache to this many distinct object ids (0 = unbounded)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Source, Store, and ModuleCache backends are supplied by the deployment;
// this module defines only their contracts (checkpoint.Source, store.Store).
// A concrete checkpoint source and store are required here but not provided
// by this module (see SPEC_FULL.md §6); wireSource/wireStore are the seams a
// deployment fills in.
func run(cmd *cobra.Command, args []string) error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	go serveMetrics(metricsAddr, reg, log)

	cfg := config.FromEnv()

	var cache *objectcache.Cache
	if cacheCapacity > 0 {
		cache, err = objectcache.NewBounded(cacheCapacity)
		if err != nil {
			return err
		}
	} else {
		cache = objectcache.New()
	}

	backend, err := wireStore()
	if err != nil {
		return ierrors.Wrap(err, ierrors.StoreRead)
	}
	source, err := wireSource()
	if err != nil {
		return err
	}

	fullNode := rpcclient.New(rpcEndpoint, http.DefaultClient)
	provider := objectprovider.New(cache, backend, fullNode)
	ix := indexer.New(cache, provider, backend.ModuleCache(), backend, log, m)
	pipeline := commitpipeline.New(backend, cfg, log, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	batches := make(chan *store.CheckpointBatch, cfg.CheckpointQueueSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipeline.Run(gctx, batches) })
	g.Go(func() error {
		defer close(batches)
		return runIndexer(gctx, source, ix, batches)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// runIndexer pulls checkpoints from source in order, processes each, and
// hands the resulting batch to the commit pipeline over batches. Backpressure
// from a full channel blocks here, per spec §5. The caller closes batches
// once this returns.
func runIndexer(ctx context.Context, source checkpoint.Source, ix *indexer.Indexer, batches chan<- *store.CheckpointBatch) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		cp, err := source.NextCheckpoint()
		if err != nil {
			return err
		}

		batch, err := ix.ProcessCheckpoint(ctx, cp)
		if err != nil {
			return err
		}

		select {
		case batches <- batch:
		case <-ctx.Done():
			return nil
		}
	}
}

// wireStore and wireSource are the two deployment seams this module leaves
// unfilled: a concrete Store backend and a concrete checkpoint source are
// both out of scope (SPEC_FULL.md §6, Non-goals). A real deployment
// replaces these two functions with its chosen backend and source.
func wireStore() (store.Store, error) {
	return nil, fmt.Errorf("no store backend wired: replace wireStore with a concrete store.Store implementation")
}

func wireSource() (checkpoint.Source, error) {
	return nil, fmt.Errorf("no checkpoint source wired: replace wireSource with a concrete checkpoint.Source implementation")
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", zap.Error(err))
	}
}
