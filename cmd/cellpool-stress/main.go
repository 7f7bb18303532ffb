// cellpool-stress churns a pool with a linked-list workload: it
// allocates cells, keeps a configurable fraction reachable as chains,
// and reports what the collector did. Useful for eyeballing the growth
// heuristic and for feeding the prometheus collector real traffic.
package main

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"

	"github.com/containerd/log"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/moby/cellpool"
	"github.com/moby/cellpool/internal/listcell"
	"github.com/moby/cellpool/metrics"
)

type stressOptions struct {
	cellSize    int
	startCount  int
	iterations  int
	survival    int
	gcEvery     int
	arena       string
	seed        uint64
	debug       bool
	metricsAddr string
}

func main() {
	if err := newStressCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newStressCommand() *cobra.Command {
	var opts stressOptions
	cmd := &cobra.Command{
		Use:           "cellpool-stress",
		Short:         "Churn a cellpool with a linked-list workload",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(&opts)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&opts.cellSize, "cell-size", listcell.Size, "bytes per cell (at least the link layout size)")
	flags.IntVar(&opts.startCount, "start-count", 16, "starting cell count for a growable pool")
	flags.IntVar(&opts.iterations, "iterations", 100000, "number of allocations to drive")
	flags.IntVar(&opts.survival, "survival", 50, "percent of allocated cells kept reachable")
	flags.IntVar(&opts.gcEvery, "gc-every", 0, "drop all roots and force a collection every N allocations (0 disables)")
	flags.StringVar(&opts.arena, "arena", "", "run in a fixed arena of this size (e.g. 64kb) instead of growing")
	flags.Uint64Var(&opts.seed, "seed", 1, "workload RNG seed")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")
	return cmd
}

func runStress(opts *stressOptions) error {
	if opts.debug {
		if err := log.SetLevel("debug"); err != nil {
			return err
		}
	}
	if opts.cellSize < listcell.Size {
		return fmt.Errorf("cell size %d is smaller than the link layout (%d bytes)", opts.cellSize, listcell.Size)
	}

	var (
		roots     []cellpool.ID
		finalized uint64
	)
	markRoots := func(p *cellpool.Pool) error {
		for _, root := range roots {
			id := root
			for {
				p.Mark(id)
				next := listcell.Load(p.Get(id)).Next
				if next == 0 {
					break
				}
				id = next
			}
		}
		return nil
	}
	countFree := func(*cellpool.Pool, cellpool.ID) {
		finalized++
	}

	pool, err := buildPool(opts, markRoots, countFree)
	if err != nil {
		return err
	}
	defer pool.Release()

	if opts.metricsAddr != "" {
		metrics.Register("stress", pool)
		go func() {
			if err := http.ListenAndServe(opts.metricsAddr, metrics.Handler()); err != nil {
				log.L.WithError(err).Error("metrics server failed")
			}
		}()
		log.L.WithField("addr", opts.metricsAddr).Info("serving metrics")
	}

	rng := rand.New(rand.NewPCG(opts.seed, 0))
	failed := 0
	for i := 0; i < opts.iterations; i++ {
		if opts.gcEvery > 0 && i > 0 && i%opts.gcEvery == 0 {
			roots = roots[:0]
			if err := pool.ForceGC(); err != nil {
				return err
			}
		}
		id, err := pool.Alloc()
		if err != nil {
			// A fixed arena genuinely fills up; count it and keep going
			// so the run still reports sweep behavior.
			failed++
			roots = roots[:0]
			continue
		}
		if rng.IntN(100) < opts.survival {
			link := listcell.Link{Payload: rng.Uint64()}
			// Chains terminate at Next == 0, so cell 0 stays a
			// standalone root and is never linked to.
			if id != 0 && len(roots) > 0 {
				if k := rng.IntN(len(roots)); roots[k] != 0 {
					link.Next = roots[k]
					listcell.Store(pool.Get(id), link)
					roots[k] = id
					continue
				}
			}
			listcell.Store(pool.Get(id), link)
			roots = append(roots, id)
		}
	}

	// Final cycle: everything is garbage now.
	roots = nil
	if err := pool.ForceGC(); err != nil {
		return err
	}

	st := pool.Stats()
	log.L.WithFields(log.Fields{
		"cells":       st.Count,
		"capacity":    units.HumanSize(float64(st.Capacity)),
		"allocs":      st.Allocs,
		"failed":      failed,
		"gc_cycles":   st.GCCycles,
		"grows":       st.Grows,
		"swept":       st.Swept,
		"finalized":   finalized,
		"cell_size":   units.HumanSize(float64(st.CellSize)),
		"fixed_arena": st.Fixed,
	}).Info("stress run complete")
	return nil
}

func buildPool(opts *stressOptions, markFn cellpool.MarkFunc, freeFn cellpool.FreeFunc) (*cellpool.Pool, error) {
	if opts.arena != "" {
		size, err := units.RAMInBytes(opts.arena)
		if err != nil {
			return nil, fmt.Errorf("parsing arena size: %w", err)
		}
		return cellpool.NewFixed(opts.cellSize, make([]byte, size), markFn, freeFn)
	}
	return cellpool.New(opts.cellSize, opts.startCount, cellpool.HeapMemory, markFn, freeFn)
}
