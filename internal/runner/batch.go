package runner

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/robert-at-pretension-io/hdlsim/internal/config"
)

// BatchResult is the outcome of one source of a batch.
type BatchResult struct {
	Source config.Source `json:"source"`
	Name   string        `json:"name"`
	Cached bool          `json:"cached"`
	Result *Result       `json:"result"`
}

// RunBatch runs every source under rootPath. Results are in source order.
// A source that fails to simulate is still a result; only unreadable
// files and infrastructure faults stop the batch.
func (r *Runner) RunBatch(ctx context.Context, rootPath string) ([]BatchResult, error) {
	timing := newTimingRecorder(time.Now(), r.resolveTimingPath())
	defer timing.Close()
	if err := timing.Err(); err != nil {
		return nil, fmt.Errorf("timing output: %w", err)
	}

	stepStart := time.Now()
	sources, err := r.Config.ResolveSources(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve sources: %w", err)
	}
	timing.RecordStage("scan", stepStart, time.Since(stepStart), "")

	var cache *resultCache
	if cacheEnabled(r.Config) {
		cache = newResultCache(resolveCacheDir(rootPath, r.Config))
		if err := cache.Load(); err != nil {
			return nil, err
		}
	}

	stepStart = time.Now()
	results := make([]BatchResult, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxParallel())
	for i, src := range sources {
		g.Go(func() error {
			br, err := r.runSource(gctx, src, cache, timing)
			if err != nil {
				return fmt.Errorf("%s: %w", src.Design, err)
			}
			results[i] = br
			return nil
		})
	}
	err = g.Wait()
	status := "ok"
	if err != nil {
		status = "error"
	}
	timing.RecordStage("run", stepStart, time.Since(stepStart), status)
	if err != nil {
		return nil, err
	}

	if cache != nil {
		if err := cache.Save(); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (r *Runner) runSource(ctx context.Context, src config.Source, cache *resultCache, timing *timingRecorder) (BatchResult, error) {
	prog, err := ReadProgram(src)
	if err != nil {
		return BatchResult{}, err
	}
	br := BatchResult{Source: src, Name: src.Name()}

	var key string
	if cache != nil {
		key, err = cacheKey(prog.Text(), r.Config)
		if err != nil {
			return BatchResult{}, err
		}
		start := time.Now()
		if res, ok, err := cache.Get(br.Name, key); err == nil && ok {
			timing.RecordPhase(res.RunID, "cache", src.Design, "cache_hit", start, time.Since(start))
			br.Cached = true
			br.Result = res
			return br, nil
		}
	}

	res, err := r.run(ctx, prog, src.Design, timing)
	if err != nil {
		return BatchResult{}, err
	}
	br.Result = res
	if cache != nil {
		if err := cache.Put(br.Name, key, res); err != nil {
			return BatchResult{}, err
		}
	}
	return br, nil
}

// ReadProgram loads the files of a source.
func ReadProgram(src config.Source) (Program, error) {
	design, err := os.ReadFile(src.Design)
	if err != nil {
		return Program{}, err
	}
	prog := Program{Design: string(design)}
	if src.Testbench != "" {
		tb, err := os.ReadFile(src.Testbench)
		if err != nil {
			return Program{}, err
		}
		prog.Testbench = string(tb)
	}
	return prog, nil
}

func (r *Runner) maxParallel() int {
	if n := r.Config.Analysis.MaxParallel; n > 0 {
		return n
	}
	return runtime.NumCPU()
}
