package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/amikos-tech/pure-neuron/nrt"
)

// BenchConfig controls a benchmark run.
type BenchConfig struct {
	Iterations  int
	Concurrency int
	// Warmup executions per worker are run before timing starts.
	Warmup int
}

// BenchResult summarizes the timed executions.
type BenchResult struct {
	Iterations  int
	Concurrency int
	Elapsed     time.Duration
	Mean        time.Duration
	P50         time.Duration
	P95         time.Duration
	P99         time.Duration
	Max         time.Duration
}

// Throughput returns executions per second.
func (r BenchResult) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Iterations) / r.Elapsed.Seconds()
}

// Bench executes model cfg.Iterations times split across cfg.Concurrency
// workers. Each worker mints its own IoTensors bound to zeroed buffers so
// executions never share tensors.
func Bench(ctx context.Context, cfg Config, model *nrt.Model, bc BenchConfig) (BenchResult, error) {
	if bc.Iterations <= 0 {
		return BenchResult{}, fmt.Errorf("iterations must be > 0, got %d", bc.Iterations)
	}
	if bc.Concurrency <= 0 {
		bc.Concurrency = 1
	}
	if bc.Concurrency > bc.Iterations {
		bc.Concurrency = bc.Iterations
	}
	if bc.Warmup < 0 {
		return BenchResult{}, fmt.Errorf("warmup must be >= 0, got %d", bc.Warmup)
	}
	log := cfg.logger()

	workers := make([]*nrt.IoTensors, 0, bc.Concurrency)
	defer func() {
		for _, io := range workers {
			if err := io.Destroy(); err != nil {
				log.Warn("failed to destroy worker tensors", zap.Error(err))
			}
		}
	}()
	for i := 0; i < bc.Concurrency; i++ {
		io, err := model.NewIoTensors()
		if err != nil {
			return BenchResult{}, err
		}
		workers = append(workers, io)
		if err := bindZeros(io, model.TensorInfo()); err != nil {
			return BenchResult{}, err
		}
		for w := 0; w < bc.Warmup; w++ {
			if err := model.ExecuteWith(io); err != nil {
				return BenchResult{}, fmt.Errorf("warmup: %w", err)
			}
		}
	}

	var (
		next      atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, bc.Iterations)
	)
	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for _, io := range workers {
		g.Go(func() error {
			local := make([]time.Duration, 0, bc.Iterations/bc.Concurrency+1)
			defer func() {
				mu.Lock()
				latencies = append(latencies, local...)
				mu.Unlock()
			}()
			for next.Add(1) <= int64(bc.Iterations) {
				if err := gctx.Err(); err != nil {
					return err
				}
				execute := func() error { return model.ExecuteWith(io) }
				began := time.Now()
				var err error
				if cfg.Recorder != nil {
					err = cfg.Recorder.Execute(execute)
				} else {
					err = execute()
				}
				if err != nil {
					return err
				}
				local = append(local, time.Since(began))
			}
			return nil
		})
	}
	err := g.Wait()
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Info("benchmark interrupted", zap.Int("completed", len(latencies)))
		}
		return BenchResult{}, err
	}

	result := summarize(latencies, elapsed)
	result.Concurrency = bc.Concurrency
	log.Info("benchmark finished",
		zap.Int("iterations", result.Iterations),
		zap.Int("concurrency", result.Concurrency),
		zap.Duration("elapsed", result.Elapsed),
		zap.Duration("p50", result.P50),
		zap.Duration("p99", result.P99))
	return result, nil
}

func bindZeros(io *nrt.IoTensors, infos []nrt.TensorInfo) error {
	for _, info := range infos {
		if err := io.Bind(info.Name, info.Usage, make([]byte, info.Size)); err != nil {
			return err
		}
	}
	return nil
}

func summarize(latencies []time.Duration, elapsed time.Duration) BenchResult {
	result := BenchResult{Iterations: len(latencies), Elapsed: elapsed}
	if len(latencies) == 0 {
		return result
	}
	slices.Sort(latencies)

	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	result.Mean = total / time.Duration(len(latencies))
	result.P50 = percentile(latencies, 50)
	result.P95 = percentile(latencies, 95)
	result.P99 = percentile(latencies, 99)
	result.Max = latencies[len(latencies)-1]
	return result
}

// percentile uses the nearest-rank method on sorted latencies.
func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
