package dkit

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// DescribeResult is the outcome of describing one package directory.
type DescribeResult struct {
	Dir         string
	Description ProjectDescription
	Err         error
}

// DescribeStats tracks a DescribeAll run.
type DescribeStats struct {
	described atomic.Uint64
	failed    atomic.Uint64
	startTime time.Time
	endTime   time.Time
}

// Described returns how many directories were described successfully.
func (s *DescribeStats) Described() int { return int(s.described.Load()) }

// Failed returns how many directories failed.
func (s *DescribeStats) Failed() int { return int(s.failed.Load()) }

// Duration returns the time taken by the run.
func (s *DescribeStats) Duration() time.Duration {
	if s.endTime.IsZero() {
		return time.Since(s.startTime)
	}
	return s.endTime.Sub(s.startTime)
}

// DescribeAll runs Describe for every directory with at most workers
// concurrent dub processes (runtime.NumCPU when workers < 1). Results are
// returned in the order of dirs. A failing directory does not stop the
// others; its error is reported in its result.
func (p *Project) DescribeAll(ctx context.Context, dirs []string, workers int) ([]DescribeResult, *DescribeStats, error) {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, max(len(dirs), 1))

	stats := &DescribeStats{startTime: time.Now()}
	results := make([]DescribeResult, len(dirs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = p.describeOne(ctx, dirs[i], stats)
			}
		}()
	}

send:
	for i := range dirs {
		select {
		case <-ctx.Done():
			break send
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	stats.endTime = time.Now()

	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}
	return results, stats, nil
}

func (p *Project) describeOne(ctx context.Context, dir string, stats *DescribeStats) DescribeResult {
	desc, err := p.Describe(ctx, dir)
	if err != nil {
		p.logger.Error("Failed to describe package", "dir", dir, "error", err)
		stats.failed.Add(1)
		return DescribeResult{Dir: dir, Err: err}
	}
	stats.described.Add(1)
	return DescribeResult{Dir: dir, Description: desc}
}

// IncludePathsOf merges the include paths of every successful result in
// order. It returns an error naming the first failed directory, if any,
// along with the paths it could collect.
func IncludePathsOf(results []DescribeResult) ([]string, error) {
	var (
		paths    []string
		firstErr error
	)
	for _, r := range results {
		if r.Err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("describing %s: %w", r.Dir, r.Err)
			}
			continue
		}
		paths = append(paths, r.Description.IncludePaths()...)
	}
	return DedupePaths(paths), firstErr
}
