// Command flashbatch is a smoke-test binary exercising WriteBatch end to
// end: a couple of goroutines put/delete across two families, Finish
// flushes everything, and the resulting artifacts are printed.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/Priyanshu23/FlashBatchGo/batch"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "flashbatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dir, err := os.MkdirTemp("", "flashbatch-demo-*")
	if err != nil {
		return fmt.Errorf("create demo dir: %w", err)
	}
	defer os.RemoveAll(dir)

	wb, err := batch.NewWriteBatch[string](dir, 0,
		batch.WithFamilies[string](2),
		batch.WithMaxMediumValueSize[string](64),
		batch.WithVerification[string](true),
	)
	if err != nil {
		return fmt.Errorf("new write batch: %w", err)
	}

	var wg sync.WaitGroup
	for worker := 0; worker < 2; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			ctx := wb.Bind(context.Background())

			for i := 0; i < 50; i++ {
				key := fmt.Sprintf("worker-%d-key-%03d", worker, i)
				if err := wb.Put(ctx, worker%2, key, []byte(fmt.Sprintf("value-%d", i))); err != nil {
					fmt.Fprintf(os.Stderr, "flashbatch: put %s: %v\n", key, err)
				}
			}
			if err := wb.Delete(ctx, worker%2, fmt.Sprintf("worker-%d-key-%03d", worker, 0)); err != nil {
				fmt.Fprintf(os.Stderr, "flashbatch: delete: %v\n", err)
			}
		}(worker)
	}
	wg.Wait()

	result, err := wb.Finish(context.Background())
	if err != nil {
		return fmt.Errorf("finish: %w", err)
	}

	fmt.Printf("sequence=%d new_ssts=%d new_blobs=%d\n",
		result.SequenceNumber, len(result.NewSSTFiles), len(result.NewBlobFiles))
	for _, sst := range result.NewSSTFiles {
		fmt.Printf("  sst seq=%d path=%s\n", sst.Sequence, sst.File.Name())
		sst.File.Close()
	}
	for _, f := range result.NewBlobFiles {
		fmt.Printf("  blob path=%s\n", f.Name())
		f.Close()
	}

	return nil
}
