package util

import (
	"runtime"
	"sync"
)

// Parallel splits [0, dataSize) into contiguous partitions and runs fn on each in its own
// goroutine, returning once every partition is done.
//
// Arguments:
//   - dataSize: Number of items to process.
//   - workers: Maximum number of goroutines. Zero or less uses runtime.NumCPU.
//   - fn: Called once per partition with its half-open bounds.
//
// @example
//
//	Parallel(len(frames), 0, func(start, end int) {
//	    for i := start; i < end; i++ {
//	        // Process frame i
//	    }
//	})
func Parallel(dataSize, workers int, fn func(partStart, partEnd int)) {
	if dataSize <= 0 {
		return
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > dataSize {
		workers = dataSize
	}
	if workers == 1 {
		fn(0, dataSize)
		return
	}

	partSize := dataSize / workers

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		partStart := i * partSize
		partEnd := partStart + partSize

		// Last partition gets any remaining data.
		if i == workers-1 {
			partEnd = dataSize
		}

		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(partStart, partEnd)
	}
	wg.Wait()
}
