// Package reference is the software model of the fused convolution/pooling
// kernel. It computes in ordinary float arithmetic with exactly the indexing,
// grouping, channel interleave and argmax encoding the device must follow.
//
// All functions take full-precision HWCN buffers and the same descriptor used
// to drive the device. Each function writes only its designated output.
package reference

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/FlavioCFOliveira/crcheck/internal/params"
)

var (
	// ErrShape is returned when a buffer length or group index does not
	// match the descriptor.
	ErrShape = errors.New("reference: shape mismatch")

	// ErrArgmaxCode is returned by backward pooling for a code that does
	// not name a window position.
	ErrArgmaxCode = errors.New("reference: invalid argmax code")
)

func checkLen(name string, buf int, want int) error {
	if buf != want {
		return fmt.Errorf("%w: %s has %d elements, want %d", ErrShape, name, buf, want)
	}
	return nil
}

func checkGroup(d params.Descriptor, g int) error {
	if g < 0 || g >= d.NumGroups {
		return fmt.Errorf("%w: group %d outside [0,%d)", ErrShape, g, d.NumGroups)
	}
	return nil
}

// convDescriptor validates d as a convolution descriptor whatever its mode
// flags say.
func convDescriptor(d params.Descriptor) error {
	d.Pool = false
	return d.Validate()
}

// poolDescriptor validates d as a pooling descriptor whatever its mode
// flags say.
func poolDescriptor(d params.Descriptor) error {
	d.Pool = true
	return d.Validate()
}

// workers returns how many chunks split divides n items into.
func workers(n int) int {
	return max(1, min(n, runtime.NumCPU()))
}

// split runs fn over [0, n) in contiguous chunks, one goroutine per chunk,
// and returns when all chunks are done.
func split(n int, fn func(chunk, start, end int)) {
	numWorkers := workers(n)
	chunkSize := (n + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, n)
		if start < end {
			wg.Add(1)
			go func(chunk, start, end int) {
				defer wg.Done()
				fn(chunk, start, end)
			}(i, start, end)
		}
	}
	wg.Wait()
}
