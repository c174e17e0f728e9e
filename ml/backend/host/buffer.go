package host

import (
	"fmt"
	"sync"

	"github.com/genevo/fiteval/ml"
)

type buffer struct {
	flags ml.MemFlags

	mu       sync.Mutex
	data     []float32
	released bool
}

func (b *buffer) Size() int { return len(b.data) * ml.Float32Size }

func (b *buffer) Flags() ml.MemFlags { return b.flags }

func (b *buffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = true
	return nil
}

func (b *buffer) write(src []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return fmt.Errorf("buffer: %w", errReleased)
	}
	if len(src) > len(b.data) {
		return fmt.Errorf("invalid value: write of %d bytes exceeds buffer of %d bytes", len(src)*ml.Float32Size, b.Size())
	}
	copy(b.data, src)
	return nil
}

func (b *buffer) read(dst []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return fmt.Errorf("buffer: %w", errReleased)
	}
	if len(dst) > len(b.data) {
		return fmt.Errorf("invalid value: read of %d bytes exceeds buffer of %d bytes", len(dst)*ml.Float32Size, b.Size())
	}
	copy(dst, b.data)
	return nil
}

// view returns the backing slice for kernel access. Work items own disjoint
// indices, so no lock is held while a kernel runs.
func (b *buffer) view() ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, fmt.Errorf("buffer: %w", errReleased)
	}
	return b.data, nil
}
