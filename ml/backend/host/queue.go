// queue.go - In-Order Command-Queue des Host-Backends
//
// Enthaelt:
// - WriteBuffer/ReadBuffer (warten auf vorherige Kernel-Starts)
// - EnqueueKernel: verteilt die Work-Items auf einen errgroup-Worker-Pool
// - Finish: Barriere ueber alle ausstehenden Kommandos

package host

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/genevo/fiteval/logutil"
	"github.com/genevo/fiteval/ml"
)

type queue struct {
	threads int

	mu       sync.Mutex
	pending  *launch
	released bool
}

// launch tracks one enqueued kernel until every work item has returned.
type launch struct {
	done chan struct{}
	err  error
}

func (l *launch) wait() error {
	<-l.done
	return l.err
}

func (q *queue) WriteBuffer(b ml.Buffer, blocking bool, src []float32) error {
	hb, ok := b.(*buffer)
	if !ok {
		return errors.New("invalid mem object")
	}
	if err := q.drain(); err != nil {
		return err
	}
	return hb.write(src)
}

func (q *queue) ReadBuffer(b ml.Buffer, blocking bool, dst []float32) error {
	hb, ok := b.(*buffer)
	if !ok {
		return errors.New("invalid mem object")
	}
	if err := q.drain(); err != nil {
		return err
	}
	return hb.read(dst)
}

// EnqueueKernel starts the work items in the background and returns. Callers
// observe completion through Finish or any later blocking command.
func (q *queue) EnqueueKernel(k ml.Kernel, global int) error {
	hk, ok := k.(*kernel)
	if !ok {
		return errors.New("invalid kernel")
	}
	if global <= 0 {
		return fmt.Errorf("invalid global work size %d", global)
	}
	if err := q.drain(); err != nil {
		return err
	}

	args, err := hk.bind()
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return fmt.Errorf("queue: %w", errReleased)
	}

	chunk := max(1, global/(q.threads*4))
	logutil.Trace("enqueue kernel", "kernel", hk.name, "global", global, "threads", q.threads, "chunk", chunk)

	l := &launch{done: make(chan struct{})}
	go func() {
		defer close(l.done)
		var g errgroup.Group
		g.SetLimit(q.threads)
		for start := 0; start < global; start += chunk {
			end := min(start+chunk, global)
			g.Go(func() error {
				return runRange(hk, args, start, end)
			})
		}
		l.err = g.Wait()
	}()
	q.pending = l
	return nil
}

func runRange(k *kernel, args Args, start, end int) (err error) {
	gid := start
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kernel %s: work item %d: %v", k.name, gid, r)
		}
	}()
	for ; gid < end; gid++ {
		k.fn(k.defines, args, gid)
	}
	return nil
}

func (q *queue) Finish() error {
	return q.drain()
}

// drain waits for the outstanding kernel launch, if any.
func (q *queue) drain() error {
	q.mu.Lock()
	l := q.pending
	released := q.released
	q.mu.Unlock()

	if released {
		return fmt.Errorf("queue: %w", errReleased)
	}
	if l == nil {
		return nil
	}

	err := l.wait()

	q.mu.Lock()
	if q.pending == l {
		q.pending = nil
	}
	q.mu.Unlock()
	return err
}

func (q *queue) Release() error {
	q.mu.Lock()
	l := q.pending
	q.mu.Unlock()

	// commands already enqueued complete before the queue goes away
	if l != nil {
		_ = l.wait()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = true
	q.pending = nil
	return nil
}
