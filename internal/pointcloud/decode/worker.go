package decode

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/lidar.console/internal/pointcloud/wire"
)

// ErrWorkerUnsupported is returned by a Spawner when isolated workers are not
// available. The manager then decodes every frame on the caller.
var ErrWorkerUnsupported = errors.New("decode worker unsupported")

// errWorkerExited is reported when a worker's message stream ends without
// the manager having terminated it.
var errWorkerExited = errors.New("decode worker exited")

// MessageKind distinguishes worker to manager messages.
type MessageKind int

const (
	// MessageReady is the handshake sent once the worker accepts jobs.
	MessageReady MessageKind = iota
	// MessageResult carries a decoded frame, or a per-frame decode error.
	MessageResult
	// MessageError reports an unrecoverable worker fault.
	MessageError
)

// Job is one raw frame submitted for decoding. Epoch is echoed back in the
// result so the receiver can discard output from a previous session.
type Job struct {
	Epoch uint64
	Frame *wire.RawFrame
}

// Message is sent by a worker to its manager.
type Message struct {
	Kind    MessageKind
	Epoch   uint64
	Frame   wire.DecodedFrame
	Elapsed time.Duration
	Err     error
}

// Worker is an isolated decoder reached only through messages.
type Worker interface {
	// Post enqueues a job without blocking. It returns false if the
	// worker's inbox is full or the worker has stopped.
	Post(job Job) bool
	// Messages delivers READY, results and faults. It is closed when the
	// worker stops.
	Messages() <-chan Message
	// Terminate stops the worker. It is safe to call more than once.
	Terminate()
}

// Spawner creates a new worker.
type Spawner func() (Worker, error)

// DecodeFunc turns a raw frame into flat arrays.
type DecodeFunc func(*wire.RawFrame) (wire.DecodedFrame, error)

// goroutineWorker runs a decoder on its own goroutine. A panic inside the
// decoder is recovered and reported as MessageError.
type goroutineWorker struct {
	decode DecodeFunc
	in     chan Job
	out    chan Message
	done   chan struct{}
	once   sync.Once
}

// GoroutineSpawner returns a Spawner for goroutine-backed workers with the
// given inbox depth.
func GoroutineSpawner(decode DecodeFunc, inbox int) Spawner {
	if decode == nil {
		decode = wire.Decode
	}
	if inbox <= 0 {
		inbox = 1
	}
	return func() (Worker, error) {
		w := &goroutineWorker{
			decode: decode,
			in:     make(chan Job, inbox),
			out:    make(chan Message, inbox+1),
			done:   make(chan struct{}),
		}
		go w.run()
		return w, nil
	}
}

// UnsupportedSpawner always reports ErrWorkerUnsupported.
func UnsupportedSpawner() (Worker, error) {
	return nil, ErrWorkerUnsupported
}

func (w *goroutineWorker) Post(job Job) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.in <- job:
		return true
	default:
		return false
	}
}

func (w *goroutineWorker) Messages() <-chan Message { return w.out }

func (w *goroutineWorker) Terminate() {
	w.once.Do(func() { close(w.done) })
}

func (w *goroutineWorker) run() {
	defer close(w.out)
	defer func() {
		if r := recover(); r != nil {
			w.send(Message{Kind: MessageError, Err: fmt.Errorf("decode worker panic: %v", r)})
		}
	}()

	if !w.send(Message{Kind: MessageReady}) {
		return
	}
	for {
		select {
		case <-w.done:
			return
		case job := <-w.in:
			start := time.Now()
			frame, err := w.decode(job.Frame)
			msg := Message{Kind: MessageResult, Epoch: job.Epoch, Frame: frame, Elapsed: time.Since(start), Err: err}
			if !w.send(msg) {
				frame.Release()
				return
			}
		}
	}
}

func (w *goroutineWorker) send(msg Message) bool {
	select {
	case w.out <- msg:
		return true
	case <-w.done:
		return false
	}
}
