package fbgemm

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Device represents a compute device. On this backend the device is the CPU:
// each core is modeled as one streaming multiprocessor, so a persistent
// launch runs exactly one worker goroutine per core.
type Device struct {
	ID       int    // Unique device identifier
	Name     string // Human-readable device name
	TotalMem uint64 // Total available memory in bytes
	NumSMs   int    // Number of streaming multiprocessors

	// DescriptorEngine reports whether the device can service 2D
	// block-copy descriptors. The CPU backend emulates the engine in
	// software, so it is always present here; launches are rejected with a
	// NotImplemented error when it is absent.
	DescriptorEngine bool
}

// Context represents an execution context. It manages device resources,
// memory allocation, and stream execution. A Context must exist before any
// launch; package-level functions use a default context created at init.
type Context struct {
	device        *Device
	mu            sync.Mutex // guards streams
	streams       map[int]*Stream
	streamID      int32
	memory        *MemoryPool
	defaultStream *Stream
}

// Stream represents an ordered sequence of operations that execute
// asynchronously. Operations within a stream execute in order, but
// operations in different streams may execute concurrently. A grouped GEMM
// launch occupies its stream until every persistent worker has drained its
// share of the tile space, so launches on one stream never overlap.
type Stream struct {
	id    int
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup
}

// Global runtime state
var (
	defaultDevice  *Device
	defaultContext *Context
	initOnce       sync.Once
)

func init() {
	initOnce.Do(func() {
		defaultDevice = &Device{
			ID:               0,
			Name:             deviceName(),
			TotalMem:         getSystemMemory(),
			NumSMs:           runtime.NumCPU(),
			DescriptorEngine: true,
		}

		defaultContext = &Context{
			device:  defaultDevice,
			streams: make(map[int]*Stream),
			memory:  NewMemoryPool(),
		}

		defaultContext.defaultStream = defaultContext.CreateStream()
	})
}

// GetDevice returns the current device information.
func GetDevice() *Device {
	return defaultDevice
}

// MultiProcessorCount returns the number of streaming multiprocessors on the
// current device. Persistent launches use this as their grid size.
func MultiProcessorCount() int {
	return defaultDevice.NumSMs
}

// Malloc allocates device memory of the specified size in bytes.
// The returned DevicePtr can be used with all device operations.
func Malloc(size int) (DevicePtr, error) {
	return defaultContext.Malloc(size)
}

// Free releases device memory allocated by Malloc.
func Free(ptr DevicePtr) error {
	return defaultContext.Free(ptr)
}

// Memcpy copies memory between host and device.
func Memcpy(dst, src interface{}, size int, kind MemcpyKind) error {
	return defaultContext.Memcpy(dst, src, size, kind)
}

// Synchronize waits for all operations on all streams to complete.
func Synchronize() error {
	return defaultContext.Synchronize()
}

// Context methods

// CreateStream creates a new execution stream
func (ctx *Context) CreateStream() *Stream {
	id := int(atomic.AddInt32(&ctx.streamID, 1))
	stream := &Stream{
		id:    id,
		tasks: make(chan func(), 1000),
		done:  make(chan struct{}),
	}

	// Start worker goroutine for stream
	go stream.worker()

	ctx.mu.Lock()
	ctx.streams[id] = stream
	ctx.mu.Unlock()
	return stream
}

// launchPersistent submits a persistent kernel to a stream: numWorkers
// goroutines run concurrently, each handed its own worker index, and the
// stream task completes only when every worker returns. Workers receive no
// other scheduling input; the body derives its full share of the work from
// the index alone.
func (ctx *Context) launchPersistent(stream *Stream, numWorkers int, body func(tidx int)) error {
	if numWorkers <= 0 {
		return NewInvalidArgError("launchPersistent", "worker count must be positive")
	}

	stream.Submit(func() {
		var wg sync.WaitGroup
		wg.Add(numWorkers)

		for tidx := 0; tidx < numWorkers; tidx++ {
			go func(tidx int) {
				defer wg.Done()
				body(tidx)
			}(tidx)
		}

		wg.Wait()
	})

	return nil
}

// Synchronize waits for all streams to complete. The snapshot is taken under
// the lock so stream creation can proceed while earlier streams drain.
func (ctx *Context) Synchronize() error {
	ctx.mu.Lock()
	streams := make([]*Stream, 0, len(ctx.streams))
	for _, stream := range ctx.streams {
		streams = append(streams, stream)
	}
	ctx.mu.Unlock()

	for _, stream := range streams {
		stream.Synchronize()
	}
	return nil
}

// Stream methods

// worker processes tasks for a stream
func (s *Stream) worker() {
	for task := range s.tasks {
		task()
		s.wg.Done()
	}
	close(s.done)
}

// Synchronize waits for all tasks in the stream to complete
func (s *Stream) Synchronize() {
	s.wg.Wait()
}

// Submit adds a task to the stream
func (s *Stream) Submit(task func()) {
	s.wg.Add(1)
	s.tasks <- task
}
