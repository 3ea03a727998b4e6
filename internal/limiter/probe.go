package limiter

import (
	"errors"
	"os"
	"runtime/metrics"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// RuntimeProbe measures an in-process interpreter session. Calls run one at
// a time, each on its own goroutine locked to an OS thread:
//   - memory is the growth of the heap since the call began
//   - CPU time is the thread time of every call, summed
//   - file descriptors are the growth of the process fd table during the call
//
// Memory and fds are process-wide readings, so they are only meaningful
// while calls do not overlap.
type RuntimeProbe struct {
	fs    procfs.FS
	fsErr error
	pid   int

	mu       sync.Mutex
	active   bool
	tid      int
	started  time.Time
	cpuBase  time.Duration
	cpuTotal time.Duration
	heapBase int64
	fdBase   int
	last     Usage
}

// NewRuntimeProbe creates a probe. Without procfs the CPU time falls back
// to elapsed wall time and fds are not counted.
func NewRuntimeProbe() *RuntimeProbe {
	fs, err := procfs.NewDefaultFS()
	return &RuntimeProbe{fs: fs, fsErr: err, pid: os.Getpid()}
}

// ProcfsAvailable reports whether per-thread accounting works on this host
func ProcfsAvailable() bool {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return false
	}
	self, err := fs.Self()
	if err != nil {
		return false
	}
	_, err = self.FileDescriptorsLen()
	return err == nil
}

// Begin marks the start of a call. It must run on the goroutine executing
// the call, after runtime.LockOSThread.
func (p *RuntimeProbe) Begin() {
	tid := currentThreadID()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.active = true
	p.tid = tid
	p.started = time.Now()
	p.heapBase = heapBytes()
	p.fdBase, _ = p.openFDs()
	p.cpuBase, _ = p.threadCPU(tid)
}

// Finish takes the final sample of the current call and folds its CPU time
// into the session total.
func (p *RuntimeProbe) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}
	p.last = p.sampleLocked()
	p.cpuTotal = p.last.CPUTime
	p.active = false
}

// Sample implements Probe. Between calls it returns the final sample of the
// previous call.
func (p *RuntimeProbe) Sample() (Usage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		u := p.last
		u.SampledAt = time.Now()
		return u, nil
	}
	p.last = p.sampleLocked()
	return p.last, nil
}

func (p *RuntimeProbe) sampleLocked() Usage {
	u := Usage{
		MemoryBytes: heapBytes() - p.heapBase,
		SampledAt:   time.Now(),
	}
	if u.MemoryBytes < 0 {
		u.MemoryBytes = 0
	}

	cpu, err := p.threadCPU(p.tid)
	if err != nil {
		cpu = time.Since(p.started)
	} else {
		cpu -= p.cpuBase
	}
	if cpu < 0 {
		cpu = 0
	}
	u.CPUTime = p.cpuTotal + cpu

	if fds, err := p.openFDs(); err == nil && fds > p.fdBase {
		u.FileDescriptors = fds - p.fdBase
	}
	return u
}

func (p *RuntimeProbe) threadCPU(tid int) (time.Duration, error) {
	if p.fsErr != nil {
		return 0, p.fsErr
	}
	if tid == 0 {
		return 0, errors.New("thread id unavailable")
	}
	thread, err := p.fs.Thread(p.pid, tid)
	if err != nil {
		return 0, err
	}
	if sched, err := thread.Schedstat(); err == nil {
		return time.Duration(sched.RunningNanoseconds), nil
	}
	stat, err := thread.Stat()
	if err != nil {
		return 0, err
	}
	return time.Duration(stat.CPUTime() * float64(time.Second)), nil
}

func (p *RuntimeProbe) openFDs() (int, error) {
	if p.fsErr != nil {
		return 0, p.fsErr
	}
	self, err := p.fs.Self()
	if err != nil {
		return 0, err
	}
	return self.FileDescriptorsLen()
}

func heapBytes() int64 {
	sample := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return int64(sample[0].Value.Uint64())
}
