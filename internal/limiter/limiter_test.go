package limiter

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyprrice/hyprsandbox/internal/policy"
)

type fakeProbe struct {
	mu    sync.Mutex
	usage Usage
	err   error
	calls atomic.Int32
}

func (f *fakeProbe) Sample() (Usage, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage, f.err
}

func (f *fakeProbe) set(u Usage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = u
}

var testLimits = policy.ResourceLimits{
	MaxMemoryBytes:     1024,
	MaxCPU:             time.Second,
	MaxFileDescriptors: 4,
	MaxWallClock:       time.Second,
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestStartMonitoring_SamplesImmediately(t *testing.T) {
	probe := &fakeProbe{usage: Usage{MemoryBytes: 10}}
	l := New(time.Hour)

	h := l.StartMonitoring("s1", testLimits, probe, nil)
	defer l.StopMonitoring(h)

	assert.Nil(t, h.Check())
	assert.Equal(t, int64(10), h.Usage().MemoryBytes)
	assert.False(t, h.Usage().SampledAt.IsZero())
	assert.GreaterOrEqual(t, probe.calls.Load(), int32(2))
}

func TestStartMonitoring_MemoryViolation(t *testing.T) {
	probe := &fakeProbe{}
	l := New(5 * time.Millisecond)

	var got []Violation
	var mu sync.Mutex
	h := l.StartMonitoring("s1", testLimits, probe, func(v Violation) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, v)
	})

	probe.set(Usage{MemoryBytes: 4096})
	waitDone(t, h)

	assert.True(t, h.Violated())
	v := h.Violation()
	require.NotNil(t, v)
	assert.Equal(t, Memory, v.Resource)
	assert.Equal(t, int64(4096), v.Observed)
	assert.Equal(t, int64(1024), v.Limit)
	assert.Equal(t, "s1", v.SessionID)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, Memory, got[0].Resource)
}

func TestStartMonitoring_DetectedWithinOneInterval(t *testing.T) {
	probe := &fakeProbe{}
	interval := 20 * time.Millisecond
	l := New(interval)
	h := l.StartMonitoring("s1", testLimits, probe, nil)
	defer l.StopMonitoring(h)

	time.Sleep(interval / 2)
	probe.set(Usage{CPUTime: 2 * time.Second})
	start := time.Now()
	waitDone(t, h)

	assert.Less(t, time.Since(start), 10*interval)
	require.NotNil(t, h.Violation())
	assert.Equal(t, CPU, h.Violation().Resource)
}

func TestCheck_ReportsViolationSynchronously(t *testing.T) {
	probe := &fakeProbe{}
	l := New(time.Hour)
	h := l.StartMonitoring("s1", testLimits, probe, nil)
	defer l.StopMonitoring(h)

	require.Nil(t, h.Check())

	probe.set(Usage{FileDescriptors: 9})
	v := h.Check()
	require.NotNil(t, v)
	assert.Equal(t, FileDescriptors, v.Resource)
	waitDone(t, h)

	// the loop has exited, Check keeps returning the recorded violation
	again := h.Check()
	require.NotNil(t, again)
	assert.Equal(t, FileDescriptors, again.Resource)
}

func TestStopMonitoring_Idempotent(t *testing.T) {
	probe := &fakeProbe{}
	l := New(time.Millisecond)
	h := l.StartMonitoring("s1", testLimits, probe, nil)

	assert.NotPanics(t, func() {
		l.StopMonitoring(h)
		l.StopMonitoring(h)
		h.Stop()
		l.StopMonitoring(nil)
	})
	waitDone(t, h)
	assert.False(t, h.Violated())
}

func TestStopMonitoring_AfterViolation(t *testing.T) {
	probe := &fakeProbe{usage: Usage{MemoryBytes: 1 << 20}}
	l := New(time.Millisecond)
	h := l.StartMonitoring("s1", testLimits, probe, nil)
	waitDone(t, h)

	assert.NotPanics(t, func() {
		l.StopMonitoring(h)
		l.StopMonitoring(h)
	})
	assert.True(t, h.Violated())
}

func TestSampleError_IsNotAViolation(t *testing.T) {
	probe := &fakeProbe{err: errors.New("procfs unavailable")}
	l := New(time.Hour)
	h := l.StartMonitoring("s1", testLimits, probe, nil)
	defer l.StopMonitoring(h)

	assert.Nil(t, h.Check())
	assert.False(t, h.Violated())
	assert.Equal(t, Usage{}, h.Usage())
}

func TestExceeded_ZeroLimitIsUnlimited(t *testing.T) {
	huge := Usage{MemoryBytes: 1 << 40, CPUTime: time.Hour, FileDescriptors: 1 << 20}
	assert.Nil(t, exceeded(policy.ResourceLimits{}, huge))

	atLimit := Usage{MemoryBytes: 1024, CPUTime: time.Second, FileDescriptors: 4}
	assert.Nil(t, exceeded(testLimits, atLimit))
}

func TestViolation_Detail(t *testing.T) {
	tests := []struct {
		v    Violation
		want string
	}{
		{Violation{Resource: Memory, Observed: 2048, Limit: 1024}, "memory 2048 bytes exceeds limit 1024 bytes"},
		{Violation{Resource: CPU, Observed: int64(2 * time.Second), Limit: int64(time.Second)}, "cpu time 2s exceeds limit 1s"},
		{Violation{Resource: FileDescriptors, Observed: 9, Limit: 4}, "file_descriptors 9 exceeds limit 4"},
	}
	for _, tt := range tests {
		t.Run(string(tt.v.Resource), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.Detail())
		})
	}
}

func TestNew_DefaultInterval(t *testing.T) {
	assert.Equal(t, DefaultInterval, New(0).Interval())
	assert.Equal(t, time.Second, New(time.Second).Interval())
}

var sink [][]byte

func TestRuntimeProbe_MeasuresHeapGrowth(t *testing.T) {
	p := NewRuntimeProbe()

	done := make(chan Usage)
	go func() {
		runtime.LockOSThread()
		p.Begin()
		sink = append(sink, make([]byte, 32<<20))
		u, err := p.Sample()
		assert.NoError(t, err)
		p.Finish()
		done <- u
	}()
	u := <-done
	sink = nil

	assert.GreaterOrEqual(t, u.MemoryBytes, int64(16<<20))
	assert.GreaterOrEqual(t, u.CPUTime, time.Duration(0))

	// between calls the last sample is held
	between, err := p.Sample()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, between.MemoryBytes, int64(16<<20))
}

func TestRuntimeProbe_AccumulatesCPU(t *testing.T) {
	if !ProcfsAvailable() {
		t.Skip("procfs not available")
	}
	p := NewRuntimeProbe()

	call := func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			runtime.LockOSThread()
			p.Begin()
			deadline := time.Now().Add(50 * time.Millisecond)
			for time.Now().Before(deadline) {
			}
			p.Finish()
		}()
		<-done
	}

	call()
	first, err := p.Sample()
	require.NoError(t, err)
	call()
	second, err := p.Sample()
	require.NoError(t, err)

	assert.Greater(t, first.CPUTime, time.Duration(0))
	assert.Greater(t, second.CPUTime, first.CPUTime)
}
