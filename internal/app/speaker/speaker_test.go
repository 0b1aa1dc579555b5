package speaker

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/adfspeaker/internal/domain/pcm"
)

var errWrite = errors.New("i2s write failed")

// fakeSink records everything written to it.
type fakeSink struct {
	mu          sync.Mutex
	initErr     error
	initGate    chan struct{} // Init waits on it when set
	writeGate   chan struct{} // Write waits on it when set
	maxWrite    int           // Accept at most this many bytes per Write when > 0
	failWrites  int           // Fail this many writes before succeeding
	stallWrites int           // Accept nothing without an error this many times
	writes      [][]byte
	inits       int
	deinits     int

	active    *atomic.Int32 // Shared across sinks in contention tests
	maxActive *atomic.Int32
}

func (f *fakeSink) Init(format pcm.Format) error {
	if f.initGate != nil {
		<-f.initGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inits++
	if f.initErr != nil {
		return f.initErr
	}
	if f.active != nil {
		n := f.active.Add(1)
		for {
			m := f.maxActive.Load()
			if n <= m || f.maxActive.CompareAndSwap(m, n) {
				break
			}
		}
	}
	return nil
}

func (f *fakeSink) Write(p []byte) (int, error) {
	if f.writeGate != nil {
		<-f.writeGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWrites > 0 {
		f.failWrites--
		return 0, errWrite
	}
	if f.stallWrites > 0 {
		f.stallWrites--
		return 0, nil
	}
	n := len(p)
	if f.maxWrite > 0 && n > f.maxWrite {
		n = f.maxWrite
	}
	f.writes = append(f.writes, bytes.Clone(p[:n]))
	return n, nil
}

func (f *fakeSink) Deinit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deinits++
	if f.active != nil {
		f.active.Add(-1)
	}
	return nil
}

func (f *fakeSink) data() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return bytes.Join(f.writes, nil)
}

func (f *fakeSink) writeSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.writes))
	for i, w := range f.writes {
		sizes[i] = len(w)
	}
	return sizes
}

func (f *fakeSink) counts() (inits, deinits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits, f.deinits
}

// fakeEnable records output enable transitions.
type fakeEnable struct {
	mu     sync.Mutex
	levels []bool
}

func (e *fakeEnable) SetEnabled(enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.levels = append(e.levels, enabled)
	return nil
}

func (e *fakeEnable) history() []bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]bool(nil), e.levels...)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.IdleTimeout = 50 * time.Millisecond
	opts.StartTimeout = 0
	opts.WriteRetryDelay = time.Millisecond
	return opts
}

func newTestSpeaker(t *testing.T, lock Lock, sink Sink, opts Options) *Speaker {
	t.Helper()
	s := New(lock, sink, nil, opts)
	require.NoError(t, s.Setup())
	t.Cleanup(func() { s.Close(time.Second) })
	return s
}

// loopUntil ticks s until cond holds.
func loopUntil(t *testing.T, s *Speaker, cond func(Status) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.Loop()
		return cond(s.Status())
	}, 2*time.Second, time.Millisecond)
}

func inState(state State) func(Status) bool {
	return func(st Status) bool { return st.State == state }
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestSpeaker_PlayFromStoppedStarts(t *testing.T) {
	sink := &fakeSink{}
	s := newTestSpeaker(t, &sync.Mutex{}, sink, testOptions())
	require.Equal(t, StateStopped, s.State())

	n := s.Play(pattern(100))

	assert.Equal(t, 100, n)
	assert.Equal(t, StateStarting, s.State(), "play moves to STARTING within the call")
	assert.True(t, s.HasBufferedData())
	inits, _ := sink.counts()
	assert.Zero(t, inits, "consumer is only spawned by Loop")
}

func TestSpeaker_StartIsNoopUnlessStopped(t *testing.T) {
	s := newTestSpeaker(t, &sync.Mutex{}, &fakeSink{}, testOptions())

	s.Start()
	assert.Equal(t, StateStarting, s.State())
	s.Start()
	assert.Equal(t, StateStarting, s.State())
}

func TestSpeaker_DeliversAllBytesInOrder(t *testing.T) {
	sink := &fakeSink{maxWrite: 300}
	s := newTestSpeaker(t, &sync.Mutex{}, sink, testOptions())

	input := pattern(20 * MaxFrameBytes)
	require.Equal(t, len(input), s.Play(input))

	require.Eventually(t, func() bool {
		s.Loop()
		return len(sink.data()) == len(input)
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, input, sink.data())
	loopUntil(t, s, inState(StateStopped))
}

func TestSpeaker_BackpressureShortCount(t *testing.T) {
	sink := &fakeSink{}
	opts := testOptions()
	opts.QueueCapacity = 2
	s := newTestSpeaker(t, &sync.Mutex{}, sink, opts)

	input := pattern(2500)
	n := s.Play(input)
	require.Equal(t, 2048, n, "queue holds two frames")

	// The caller resubmits the remainder once the consumer has made room.
	rest := input[n:]
	require.Eventually(t, func() bool {
		s.Loop()
		if len(rest) > 0 {
			rest = rest[s.Play(rest):]
		}
		return len(sink.data()) == len(input)
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, input, sink.data())
	assert.Equal(t, []int{1024, 1024, 452}, sink.writeSizes())
}

func TestSpeaker_StopWhileStartingIsSynchronous(t *testing.T) {
	lock := &sync.Mutex{}
	lock.Lock() // Held by another pipeline, so no task can be spawned.
	sink := &fakeSink{}
	s := newTestSpeaker(t, lock, sink, testOptions())

	s.Play(pattern(3000))
	s.Loop()
	require.Equal(t, StateStarting, s.State())

	s.Stop()

	assert.Equal(t, StateStopped, s.State())
	assert.False(t, s.HasBufferedData())
	inits, _ := sink.counts()
	assert.Zero(t, inits)
	lock.Unlock()
}

func TestSpeaker_StopWhileRunningWithFullQueue(t *testing.T) {
	lock := &sync.Mutex{}
	sink := &fakeSink{writeGate: make(chan struct{})}
	enable := &fakeEnable{}
	opts := testOptions()
	opts.QueueCapacity = 4
	s := New(lock, sink, enable, opts)
	require.NoError(t, s.Setup())
	t.Cleanup(func() { s.Close(time.Second) })

	s.Play(pattern(4 * MaxFrameBytes))
	loopUntil(t, s, inState(StateRunning))

	// Consumer is stuck writing; keep feeding until the queue is full.
	require.Eventually(t, func() bool {
		s.Play(pattern(MaxFrameBytes))
		return s.Status().Buffered == opts.QueueCapacity
	}, time.Second, time.Millisecond)

	s.Stop()
	assert.Equal(t, StateStopping, s.State())

	close(sink.writeGate)
	loopUntil(t, s, inState(StateStopped))

	assert.LessOrEqual(t, len(sink.writeSizes()), 1, "frames behind the sentinel are discarded")
	assert.False(t, s.HasBufferedData())
	assert.Equal(t, []bool{true, false}, enable.history())

	require.True(t, lock.TryLock(), "hardware lock released after STOPPED")
	lock.Unlock()
}

func TestSpeaker_IdleTimeoutStopsSession(t *testing.T) {
	sink := &fakeSink{}
	s := newTestSpeaker(t, &sync.Mutex{}, sink, testOptions())

	s.Play(pattern(10))
	loopUntil(t, s, inState(StateRunning))
	loopUntil(t, s, inState(StateStopped))

	inits, deinits := sink.counts()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, deinits)
	assert.Empty(t, s.Status().Session)
}

func TestSpeaker_ContentionAllowsOneConsumer(t *testing.T) {
	lock := &sync.Mutex{}
	active, maxActive := &atomic.Int32{}, &atomic.Int32{}
	sinkA := &fakeSink{active: active, maxActive: maxActive}
	sinkB := &fakeSink{active: active, maxActive: maxActive}

	optsA, optsB := testOptions(), testOptions()
	optsA.Name, optsB.Name = "a", "b"
	a := newTestSpeaker(t, lock, sinkA, optsA)
	b := newTestSpeaker(t, lock, sinkB, optsB)

	inputA, inputB := pattern(3*MaxFrameBytes), pattern(2*MaxFrameBytes)
	a.Play(inputA)
	a.Loop()
	b.Play(inputB)

	sawContention := false
	require.Eventually(t, func() bool {
		a.Loop()
		b.Loop()
		if a.State() == StateRunning && b.State() == StateStarting {
			sawContention = true
		}
		return len(sinkA.data()) == len(inputA) && len(sinkB.data()) == len(inputB) &&
			a.State() == StateStopped && b.State() == StateStopped
	}, 3*time.Second, time.Millisecond)

	assert.True(t, sawContention, "second speaker waits for the lock")
	assert.Equal(t, int32(1), maxActive.Load(), "exactly one consumer alive at a time")
	assert.Equal(t, inputA, sinkA.data())
	assert.Equal(t, inputB, sinkB.data())
}

func TestSpeaker_WriteFailureRaisesWarningAndRetries(t *testing.T) {
	sink := &fakeSink{failWrites: 3, writeGate: make(chan struct{}, 16)}
	for range 3 {
		sink.writeGate <- struct{}{}
	}
	s := newTestSpeaker(t, &sync.Mutex{}, sink, testOptions())

	input := pattern(MaxFrameBytes + 10)
	s.Play(input)
	loopUntil(t, s, func(st Status) bool { return st.Warning })
	assert.Contains(t, s.Status().LastWarning, "i2s write failed")

	close(sink.writeGate)
	require.Eventually(t, func() bool {
		s.Loop()
		return bytes.Equal(sink.data(), input) && !s.Status().Warning
	}, 2*time.Second, time.Millisecond)
}

func TestSpeaker_ZeroWriteIsRetried(t *testing.T) {
	sink := &fakeSink{stallWrites: 3, writeGate: make(chan struct{}, 16)}
	for range 3 {
		sink.writeGate <- struct{}{}
	}
	s := newTestSpeaker(t, &sync.Mutex{}, sink, testOptions())

	input := pattern(100)
	s.Play(input)
	loopUntil(t, s, func(st Status) bool { return st.Warning })
	assert.Contains(t, s.Status().LastWarning, "short write")

	close(sink.writeGate)
	require.Eventually(t, func() bool {
		s.Loop()
		return bytes.Equal(sink.data(), input) && !s.Status().Warning
	}, 2*time.Second, time.Millisecond)
}

func TestSpeaker_StopEndsStalledWrite(t *testing.T) {
	sink := &fakeSink{stallWrites: 1 << 30}
	s := newTestSpeaker(t, &sync.Mutex{}, sink, testOptions())

	s.Play(pattern(10))
	loopUntil(t, s, inState(StateRunning))
	s.Stop()
	loopUntil(t, s, inState(StateStopped))
	assert.Empty(t, sink.data())
}

func TestSpeaker_SinkInitFailureReleasesLock(t *testing.T) {
	lock := &sync.Mutex{}
	sink := &fakeSink{initErr: errors.New("no i2s driver")}
	s := newTestSpeaker(t, lock, sink, testOptions())

	s.Play(pattern(10))
	loopUntil(t, s, func(st Status) bool { return st.State == StateStopped && st.Warning })

	assert.Contains(t, s.Status().LastWarning, "failed to initialize sink")
	require.True(t, lock.TryLock())
	lock.Unlock()
}

func TestSpeaker_StartTimeoutAbandonsTask(t *testing.T) {
	lock := &sync.Mutex{}
	sink := &fakeSink{initGate: make(chan struct{})}
	opts := testOptions()
	opts.StartTimeout = 30 * time.Millisecond
	s := newTestSpeaker(t, lock, sink, opts)

	s.Play(pattern(10))
	loopUntil(t, s, func(st Status) bool { return st.State == StateStopped && st.Warning })
	assert.Contains(t, s.Status().LastWarning, ErrStartTimeout.Error())
	assert.False(t, s.HasBufferedData())
	assert.False(t, lock.TryLock(), "task stuck in Init still owns the device")

	// Late events from the abandoned task must not revive the session.
	close(sink.initGate)
	require.Eventually(t, func() bool {
		s.Loop()
		if !lock.TryLock() {
			return false
		}
		lock.Unlock()
		return true
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, StateStopped, s.State())

	inits, deinits := sink.counts()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, deinits)
}

// slowFirstInit holds the first Init until gate is closed.
type slowFirstInit struct {
	*fakeSink
	gate  chan struct{}
	calls atomic.Int32
}

func (f *slowFirstInit) Init(format pcm.Format) error {
	if f.calls.Add(1) == 1 {
		<-f.gate
	}
	return f.fakeSink.Init(format)
}

func TestSpeaker_AbandonedTaskNeverSharesSink(t *testing.T) {
	lock := &sync.Mutex{}
	sink := &slowFirstInit{
		fakeSink: &fakeSink{active: &atomic.Int32{}, maxActive: &atomic.Int32{}},
		gate:     make(chan struct{}),
	}
	opts := testOptions()
	opts.StartTimeout = 30 * time.Millisecond
	opts.IdleTimeout = time.Second
	s := newTestSpeaker(t, lock, sink, opts)

	s.Play(pattern(10))
	loopUntil(t, s, func(st Status) bool { return st.State == StateStopped && st.Warning })

	// The next session waits for the stuck task to let go of the device.
	s.Play(pattern(20))
	for range 20 {
		s.Loop()
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, StateStarting, s.State())
	assert.Equal(t, int32(1), sink.calls.Load())

	close(sink.gate)
	loopUntil(t, s, inState(StateRunning))
	require.Eventually(t, func() bool {
		return bytes.Equal(sink.data(), pattern(20))
	}, 2*time.Second, time.Millisecond)

	inits, deinits := sink.counts()
	assert.Equal(t, 2, inits)
	assert.Equal(t, 1, deinits, "stuck task only undid its own Init")
	assert.Equal(t, int32(1), sink.maxActive.Load())
	assert.Equal(t, int32(1), sink.active.Load())
}

func TestSpeaker_FailedSetupRejectsPlay(t *testing.T) {
	opts := testOptions()
	opts.QueueCapacity = 0
	s := New(&sync.Mutex{}, &fakeSink{}, nil, opts)

	err := s.Setup()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSetupFailed))

	assert.Zero(t, s.Play(pattern(10)))
	assert.True(t, s.Status().Failed)
	assert.Equal(t, StateStopped, s.State())
}

func TestSpeaker_StatusListener(t *testing.T) {
	opts := testOptions()
	opts.IdleTimeout = time.Second
	s := newTestSpeaker(t, &sync.Mutex{}, &fakeSink{}, opts)

	var states []State
	s.OnStatusChange(func(st Status) {
		states = append(states, st.State)
	})

	s.Play(pattern(10))
	loopUntil(t, s, inState(StateRunning))
	s.Stop()
	loopUntil(t, s, inState(StateStopped))

	assert.Equal(t, []State{StateStarting, StateRunning, StateStopping, StateStopped}, states)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStopped, "stopped"},
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
