package notification

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/adfspeaker/internal/app/media"
	"github.com/osa030/adfspeaker/internal/app/speaker"
)

type recordingStream struct {
	mu    sync.Mutex
	got   []*Notification
	err   error
	block chan struct{}
}

func (r *recordingStream) Send(n *Notification) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingStream) received() []*Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Notification(nil), r.got...)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager()
	t.Cleanup(m.Close)
	return m
}

func waitFor(t *testing.T, s *recordingStream, n int) []*Notification {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.received()) >= n }, time.Second, time.Millisecond)
	return s.received()
}

func TestManager_BroadcastsCombinedStatus(t *testing.T) {
	m := newTestManager(t)
	a, b := &recordingStream{}, &recordingStream{}
	m.Subscribe(a)
	m.Subscribe(b)
	assert.Equal(t, 2, m.SubscriberCount())

	m.UpdateSpeaker(speaker.Status{State: speaker.StateRunning})
	m.UpdateMedia(media.Status{URL: "http://radio", Playing: true, Volume: 40})

	for _, s := range []*recordingStream{a, b} {
		got := waitFor(t, s, 2)
		require.Len(t, got, 2)
		assert.Equal(t, uint64(1), got[0].SequenceNo)
		assert.Equal(t, KindSpeaker, got[0].Kind)
		assert.Equal(t, uint64(2), got[1].SequenceNo)
		assert.Equal(t, KindMedia, got[1].Kind)
		assert.Equal(t, speaker.StateRunning, got[1].Speaker.State, "snapshot carries earlier speaker status")
		assert.Equal(t, 40, got[1].Media.Volume)
	}

	snap := m.Snapshot()
	assert.Equal(t, KindSnapshot, snap.Kind)
	assert.Equal(t, uint64(2), snap.SequenceNo)
	assert.Equal(t, "http://radio", snap.Media.URL)
}

func TestManager_UpdateRecordsImmediately(t *testing.T) {
	m := newTestManager(t)
	m.UpdateMedia(media.Status{Volume: 30})
	assert.Equal(t, 30, m.Snapshot().Media.Volume)
}

func TestManager_Unsubscribe(t *testing.T) {
	m := newTestManager(t)
	s := &recordingStream{}
	id := m.Subscribe(s)
	m.Unsubscribe(id)

	m.Broadcast(&Notification{SequenceNo: 1})
	assert.Empty(t, s.received())
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestManager_DropsFailingSubscriber(t *testing.T) {
	m := newTestManager(t)
	m.Subscribe(&recordingStream{err: errors.New("stream closed")})
	healthy := &recordingStream{}
	m.Subscribe(healthy)

	m.Broadcast(&Notification{SequenceNo: 1})
	assert.Equal(t, 1, m.SubscriberCount())
	assert.Len(t, healthy.received(), 1)
}

func TestManager_SlowSubscriberDoesNotBlock(t *testing.T) {
	m := newTestManager(t)
	m.sendTimeout = 20 * time.Millisecond
	slow := &recordingStream{block: make(chan struct{})}
	defer close(slow.block)
	m.Subscribe(slow)

	start := time.Now()
	m.Broadcast(&Notification{SequenceNo: 1})
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, m.SubscriberCount(), "timeouts keep the subscription")
}

func TestManager_Close(t *testing.T) {
	m := NewManager()
	m.Subscribe(&recordingStream{})
	m.Close()
	m.Close()
	assert.Equal(t, 0, m.SubscriberCount())
}
