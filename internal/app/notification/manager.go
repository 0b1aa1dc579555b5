// Package notification provides the notification manager for broadcasting
// speaker and media status.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/adfspeaker/internal/app/media"
	"github.com/osa030/adfspeaker/internal/app/speaker"
)

// Kind tells which part of the snapshot changed.
type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindSpeaker  Kind = "speaker"
	KindMedia    Kind = "media"
)

// Notification is a full status snapshot.
type Notification struct {
	SequenceNo uint64
	Kind       Kind
	Time       time.Time
	Speaker    speaker.Status
	Media      media.Status
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription

	stateMu    sync.Mutex
	sequenceNo uint64
	speaker    speaker.Status
	media      media.Status

	sendTimeout time.Duration
	queue       chan *Notification
	done        chan struct{}
	closeOnce   sync.Once
}

// NewManager creates a new notification manager. Updates are broadcast in
// order by a dispatcher goroutine that runs until Close.
func NewManager() *Manager {
	m := &Manager{
		subscriptions: make(map[string]*subscription),
		sendTimeout:   500 * time.Millisecond,
		queue:         make(chan *Notification, 64),
		done:          make(chan struct{}),
	}
	go m.dispatch()
	return m
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:     id,
		stream: stream,
	}
	zlog.Debug().Msgf("notification: subscribed id=%s", id)
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
	zlog.Debug().Msgf("notification: unsubscribed id=%s", subscriptionID)
}

// Snapshot returns the latest combined status without broadcasting it.
func (m *Manager) Snapshot() *Notification {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return &Notification{
		SequenceNo: m.sequenceNo,
		Kind:       KindSnapshot,
		Time:       time.Now(),
		Speaker:    m.speaker,
		Media:      m.media,
	}
}

// UpdateSpeaker records a speaker status change and queues it for broadcast.
// It never blocks.
func (m *Manager) UpdateSpeaker(st speaker.Status) {
	m.stateMu.Lock()
	m.speaker = st
	m.enqueueLocked(KindSpeaker)
	m.stateMu.Unlock()
}

// UpdateMedia records a media status change and queues it for broadcast.
// It never blocks.
func (m *Manager) UpdateMedia(st media.Status) {
	m.stateMu.Lock()
	m.media = st
	m.enqueueLocked(KindMedia)
	m.stateMu.Unlock()
}

// enqueueLocked must hold stateMu so queue order matches sequence order.
func (m *Manager) enqueueLocked(kind Kind) {
	m.sequenceNo++
	n := &Notification{
		SequenceNo: m.sequenceNo,
		Kind:       kind,
		Time:       time.Now(),
		Speaker:    m.speaker,
		Media:      m.media,
	}
	select {
	case m.queue <- n:
	default:
		zlog.Warn().Msgf("notification: queue full, dropping seq=%d kind=%s", n.SequenceNo, kind)
	}
}

func (m *Manager) dispatch() {
	for {
		select {
		case <-m.done:
			return
		case n := <-m.queue:
			m.Broadcast(n)
		}
	}
}

// Broadcast sends a notification to all subscribers.
// Each stream send is done in a goroutine with a timeout to prevent blocking.
func (m *Manager) Broadcast(notification *Notification) {
	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(notification)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Msgf("notification: send failed, dropping subscriber id=%s: %v", s.id, err)
					m.Unsubscribe(s.id)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notification: send timed out id=%s seq=%d", s.id, notification.SequenceNo)
			}
		}(sub)
	}

	// Wait for all sends to complete or timeout
	wg.Wait()
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close stops the dispatcher and removes all subscriptions.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
