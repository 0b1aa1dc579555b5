package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/adfspeaker/internal/app/button"
	"github.com/osa030/adfspeaker/internal/app/media"
	"github.com/osa030/adfspeaker/internal/app/notification"
	"github.com/osa030/adfspeaker/internal/app/speaker"
)

const testToken = "test-admin-token"

type fakePlayer struct {
	mu      sync.Mutex
	urls    []string
	playErr error
	stops   int
	paused  bool
	volume  int
}

func (f *fakePlayer) PlayURL(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.urls = append(f.urls, url)
	return nil
}

func (f *fakePlayer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakePlayer) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.urls) == 0 {
		return media.ErrNotPlaying
	}
	f.paused = true
	return nil
}

func (f *fakePlayer) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
	return nil
}

func (f *fakePlayer) VolumeUp() int   { return f.add(10) }
func (f *fakePlayer) VolumeDown() int { return f.add(-10) }

func (f *fakePlayer) add(d int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume += d
	return f.volume
}

func (f *fakePlayer) SetVolume(v int) error {
	if v < 0 || v > 100 {
		return media.ErrInvalidVolume
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = v
	return nil
}

func (f *fakePlayer) Volume() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume
}

type fakeButtons struct {
	mu      sync.Mutex
	pressed []button.ID
}

func (f *fakeButtons) Handle(id button.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pressed = append(f.pressed, id)
	return len(f.pressed) == 1, nil
}

type testEnv struct {
	client  *SpeakerServiceClient
	player  *fakePlayer
	buttons *fakeButtons
	notif   *notification.Manager
	svc     *SpeakerService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		player:  &fakePlayer{volume: 50},
		buttons: &fakeButtons{},
		notif:   notification.NewManager(),
	}
	env.svc = NewSpeakerService(env.player, env.buttons, env.notif)

	mux := http.NewServeMux()
	path, handler := NewSpeakerServiceHandler(env.svc, connect.WithInterceptors(NewAdminAuthInterceptor(testToken)))
	mux.Handle(path, handler)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		env.svc.Close()
		server.Close()
		env.notif.Close()
	})

	env.client = NewSpeakerServiceClient(server.Client(), server.URL, WithAdminToken(testToken))
	return env
}

func TestAuth_RejectsMissingOrWrongToken(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(func() http.Handler {
		_, h := NewSpeakerServiceHandler(env.svc, connect.WithInterceptors(NewAdminAuthInterceptor(testToken)))
		return h
	}())
	defer server.Close()

	for name, opts := range map[string][]connect.ClientOption{
		"missing": nil,
		"wrong":   {WithAdminToken("nope")},
	} {
		t.Run(name, func(t *testing.T) {
			client := NewSpeakerServiceClient(server.Client(), server.URL, opts...)
			_, err := client.GetStatus(context.Background())
			require.Error(t, err)
			assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
		})
	}
}

func TestService_GetStatus(t *testing.T) {
	env := newTestEnv(t)
	env.notif.UpdateSpeaker(speaker.Status{State: speaker.StateRunning, Buffered: 3})
	env.notif.UpdateMedia(media.Status{URL: "http://radio", Playing: true, Volume: 50})

	st, err := env.client.GetStatus(context.Background())
	require.NoError(t, err)

	m := st.AsMap()
	assert.Equal(t, float64(2), m["sequence_no"])
	spk := m["speaker"].(map[string]any)
	assert.Equal(t, "running", spk["state"])
	assert.Equal(t, float64(3), spk["buffered"])
	med := m["media"].(map[string]any)
	assert.Equal(t, "http://radio", med["url"])
	assert.Equal(t, true, med["playing"])
}

func TestService_PlayURL(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.client.PlayURL(context.Background(), "http://radio/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://radio/a.mp3"}, env.player.urls)

	_, err = env.client.PlayURL(context.Background(), "")
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	env.player.playErr = errors.Wrap(media.ErrBusy, "busy")
	_, err = env.client.PlayURL(context.Background(), "http://radio/b.mp3")
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
}

func TestService_Transport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.client.Pause(ctx)
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	_, err = env.client.PlayURL(ctx, "x")
	require.NoError(t, err)
	_, err = env.client.Pause(ctx)
	require.NoError(t, err)
	assert.True(t, env.player.paused)
	_, err = env.client.Resume(ctx)
	require.NoError(t, err)
	assert.False(t, env.player.paused)
	_, err = env.client.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, env.player.stops)
}

func TestService_Volume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v, err := env.client.VolumeUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, v)

	v, err = env.client.VolumeDown(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, v)

	v, err = env.client.SetVolume(ctx, 25)
	require.NoError(t, err)
	assert.Equal(t, 25, v)

	_, err = env.client.SetVolume(ctx, 250)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestService_PressButton(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ok, err := env.client.PressButton(ctx, "mode")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.client.PressButton(ctx, "mode")
	require.NoError(t, err)
	assert.False(t, ok, "second press debounced")
	assert.Equal(t, []button.ID{button.Mode, button.Mode}, env.buttons.pressed)

	_, err = env.client.PressButton(ctx, "power")
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestService_Watch(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := env.client.Watch(ctx)
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Receive(), "initial snapshot: %v", stream.Err())
	assert.Equal(t, "snapshot", stream.Msg().AsMap()["kind"])

	require.Eventually(t, func() bool {
		return env.notif.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	env.notif.UpdateMedia(media.Status{Volume: 70})
	require.True(t, stream.Receive(), "update: %v", stream.Err())
	m := stream.Msg().AsMap()
	assert.Equal(t, "media", m["kind"])
	assert.Equal(t, float64(70), m["media"].(map[string]any)["volume"])
}
