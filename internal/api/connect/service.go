package connect

import (
	"context"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/osa030/adfspeaker/internal/app/button"
	"github.com/osa030/adfspeaker/internal/app/media"
	"github.com/osa030/adfspeaker/internal/app/notification"
	"github.com/osa030/adfspeaker/internal/app/speaker"
)

// ServiceName is the fully-qualified name of the control service.
const ServiceName = "speaker.v1.SpeakerService"

// Procedure paths.
const (
	GetStatusProcedure   = "/" + ServiceName + "/GetStatus"
	PlayURLProcedure     = "/" + ServiceName + "/PlayURL"
	StopProcedure        = "/" + ServiceName + "/Stop"
	PauseProcedure       = "/" + ServiceName + "/Pause"
	ResumeProcedure      = "/" + ServiceName + "/Resume"
	VolumeUpProcedure    = "/" + ServiceName + "/VolumeUp"
	VolumeDownProcedure  = "/" + ServiceName + "/VolumeDown"
	SetVolumeProcedure   = "/" + ServiceName + "/SetVolume"
	PressButtonProcedure = "/" + ServiceName + "/PressButton"
	WatchProcedure       = "/" + ServiceName + "/Watch"
)

// Player is the media player driven by the API.
type Player interface {
	PlayURL(url string) error
	Stop()
	Pause() error
	Resume() error
	VolumeUp() int
	VolumeDown() int
	SetVolume(v int) error
	Volume() int
}

// Buttons dispatches simulated button presses.
type Buttons interface {
	Handle(id button.ID) (bool, error)
}

// Notifier provides status snapshots and change notifications.
type Notifier interface {
	Snapshot() *notification.Notification
	Subscribe(stream notification.Stream) string
	Unsubscribe(subscriptionID string)
}

// SpeakerService implements the speaker control RPCs.
type SpeakerService struct {
	player   Player
	buttons  Buttons
	notifier Notifier

	done      chan struct{}
	closeOnce sync.Once
}

// NewSpeakerService creates a new SpeakerService.
func NewSpeakerService(player Player, buttons Buttons, notifier Notifier) *SpeakerService {
	return &SpeakerService{
		player:   player,
		buttons:  buttons,
		notifier: notifier,
		done:     make(chan struct{}),
	}
}

// Close ends all open Watch streams.
func (s *SpeakerService) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// GetStatus returns the current speaker and media status.
func (s *SpeakerService) GetStatus(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.statusResponse()
}

// PlayURL starts streaming a URL.
func (s *SpeakerService) PlayURL(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	url := req.Msg.GetValue()
	if url == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("url is required"))
	}
	if err := s.player.PlayURL(url); err != nil {
		return nil, toConnectError(err)
	}
	return s.statusResponse()
}

// Stop stops playback.
func (s *SpeakerService) Stop(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	s.player.Stop()
	return s.statusResponse()
}

// Pause pauses playback.
func (s *SpeakerService) Pause(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	if err := s.player.Pause(); err != nil {
		return nil, toConnectError(err)
	}
	return s.statusResponse()
}

// Resume resumes paused playback.
func (s *SpeakerService) Resume(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	if err := s.player.Resume(); err != nil {
		return nil, toConnectError(err)
	}
	return s.statusResponse()
}

// VolumeUp raises the volume by one step.
func (s *SpeakerService) VolumeUp(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[wrapperspb.Int32Value], error) {
	return connect.NewResponse(wrapperspb.Int32(int32(s.player.VolumeUp()))), nil
}

// VolumeDown lowers the volume by one step.
func (s *SpeakerService) VolumeDown(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[wrapperspb.Int32Value], error) {
	return connect.NewResponse(wrapperspb.Int32(int32(s.player.VolumeDown()))), nil
}

// SetVolume sets the volume in percent.
func (s *SpeakerService) SetVolume(
	ctx context.Context,
	req *connect.Request[wrapperspb.Int32Value],
) (*connect.Response[wrapperspb.Int32Value], error) {
	if err := s.player.SetVolume(int(req.Msg.GetValue())); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(wrapperspb.Int32(int32(s.player.Volume()))), nil
}

// PressButton simulates a front-panel button press and reports whether it
// passed the debounce window.
func (s *SpeakerService) PressButton(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[wrapperspb.BoolValue], error) {
	id, err := button.ParseID(req.Msg.GetValue())
	if err != nil {
		return nil, toConnectError(err)
	}
	accepted, err := s.buttons.Handle(id)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(wrapperspb.Bool(accepted)), nil
}

// Watch streams a status snapshot on every change, starting with the current one.
func (s *SpeakerService) Watch(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[structpb.Struct],
) error {
	adapter := &notificationStreamAdapter{stream: stream}
	if err := adapter.Send(s.notifier.Snapshot()); err != nil {
		return err
	}

	subscriptionID := s.notifier.Subscribe(adapter)
	defer s.notifier.Unsubscribe(subscriptionID)

	// Wait for client disconnect or shutdown
	select {
	case <-ctx.Done():
	case <-s.done:
	}
	return nil
}

func (s *SpeakerService) statusResponse() (*connect.Response[structpb.Struct], error) {
	msg, err := StatusStruct(s.notifier.Snapshot())
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
type notificationStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[structpb.Struct]
}

func (a *notificationStreamAdapter) Send(n *notification.Notification) error {
	msg, err := StatusStruct(n)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream.Send(msg)
}

// StatusStruct renders a notification as a protobuf Struct.
func StatusStruct(n *notification.Notification) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(map[string]any{
		"sequence_no": n.SequenceNo,
		"kind":        string(n.Kind),
		"time":        n.Time.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		"speaker":     speakerFields(n.Speaker),
		"media":       mediaFields(n.Media),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode status")
	}
	return st, nil
}

func speakerFields(st speaker.Status) map[string]any {
	return map[string]any{
		"state":        st.State.String(),
		"failed":       st.Failed,
		"warning":      st.Warning,
		"last_warning": st.LastWarning,
		"buffered":     st.Buffered,
		"session":      st.Session,
	}
}

func mediaFields(st media.Status) map[string]any {
	return map[string]any{
		"url":        st.URL,
		"playing":    st.Playing,
		"paused":     st.Paused,
		"volume":     st.Volume,
		"last_error": st.LastError,
	}
}

// toConnectError maps application errors to RPC codes.
func toConnectError(err error) error {
	code := connect.CodeInternal
	switch {
	case errors.Is(err, media.ErrBusy), errors.Is(err, media.ErrNotPlaying), errors.Is(err, media.ErrNoDefaultURL):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, media.ErrInvalidVolume), errors.Is(err, button.ErrUnknownButton):
		code = connect.CodeInvalidArgument
	}
	zlog.Debug().Msgf("api: request failed: code=%s err=%v", code, err)
	return connect.NewError(code, err)
}

// NewSpeakerServiceHandler builds an HTTP handler that serves every procedure
// of the service. Options apply to all procedures.
func NewSpeakerServiceHandler(svc *SpeakerService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, svc.GetStatus, opts...))
	mux.Handle(PlayURLProcedure, connect.NewUnaryHandler(PlayURLProcedure, svc.PlayURL, opts...))
	mux.Handle(StopProcedure, connect.NewUnaryHandler(StopProcedure, svc.Stop, opts...))
	mux.Handle(PauseProcedure, connect.NewUnaryHandler(PauseProcedure, svc.Pause, opts...))
	mux.Handle(ResumeProcedure, connect.NewUnaryHandler(ResumeProcedure, svc.Resume, opts...))
	mux.Handle(VolumeUpProcedure, connect.NewUnaryHandler(VolumeUpProcedure, svc.VolumeUp, opts...))
	mux.Handle(VolumeDownProcedure, connect.NewUnaryHandler(VolumeDownProcedure, svc.VolumeDown, opts...))
	mux.Handle(SetVolumeProcedure, connect.NewUnaryHandler(SetVolumeProcedure, svc.SetVolume, opts...))
	mux.Handle(PressButtonProcedure, connect.NewUnaryHandler(PressButtonProcedure, svc.PressButton, opts...))
	mux.Handle(WatchProcedure, connect.NewServerStreamHandler(WatchProcedure, svc.Watch, opts...))
	return "/" + ServiceName + "/", mux
}
