package connect

import (
	"context"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// SpeakerServiceClient calls the speaker control API.
type SpeakerServiceClient struct {
	getStatus   *connect.Client[emptypb.Empty, structpb.Struct]
	playURL     *connect.Client[wrapperspb.StringValue, structpb.Struct]
	stop        *connect.Client[emptypb.Empty, structpb.Struct]
	pause       *connect.Client[emptypb.Empty, structpb.Struct]
	resume      *connect.Client[emptypb.Empty, structpb.Struct]
	volumeUp    *connect.Client[emptypb.Empty, wrapperspb.Int32Value]
	volumeDown  *connect.Client[emptypb.Empty, wrapperspb.Int32Value]
	setVolume   *connect.Client[wrapperspb.Int32Value, wrapperspb.Int32Value]
	pressButton *connect.Client[wrapperspb.StringValue, wrapperspb.BoolValue]
	watch       *connect.Client[emptypb.Empty, structpb.Struct]
}

// NewSpeakerServiceClient creates a client for the service at baseURL, for
// example http://localhost:8080.
func NewSpeakerServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *SpeakerServiceClient {
	return &SpeakerServiceClient{
		getStatus:   connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+GetStatusProcedure, opts...),
		playURL:     connect.NewClient[wrapperspb.StringValue, structpb.Struct](httpClient, baseURL+PlayURLProcedure, opts...),
		stop:        connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+StopProcedure, opts...),
		pause:       connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+PauseProcedure, opts...),
		resume:      connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+ResumeProcedure, opts...),
		volumeUp:    connect.NewClient[emptypb.Empty, wrapperspb.Int32Value](httpClient, baseURL+VolumeUpProcedure, opts...),
		volumeDown:  connect.NewClient[emptypb.Empty, wrapperspb.Int32Value](httpClient, baseURL+VolumeDownProcedure, opts...),
		setVolume:   connect.NewClient[wrapperspb.Int32Value, wrapperspb.Int32Value](httpClient, baseURL+SetVolumeProcedure, opts...),
		pressButton: connect.NewClient[wrapperspb.StringValue, wrapperspb.BoolValue](httpClient, baseURL+PressButtonProcedure, opts...),
		watch:       connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+WatchProcedure, opts...),
	}
}

// GetStatus fetches the current status.
func (c *SpeakerServiceClient) GetStatus(ctx context.Context) (*structpb.Struct, error) {
	return unary(ctx, c.getStatus, &emptypb.Empty{})
}

// PlayURL starts streaming url.
func (c *SpeakerServiceClient) PlayURL(ctx context.Context, url string) (*structpb.Struct, error) {
	return unary(ctx, c.playURL, wrapperspb.String(url))
}

// Stop stops playback.
func (c *SpeakerServiceClient) Stop(ctx context.Context) (*structpb.Struct, error) {
	return unary(ctx, c.stop, &emptypb.Empty{})
}

// Pause pauses playback.
func (c *SpeakerServiceClient) Pause(ctx context.Context) (*structpb.Struct, error) {
	return unary(ctx, c.pause, &emptypb.Empty{})
}

// Resume resumes playback.
func (c *SpeakerServiceClient) Resume(ctx context.Context) (*structpb.Struct, error) {
	return unary(ctx, c.resume, &emptypb.Empty{})
}

// VolumeUp raises the volume and returns the new value.
func (c *SpeakerServiceClient) VolumeUp(ctx context.Context) (int, error) {
	v, err := unary(ctx, c.volumeUp, &emptypb.Empty{})
	return int(v.GetValue()), err
}

// VolumeDown lowers the volume and returns the new value.
func (c *SpeakerServiceClient) VolumeDown(ctx context.Context) (int, error) {
	v, err := unary(ctx, c.volumeDown, &emptypb.Empty{})
	return int(v.GetValue()), err
}

// SetVolume sets the volume and returns the new value.
func (c *SpeakerServiceClient) SetVolume(ctx context.Context, volume int) (int, error) {
	v, err := unary(ctx, c.setVolume, wrapperspb.Int32(int32(volume)))
	return int(v.GetValue()), err
}

// PressButton presses a button by name and reports whether it was accepted.
func (c *SpeakerServiceClient) PressButton(ctx context.Context, name string) (bool, error) {
	v, err := unary(ctx, c.pressButton, wrapperspb.String(name))
	return v.GetValue(), err
}

// Watch opens the status stream.
func (c *SpeakerServiceClient) Watch(ctx context.Context) (*connect.ServerStreamForClient[structpb.Struct], error) {
	return c.watch.CallServerStream(ctx, connect.NewRequest(&emptypb.Empty{}))
}

func unary[Req, Res any](ctx context.Context, client *connect.Client[Req, Res], msg *Req) (*Res, error) {
	resp, err := client.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
