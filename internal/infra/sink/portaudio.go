package sink

// PortAudioConfig configures the PortAudio output.
type PortAudioConfig struct {
	FramesPerBuffer int `mapstructure:"frames_per_buffer" default:"1024" validate:"gte=64,lte=16384"`
}

// NewPortAudio creates a sink playing through the default PortAudio device.
func NewPortAudio(settings map[string]any) (Sink, error) {
	var cfg PortAudioConfig
	if err := decodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	return newPortAudio(cfg)
}
