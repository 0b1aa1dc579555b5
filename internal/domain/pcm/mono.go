package pcm

// MonoMixer averages all channels of src into one.
type MonoMixer struct {
	src Source
	buf []float32
}

// NewMonoMixer wraps src. A mono src is passed through unchanged.
func NewMonoMixer(src Source) *MonoMixer {
	return &MonoMixer{src: src}
}

func (m *MonoMixer) SampleRate() int { return m.src.SampleRate() }
func (m *MonoMixer) Channels() int   { return 1 }
func (m *MonoMixer) Close() error    { return m.src.Close() }

func (m *MonoMixer) ReadSamples(dst []float32) (int, error) {
	channels := m.src.Channels()
	if channels == 1 {
		return m.src.ReadSamples(dst)
	}

	need := len(dst) * channels
	if cap(m.buf) < need {
		m.buf = make([]float32, need)
	}
	m.buf = m.buf[:need]

	n, err := m.src.ReadSamples(m.buf)
	frames := n / channels
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += m.buf[i*channels+c]
		}
		dst[i] = sum / float32(channels)
	}
	return frames, err
}
