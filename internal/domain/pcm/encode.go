package pcm

import "encoding/binary"

// EncodeInt16LE converts samples to 16-bit little-endian PCM after scaling by
// gain, clamping to the int16 range. dst is grown as needed and returned.
func EncodeInt16LE(dst []byte, samples []float32, gain float32) []byte {
	need := len(samples) * 2
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]

	const maxInt16 float32 = 32767
	for i, s := range samples {
		x := s * gain
		if x > 1 {
			x = 1
		} else if x < -1 {
			x = -1
		}
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(x*maxInt16)))
	}
	return dst
}

// DecodeInt16LE converts 16-bit little-endian PCM to float32 samples.
func DecodeInt16LE(dst []float32, src []byte) []float32 {
	n := len(src) / 2
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range n {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(src[i*2:]))) / 32768
	}
	return dst
}
