// Package decoder turns compressed audio streams into pcm.Source values.
package decoder

import (
	"bufio"
	"bytes"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/adfspeaker/internal/domain/pcm"
)

// Format identifies an audio container.
type Format string

const (
	FormatUnknown Format = ""
	FormatMP3     Format = "mp3"
	FormatOgg     Format = "ogg"
	FormatWAV     Format = "wav"
)

var (
	ErrUnknownFormat = errors.New("unknown audio format")
	ErrEmptyStream   = errors.New("empty audio stream")
)

// Open decodes r as the given format. The returned source closes r when it
// is closed, if r is an io.Closer.
func Open(format Format, r io.Reader) (pcm.Source, error) {
	switch format {
	case FormatMP3:
		return openMP3(r)
	case FormatOgg:
		return openOgg(r)
	case FormatWAV:
		return openWAV(r)
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "format=%q", format)
	}
}

// OpenDetect sniffs the first bytes of r, falling back to hint when the
// header is not recognised, and decodes it.
func OpenDetect(r io.Reader, hint Format) (pcm.Source, Format, error) {
	br := bufio.NewReaderSize(r, 4096)
	head, err := br.Peek(12)
	if len(head) == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			err = ErrEmptyStream
		}
		return nil, FormatUnknown, errors.Wrap(err, "failed to read stream header")
	}

	format := Sniff(head)
	if format == FormatUnknown {
		format = hint
	}
	src, err := Open(format, readCloser{Reader: br, closer: r})
	if err != nil {
		return nil, format, err
	}
	return src, format, nil
}

// Sniff recognises a container from its leading bytes.
func Sniff(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, []byte("OggS")):
		return FormatOgg
	case len(head) >= 12 && bytes.Equal(head[0:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(head, []byte("ID3")):
		return FormatMP3
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// FromContentType maps a MIME type to a format.
func FromContentType(contentType string) Format {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return FormatUnknown
	}
	switch mediaType {
	case "audio/mpeg", "audio/mp3", "audio/mpeg3", "audio/x-mpeg":
		return FormatMP3
	case "audio/ogg", "audio/vorbis", "application/ogg", "audio/x-vorbis+ogg":
		return FormatOgg
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return FormatWAV
	default:
		return FormatUnknown
	}
}

// FromName maps a file name or URL path to a format by extension.
func FromName(name string) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp3":
		return FormatMP3
	case ".ogg", ".oga":
		return FormatOgg
	case ".wav", ".wave":
		return FormatWAV
	default:
		return FormatUnknown
	}
}

// readCloser reads from a buffered view while closing the underlying stream.
type readCloser struct {
	io.Reader
	closer io.Reader
}

func (r readCloser) Close() error {
	if c, ok := r.closer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func closeReader(r io.Reader) error {
	if c, ok := r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
