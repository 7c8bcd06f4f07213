package encode

import (
	"bytes"
	"fmt"

	"github.com/youpy/go-wav"

	"github.com/MrWong99/chatterbox/pkg/audio"
)

// wavEncoder buffers 16-bit PCM and writes a single RIFF/WAVE file on Close,
// since the header carries the total sample count.
type wavEncoder struct {
	format  audio.Format
	samples []wav.Sample
}

// NewWAV returns an encoder producing 16-bit PCM WAV. Mono and stereo are
// supported.
func NewWAV(f audio.Format) (Encoder, error) {
	if f.Channels != 1 && f.Channels != 2 {
		return nil, fmt.Errorf("encode: wav: unsupported channel count %d", f.Channels)
	}
	if f.SampleRate <= 0 {
		return nil, fmt.Errorf("encode: wav: invalid sample rate %d", f.SampleRate)
	}
	return &wavEncoder{format: f}, nil
}

func (e *wavEncoder) Write(f audio.Frame) ([]byte, error) {
	pcm := audio.ToInt16(f.Samples)
	ch := e.format.Channels
	for i := 0; i+ch <= len(pcm); i += ch {
		var s wav.Sample
		for c := range ch {
			s.Values[c] = int(pcm[i+c])
		}
		e.samples = append(e.samples, s)
	}
	return nil, nil
}

func (e *wavEncoder) Close() ([]byte, error) {
	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(len(e.samples)), uint16(e.format.Channels), uint32(e.format.SampleRate), 16)
	if err := w.WriteSamples(e.samples); err != nil {
		return nil, fmt.Errorf("encode: wav: write samples: %w", err)
	}
	e.samples = nil
	return buf.Bytes(), nil
}
