package encode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"layeh.com/gopus"

	"github.com/MrWong99/chatterbox/pkg/audio"
)

const (
	opusFrameMs    = 20
	opusMaxPacket  = 4000
	opusPreSkip    = 312
	opusGranuleHz  = 48000
	opusVendorName = "chatterbox"
)

// oggOpusEncoder encodes 20 ms Opus packets and wraps each in an Ogg page.
// The identification and comment headers are emitted with the first chunk.
type oggOpusEncoder struct {
	enc       *gopus.Encoder
	ogg       oggWriter
	format    audio.Format
	frameSize int
	pending   []int16
	granule   uint64
	started   bool
}

// NewOggOpus returns an encoder producing Ogg-encapsulated Opus. The sample
// rate must be one Opus supports: 8, 12, 16, 24 or 48 kHz.
func NewOggOpus(f audio.Format) (Encoder, error) {
	switch f.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("encode: opus: unsupported sample rate %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return nil, fmt.Errorf("encode: opus: unsupported channel count %d", f.Channels)
	}
	enc, err := gopus.NewEncoder(f.SampleRate, f.Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("encode: opus: create encoder: %w", err)
	}
	return &oggOpusEncoder{
		enc:       enc,
		ogg:       oggWriter{serial: rand.Uint32()},
		format:    f,
		frameSize: f.SampleRate * opusFrameMs / 1000,
	}, nil
}

func (e *oggOpusEncoder) Write(f audio.Frame) ([]byte, error) {
	var out bytes.Buffer
	if !e.started {
		e.writeHeaders(&out)
	}
	e.pending = append(e.pending, audio.ToInt16(f.Samples)...)

	chunk := e.frameSize * e.format.Channels
	for len(e.pending) >= chunk {
		if err := e.encodeFrame(&out, e.pending[:chunk], 0); err != nil {
			return nil, err
		}
		e.pending = e.pending[chunk:]
	}
	return out.Bytes(), nil
}

func (e *oggOpusEncoder) Close() ([]byte, error) {
	var out bytes.Buffer
	if !e.started {
		e.writeHeaders(&out)
	}
	chunk := e.frameSize * e.format.Channels
	last := make([]int16, chunk)
	copy(last, e.pending)
	e.pending = nil
	if err := e.encodeFrame(&out, last, oggEOS); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (e *oggOpusEncoder) encodeFrame(out *bytes.Buffer, pcm []int16, flags byte) error {
	packet, err := e.enc.Encode(pcm, e.frameSize, opusMaxPacket)
	if err != nil {
		return fmt.Errorf("encode: opus: encode frame: %w", err)
	}
	e.granule += uint64(e.frameSize * opusGranuleHz / e.format.SampleRate)
	out.Write(e.ogg.page(packet, e.granule, flags))
	return nil
}

func (e *oggOpusEncoder) writeHeaders(out *bytes.Buffer) {
	e.started = true

	var head bytes.Buffer
	head.WriteString("OpusHead")
	head.WriteByte(1)
	head.WriteByte(byte(e.format.Channels))
	binary.Write(&head, binary.LittleEndian, uint16(opusPreSkip))
	binary.Write(&head, binary.LittleEndian, uint32(e.format.SampleRate))
	binary.Write(&head, binary.LittleEndian, int16(0))
	head.WriteByte(0)
	out.Write(e.ogg.page(head.Bytes(), 0, oggBOS))

	var tags bytes.Buffer
	tags.WriteString("OpusTags")
	binary.Write(&tags, binary.LittleEndian, uint32(len(opusVendorName)))
	tags.WriteString(opusVendorName)
	binary.Write(&tags, binary.LittleEndian, uint32(0))
	out.Write(e.ogg.page(tags.Bytes(), 0, 0))
}
