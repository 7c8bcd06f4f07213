package encode_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/youpy/go-wav"

	"github.com/MrWong99/chatterbox/pkg/audio"
	"github.com/MrWong99/chatterbox/pkg/audio/encode"
)

func sineFrame(rate, n int, amp float32) audio.Frame {
	s := make([]float32, n)
	for i := range s {
		s[i] = amp * float32(math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return audio.Frame{Samples: s, SampleRate: rate, Channels: 1}
}

func TestNegotiate_FallsThroughToOgg(t *testing.T) {
	t.Parallel()
	r := encode.NewDefaultRegistry()
	got, err := r.Negotiate(encode.DefaultPreferences)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != encode.ContentTypeOggOpus {
		t.Errorf("negotiated %q, want %q", got, encode.ContentTypeOggOpus)
	}
}

func TestNegotiate_NormalizesParameters(t *testing.T) {
	t.Parallel()
	r := encode.NewDefaultRegistry()
	got, err := r.Negotiate([]string{"Audio/OGG; codecs=opus"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != encode.ContentTypeOggOpus {
		t.Errorf("negotiated %q, want %q", got, encode.ContentTypeOggOpus)
	}
}

func TestNegotiate_Unsupported(t *testing.T) {
	t.Parallel()
	r := encode.NewDefaultRegistry()
	_, err := r.Negotiate([]string{"audio/webm", "audio/flac"})
	if !errors.Is(err, encode.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestNegotiate_EmptyRegistry(t *testing.T) {
	t.Parallel()
	_, err := encode.NewRegistry().Negotiate(encode.DefaultPreferences)
	if !errors.Is(err, encode.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestExtension(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"audio/ogg;codecs=opus":  ".ogg",
		"audio/webm;codecs=opus": ".webm",
		"audio/wav":              ".wav",
		"audio/mpeg":             ".mp3",
		"application/unknown":    ".bin",
	}
	for ct, want := range tests {
		if got := encode.Extension(ct); got != want {
			t.Errorf("Extension(%q) = %q, want %q", ct, got, want)
		}
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	t.Parallel()
	enc, err := encode.NewDefaultRegistry().New(encode.ContentTypeWAV, audio.Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	for range 3 {
		chunk, err := enc.Write(sineFrame(16000, 160, 0.5))
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		if len(chunk) != 0 {
			t.Errorf("wav encoder emitted %d bytes before Close", len(chunk))
		}
	}
	data, err := enc.Close()
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	r := wav.NewReader(bytes.NewReader(data))
	format, err := r.Format()
	if err != nil {
		t.Fatalf("read format: %v", err)
	}
	if format.SampleRate != 16000 || format.NumChannels != 1 {
		t.Errorf("format = %d Hz / %d ch, want 16000 Hz / 1 ch", format.SampleRate, format.NumChannels)
	}
	total := 0
	for {
		samples, err := r.ReadSamples()
		total += len(samples)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read samples: %v", err)
		}
	}
	if total != 480 {
		t.Errorf("decoded %d samples, want 480", total)
	}
}

func TestWAV_RejectsSurround(t *testing.T) {
	t.Parallel()
	if _, err := encode.NewWAV(audio.Format{SampleRate: 48000, Channels: 6}); err == nil {
		t.Fatal("expected error for 6 channels")
	}
}

func TestOggOpus_Pages(t *testing.T) {
	t.Parallel()
	enc, err := encode.NewOggOpus(audio.DefaultFormat)
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	var out []byte
	for range 5 {
		chunk, err := enc.Write(sineFrame(48000, 480, 0.5))
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		out = append(out, chunk...)
	}
	last, err := enc.Close()
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	out = append(out, last...)

	pages := splitPages(t, out)
	if len(pages) < 4 {
		t.Fatalf("got %d pages, want at least 4 (head, tags, audio, eos)", len(pages))
	}
	if pages[0][5]&0x02 == 0 {
		t.Error("first page missing BOS flag")
	}
	if !bytes.Contains(pages[0], []byte("OpusHead")) {
		t.Error("first page missing OpusHead")
	}
	if !bytes.Contains(pages[1], []byte("OpusTags")) {
		t.Error("second page missing OpusTags")
	}
	if pages[len(pages)-1][5]&0x04 == 0 {
		t.Error("last page missing EOS flag")
	}
	for i, p := range pages {
		if binary.LittleEndian.Uint32(p[18:]) != uint32(i) {
			t.Errorf("page %d has sequence %d", i, binary.LittleEndian.Uint32(p[18:]))
		}
	}
}

func TestOggOpus_RejectsOddRate(t *testing.T) {
	t.Parallel()
	if _, err := encode.NewOggOpus(audio.Format{SampleRate: 44100, Channels: 1}); err == nil {
		t.Fatal("expected error for 44.1 kHz")
	}
}

// splitPages walks a buffer of concatenated Ogg pages.
func splitPages(t *testing.T, data []byte) [][]byte {
	t.Helper()
	var pages [][]byte
	for len(data) > 0 {
		if len(data) < 27 || string(data[:4]) != "OggS" {
			t.Fatalf("bad page header at offset %d", len(pages))
		}
		nseg := int(data[26])
		size := 27 + nseg
		for _, l := range data[27 : 27+nseg] {
			size += int(l)
		}
		pages = append(pages, data[:size])
		data = data[size:]
	}
	return pages
}
