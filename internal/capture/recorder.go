package capture

import (
	"log/slog"

	"github.com/MrWong99/chatterbox/pkg/audio"
	"github.com/MrWong99/chatterbox/pkg/audio/encode"
)

// recorder encodes frames for one recording on its own goroutine.
type recorder struct {
	id     int
	enc    encode.Encoder
	in     chan audio.Frame
	stop   chan struct{}
	done   chan struct{}
	chunks [][]byte
}

func newRecorder(enc encode.Encoder, id int) *recorder {
	return &recorder{
		id:   id,
		enc:  enc,
		in:   make(chan audio.Frame, 32),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// feed hands f to the recorder unless it has been stopped.
func (r *recorder) feed(f audio.Frame) {
	select {
	case r.in <- f:
	case <-r.stop:
	}
}

func (r *recorder) run() {
	defer close(r.done)
	for {
		select {
		case f := <-r.in:
			r.encode(f)
		case <-r.stop:
			// Frames queued before stop belong to this recording.
			for {
				select {
				case f := <-r.in:
					r.encode(f)
				default:
					r.finish()
					return
				}
			}
		}
	}
}

func (r *recorder) encode(f audio.Frame) {
	chunk, err := r.enc.Write(f)
	if err != nil {
		slog.Warn("capture: encode frame failed", "recording", r.id, "err", err)
		return
	}
	r.append(chunk)
}

func (r *recorder) finish() {
	chunk, err := r.enc.Close()
	if err != nil {
		slog.Warn("capture: finalize encoder failed", "recording", r.id, "err", err)
		return
	}
	r.append(chunk)
}

func (r *recorder) append(chunk []byte) {
	if len(chunk) > 0 {
		r.chunks = append(r.chunks, chunk)
	}
}
