package speech

// Reason explains a gate decision.
type Reason string

const (
	ReasonAccepted  Reason = "accepted"
	ReasonNoSpeech  Reason = "no_speech"
	ReasonNoChunks  Reason = "no_chunks"
	ReasonEmptyBlob Reason = "empty_blob"
)

// Blob is one immutable encoded recording ready for upload.
type Blob struct {
	Data        []byte
	ContentType string
}

// Decision is the outcome of [Evaluate].
type Decision struct {
	Accepted bool
	Reason   Reason

	// Blob is set only when Accepted is true.
	Blob Blob
}

// Evaluate decides whether a finished recording should be transcribed.
// It rejects when no speech was detected, when nothing was recorded, or when
// the recorded chunks carry no bytes. Otherwise the chunks are assembled in
// order into a blob tagged with contentType.
func Evaluate(hadSpeech bool, chunks [][]byte, contentType string) Decision {
	if !hadSpeech {
		return Decision{Reason: ReasonNoSpeech}
	}
	if len(chunks) == 0 {
		return Decision{Reason: ReasonNoChunks}
	}
	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	if size == 0 {
		return Decision{Reason: ReasonEmptyBlob}
	}
	data := make([]byte, 0, size)
	for _, c := range chunks {
		data = append(data, c...)
	}
	return Decision{
		Accepted: true,
		Reason:   ReasonAccepted,
		Blob:     Blob{Data: data, ContentType: contentType},
	}
}
