package capture

import (
	"errors"
	"fmt"
	"log/slog"

	"go-kyc-orchestrator/apperr"
	"go-kyc-orchestrator/clock"
	"go-kyc-orchestrator/images"
	"go-kyc-orchestrator/media"
)

var (
	ErrEmptyFrame = errors.New("frame has no image")
	ErrNoChunks   = errors.New("no video recorded")
)

// Chunk is a run of JPEG encoded frames produced by the recorder.
type Chunk struct {
	data   []byte
	frames int
	width  int
	height int
}

func (c Chunk) Size() int   { return len(c.data) }
func (c Chunk) Frames() int { return c.frames }

// Encoder produces artifacts from frames. Still images are JPEG; recordings
// are Motion-JPEG, a plain concatenation of JPEG frames.
type Encoder struct {
	quality int
	clock   clock.Clock
}

// NewEncoder creates an encoder with the given JPEG quality. Out of range
// values use images.DefaultJPEGQuality.
func NewEncoder(quality int, clk clock.Clock) *Encoder {
	if quality <= 0 || quality > 100 {
		quality = images.DefaultJPEGQuality
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Encoder{quality: quality, clock: clk}
}

// EncodeStill freezes f into a JPEG artifact with the frame's dimensions.
func (e *Encoder) EncodeStill(f media.Frame, filename string) (Artifact, error) {
	if f.Image == nil {
		return Artifact{}, &apperr.CaptureError{Op: "encode still", Err: ErrEmptyFrame}
	}
	data, err := images.EncodeJPEG(f.Image, e.quality)
	if err != nil {
		return Artifact{}, &apperr.CaptureError{Op: "encode still", Err: err}
	}
	slog.Debug("Still encoded", "filename", filename, "width", f.Width(), "height", f.Height(), "size", len(data))
	return newArtifact(KindStill, MimeJPEG, filename, data, f.Width(), f.Height(), 1, e.clock.Now()), nil
}

func (e *Encoder) encodeFrame(f media.Frame) ([]byte, error) {
	if f.Image == nil {
		return nil, ErrEmptyFrame
	}
	return images.EncodeJPEG(f.Image, e.quality)
}

// EncodeVideo joins chunks into one recording artifact.
func (e *Encoder) EncodeVideo(chunks []Chunk, filename string) (Artifact, error) {
	if len(chunks) == 0 {
		return Artifact{}, &apperr.CaptureError{Op: "encode video", Err: ErrNoChunks}
	}
	size, frames := 0, 0
	for _, c := range chunks {
		size += len(c.data)
		frames += c.frames
	}
	data := make([]byte, 0, size)
	for _, c := range chunks {
		data = append(data, c.data...)
	}
	first := chunks[0]
	slog.Debug("Video encoded", "filename", filename, "chunks", len(chunks), "frames", frames, "size", size)
	return newArtifact(KindVideo, MimeMJPEG, filename, data, first.width, first.height, frames, e.clock.Now()), nil
}

func newChunk(frames [][]byte, width, height int) (Chunk, error) {
	if len(frames) == 0 {
		return Chunk{}, fmt.Errorf("empty chunk")
	}
	size := 0
	for _, f := range frames {
		size += len(f)
	}
	data := make([]byte, 0, size)
	for _, f := range frames {
		data = append(data, f...)
	}
	return Chunk{data: data, frames: len(frames), width: width, height: height}, nil
}
