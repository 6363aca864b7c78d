// Package capture turns camera frames into immutable artifacts: document
// stills and the liveness recording.
package capture

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"go-kyc-orchestrator/images"

	"github.com/google/uuid"
)

// Kind tells stills from recordings.
type Kind int

const (
	KindStill Kind = iota
	KindVideo
)

func (k Kind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "still"
}

const (
	MimeJPEG  = "image/jpeg"
	MimeMJPEG = "video/x-motion-jpeg"
)

// Artifact is an encoded still image or video. It is immutable: accessors hand
// out copies and a retake produces a new Artifact.
type Artifact struct {
	id         string
	kind       Kind
	mimeType   string
	filename   string
	data       []byte
	width      int
	height     int
	frames     int
	capturedAt time.Time
}

func newArtifact(kind Kind, mimeType, filename string, data []byte, width, height, frames int, at time.Time) Artifact {
	return Artifact{
		id:         uuid.NewString(),
		kind:       kind,
		mimeType:   mimeType,
		filename:   filename,
		data:       data,
		width:      width,
		height:     height,
		frames:     frames,
		capturedAt: at,
	}
}

func (a Artifact) ID() string            { return a.id }
func (a Artifact) Kind() Kind            { return a.kind }
func (a Artifact) MimeType() string      { return a.mimeType }
func (a Artifact) Filename() string      { return a.filename }
func (a Artifact) Width() int            { return a.width }
func (a Artifact) Height() int           { return a.height }
func (a Artifact) Frames() int           { return a.frames }
func (a Artifact) CapturedAt() time.Time { return a.capturedAt }
func (a Artifact) Size() int             { return len(a.data) }
func (a Artifact) IsZero() bool          { return len(a.data) == 0 }

// Bytes returns a copy of the encoded payload.
func (a Artifact) Bytes() []byte { return bytes.Clone(a.data) }

// Reader streams the encoded payload without copying it.
func (a Artifact) Reader() io.Reader { return bytes.NewReader(a.data) }

// DataURL renders the artifact the way it is kept in the session store.
func (a Artifact) DataURL() string {
	if a.IsZero() {
		return ""
	}
	return "data:" + a.mimeType + ";base64," + base64.StdEncoding.EncodeToString(a.data)
}

// ParseDataURL restores a still artifact from its DataURL form.
func ParseDataURL(dataURL, filename string) (Artifact, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return Artifact{}, fmt.Errorf("not a data url")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Artifact{}, fmt.Errorf("malformed data url")
	}
	mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return Artifact{}, fmt.Errorf("data url is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Artifact{}, fmt.Errorf("decode data url payload: %w", err)
	}

	a := newArtifact(KindStill, mimeType, filename, data, 0, 0, 1, time.Time{})
	if strings.HasPrefix(mimeType, "image/") {
		cfg, _, err := images.DecodeConfig(data)
		if err != nil {
			return Artifact{}, err
		}
		a.width, a.height = cfg.Width, cfg.Height
	} else {
		a.kind = KindVideo
	}
	return a, nil
}
