// Package media owns the camera. A Controller hands out exclusively owned
// Streams per role and guarantees their release; Devices are the drivers that
// produce frames.
package media

import (
	"context"
	"errors"
	"image"
	"time"
)

// Role identifies which screen needs the camera.
type Role int

const (
	RoleDocument Role = iota
	RoleFace
)

func (r Role) String() string {
	switch r {
	case RoleDocument:
		return "document"
	case RoleFace:
		return "face"
	default:
		return "unknown"
	}
}

// FacingMode selects the physical camera on devices with more than one.
type FacingMode string

const (
	FacingEnvironment FacingMode = "environment"
	FacingUser        FacingMode = "user"
)

// Fallback frame size when a device does not report its dimensions.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

// Constraints describe the stream requested from a Device.
type Constraints struct {
	Role       Role
	FacingMode FacingMode
	Width      int
	Height     int
	FrameRate  float64
}

// DocumentConstraints is the rear camera preset used for ID cards and passports.
func DocumentConstraints() Constraints {
	return Constraints{Role: RoleDocument, FacingMode: FacingEnvironment, Width: 1280, Height: 720, FrameRate: 30}
}

// FaceConstraints is the front camera preset used for the liveness challenge.
func FaceConstraints() Constraints {
	return Constraints{Role: RoleFace, FacingMode: FacingUser, Width: 1280, Height: 720, FrameRate: 30}
}

// Frame is a single decoded video frame.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Image     image.Image
}

func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrNoDevice         = errors.New("no camera available")
	ErrCameraBusy       = errors.New("camera is held by another screen")
	ErrStreamReleased   = errors.New("camera stream released")
	ErrNotReady         = errors.New("camera stream not ready")
)

// Device is a camera driver.
//
// Open must fail with ErrPermissionDenied or ErrNoDevice (optionally wrapped)
// when the camera cannot be used.
type Device interface {
	Open(ctx context.Context, c Constraints) (Source, error)
}

// Source is an opened camera feed.
type Source interface {
	// Metadata is closed once the stream dimensions are known.
	Metadata() <-chan struct{}
	// Read returns the current frame.
	Read() (Frame, error)
	// Tracks lists the tracks that must be stopped on release.
	Tracks() []Track
}

// Track is one media track of a Source.
type Track interface {
	Kind() string
	// Stop is idempotent.
	Stop()
}

// FrameSource is what capture code needs from a stream.
type FrameSource interface {
	Frame() (Frame, error)
	Done() <-chan struct{}
}
