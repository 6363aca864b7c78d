package media

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go-kyc-orchestrator/clock"
	"go-kyc-orchestrator/images"
)

// DirectoryDevice replays the images of a directory in name order, looping.
type DirectoryDevice struct {
	Dir   string
	Clock clock.Clock
}

func (d *DirectoryDevice) Open(ctx context.Context, c Constraints) (Source, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrNoDevice, d.Dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var frames []image.Image
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(d.Dir, name))
		if err != nil {
			slog.Warn("Skipping unreadable frame file", "file", name, "error", err)
			continue
		}
		img, _, err := images.Decode(data)
		if err != nil {
			slog.Debug("Skipping non-image file", "file", name, "error", err)
			continue
		}
		frames = append(frames, img)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no decodable images in %s", ErrNoDevice, d.Dir)
	}

	clk := d.Clock
	if clk == nil {
		clk = clock.Real()
	}
	meta := make(chan struct{})
	close(meta)

	slog.Debug("Directory camera opened", "dir", d.Dir, "frames", len(frames), "role", c.Role)
	return &directorySource{clock: clk, frames: frames, track: &videoTrack{}, metadata: meta}, nil
}

type directorySource struct {
	clock    clock.Clock
	frames   []image.Image
	track    *videoTrack
	metadata chan struct{}

	mu  sync.Mutex
	seq uint64
}

func (s *directorySource) Metadata() <-chan struct{} { return s.metadata }
func (s *directorySource) Tracks() []Track           { return []Track{s.track} }

func (s *directorySource) Read() (Frame, error) {
	if s.track.Stopped() {
		return Frame{}, ErrStreamReleased
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	img := s.frames[s.seq%uint64(len(s.frames))]
	s.seq++
	return Frame{Seq: s.seq, Timestamp: s.clock.Now(), Image: img}, nil
}
