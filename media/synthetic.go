package media

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"go-kyc-orchestrator/clock"
)

// videoTrack is the single track of the bundled drivers.
type videoTrack struct {
	stopped atomic.Bool
}

func (t *videoTrack) Kind() string { return "video" }
func (t *videoTrack) Stop()        { t.stopped.Store(true) }
func (t *videoTrack) Stopped() bool {
	return t.stopped.Load()
}

// SyntheticDevice generates a moving test pattern. It stands in for a camera on
// hosts without one.
type SyntheticDevice struct {
	Clock clock.Clock
	// MetadataDelay postpones the metadata signal; zero signals immediately.
	MetadataDelay time.Duration
}

func (d *SyntheticDevice) Open(ctx context.Context, c Constraints) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.Real()
	}
	w, h := c.Width, c.Height
	if w <= 0 || h <= 0 {
		w, h = DefaultWidth, DefaultHeight
	}

	src := &syntheticSource{
		clock:    clk,
		width:    w,
		height:   h,
		track:    &videoTrack{},
		metadata: make(chan struct{}),
	}
	if d.MetadataDelay <= 0 {
		close(src.metadata)
	} else {
		timer := clk.NewTimer(d.MetadataDelay)
		go func() {
			defer timer.Stop()
			<-timer.C()
			src.metaOnce.Do(func() { close(src.metadata) })
		}()
	}
	return src, nil
}

type syntheticSource struct {
	clock    clock.Clock
	width    int
	height   int
	track    *videoTrack
	seq      atomic.Uint64
	metadata chan struct{}
	metaOnce sync.Once
}

func (s *syntheticSource) Metadata() <-chan struct{} { return s.metadata }
func (s *syntheticSource) Tracks() []Track           { return []Track{s.track} }

func (s *syntheticSource) Read() (Frame, error) {
	if s.track.Stopped() {
		return Frame{}, ErrStreamReleased
	}
	seq := s.seq.Add(1)
	return Frame{Seq: seq, Timestamp: s.clock.Now(), Image: testPattern(s.width, s.height, seq)}, nil
}

// testPattern draws a gradient with a vertical bar that moves with seq.
func testPattern(w, h int, seq uint64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bar := int(seq*8) % w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 96, A: 255}
			if x >= bar && x < bar+8 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
