package frames

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Policy selects how a Sequence is assembled.
type Policy int

const (
	// Replicated repeats a single frame T times. The resulting sequence has
	// no temporal information.
	Replicated Policy = iota
	// TrueTemporal orders real captures of the same unit by time.
	TrueTemporal
)

func (p Policy) String() string {
	if p == TrueTemporal {
		return "true_temporal"
	}
	return "replicated"
}

// ParsePolicy accepts "replicated" or "true_temporal".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "replicated":
		return Replicated, nil
	case "true_temporal", "temporal":
		return TrueTemporal, nil
	}
	return Replicated, errors.Errorf("unknown sequence policy %q", s)
}

// TimedFrame is a frame with its capture time.
type TimedFrame struct {
	Frame
	CapturedAt time.Time
}

// Sequence is a fixed-length run of frames, frame 0 being the earliest.
type Sequence struct {
	Frames     []Frame
	degenerate bool
}

// Len is the number of timesteps.
func (s Sequence) Len() int { return len(s.Frames) }

// Degenerate reports whether some timesteps are copies of another frame
// instead of distinct captures.
func (s Sequence) Degenerate() bool { return s.degenerate }

// Flat returns the frames as a (T, S, S, 3) buffer.
func (s Sequence) Flat() []float32 {
	if len(s.Frames) == 0 {
		return nil
	}
	n := len(s.Frames[0].Pix)
	out := make([]float32, 0, n*len(s.Frames))
	for _, f := range s.Frames {
		out = append(out, f.Pix...)
	}
	return out
}

// Builder assembles Sequences of Timesteps frames.
type Builder struct {
	Timesteps int
	Policy    Policy
}

// Replicate returns a sequence holding f Timesteps times.
func (b Builder) Replicate(f Frame) Sequence {
	seq := Sequence{Frames: make([]Frame, b.Timesteps), degenerate: true}
	for i := range seq.Frames {
		seq.Frames[i] = f
	}
	return seq
}

// Build assembles the sequence for one unit (a plot or a tile) from its
// captures.
//
// Under TrueTemporal the captures are sorted by time and the Timesteps most
// recent are kept. With fewer captures the earliest one pads the front, and a
// single capture falls back to replication. Under Replicated the most recent
// capture is replicated. Every fallback is logged.
func (b Builder) Build(unitID string, captures []TimedFrame) (Sequence, error) {
	if b.Timesteps <= 0 {
		return Sequence{}, errors.Errorf("timesteps must be positive, got %d", b.Timesteps)
	}
	if len(captures) == 0 {
		return Sequence{}, errors.Errorf("unit %q has no frames", unitID)
	}
	sorted := make([]TimedFrame, len(captures))
	copy(sorted, captures)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CapturedAt.Before(sorted[j].CapturedAt)
	})
	latest := sorted[len(sorted)-1].Frame

	if b.Policy == Replicated {
		if len(sorted) > 1 {
			klog.Warningf("unit %q: replicated policy ignores %d earlier frames", unitID, len(sorted)-1)
		}
		return b.Replicate(latest), nil
	}

	switch {
	case len(sorted) == 1:
		klog.Warningf("degenerate sequence for unit %q: 1 frame available, replicating it %d times", unitID, b.Timesteps)
		return b.Replicate(latest), nil
	case len(sorted) < b.Timesteps:
		klog.Warningf("degenerate sequence for unit %q: %d of %d frames available, padding with the earliest",
			unitID, len(sorted), b.Timesteps)
		seq := Sequence{Frames: make([]Frame, 0, b.Timesteps), degenerate: true}
		for range b.Timesteps - len(sorted) {
			seq.Frames = append(seq.Frames, sorted[0].Frame)
		}
		for _, tf := range sorted {
			seq.Frames = append(seq.Frames, tf.Frame)
		}
		return seq, nil
	}
	seq := Sequence{Frames: make([]Frame, 0, b.Timesteps)}
	for _, tf := range sorted[len(sorted)-b.Timesteps:] {
		seq.Frames = append(seq.Frames, tf.Frame)
	}
	return seq, nil
}
