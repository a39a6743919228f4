// Package plan computes segment boundaries and frame sample times for a
// video. It is pure math: no I/O, deterministic for a given parameter set.
package plan

import (
	"fmt"
	"math"
)

// Params are the inputs to a planning run
type Params struct {
	Duration             float64
	SegmentLength        float64
	FPS                  float64
	TrimToNearestSecond  bool
	AllowPartialSegments bool
}

// SegmentPlan is the planned window and frame schedule for one segment
type SegmentPlan struct {
	Index      int
	Start      float64
	End        float64
	Duration   float64
	FrameCount int
	FrameTimes []float64
}

// Result is the full plan for a video
type Result struct {
	EffectiveDuration float64
	Segments          []SegmentPlan
}

// Validate rejects parameter combinations that make planning meaningless.
// Build assumes it has been called
func Validate(p Params) error {
	if p.SegmentLength <= 0 {
		return fmt.Errorf("segment length must be positive, got %v", p.SegmentLength)
	}
	if p.FPS <= 0 {
		return fmt.Errorf("sampling fps must be positive, got %v", p.FPS)
	}
	if p.SegmentLength > p.Duration {
		return fmt.Errorf("segment length %v exceeds video duration %v", p.SegmentLength, p.Duration)
	}
	return nil
}

// Build computes the segment windows and per-segment frame sample times.
// Windows are contiguous and non-overlapping; the final window is clipped
// to the effective duration. Frame times are evenly spaced across the
// half-open [start, end) so a boundary frame never repeats in the next
// segment, and are rounded to 2 decimal places
func Build(p Params) Result {
	effective := p.Duration
	if p.TrimToNearestSecond {
		effective = math.Floor(effective)
	}

	var count int
	if p.AllowPartialSegments {
		count = int(math.Ceil(effective / p.SegmentLength))
	} else {
		count = int(math.Floor(effective / p.SegmentLength))
	}

	segments := make([]SegmentPlan, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i) * p.SegmentLength
		end := math.Min(float64(i+1)*p.SegmentLength, effective)
		duration := end - start

		frameCount := int(math.Ceil(duration * p.FPS))
		times := make([]float64, 0, frameCount)
		if frameCount > 0 {
			step := duration / float64(frameCount)
			for k := 0; k < frameCount; k++ {
				t := start + float64(k)*step
				times = append(times, math.Round(t*100)/100)
			}
		}

		segments = append(segments, SegmentPlan{
			Index:      i,
			Start:      start,
			End:        end,
			Duration:   duration,
			FrameCount: frameCount,
			FrameTimes: times,
		})
	}

	return Result{
		EffectiveDuration: effective,
		Segments:          segments,
	}
}
