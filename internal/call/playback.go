package call

import "time"

// Audio rates used by the protocol: frames are captured at 16kHz and model
// or peer audio plays back at 24kHz, mono 16-bit throughout.
const (
	CaptureRate  = 16000
	PlaybackRate = 24000
)

// Clock hands out non-overlapping playback slots for decoded audio chunks.
// Each chunk starts at max(nextStart, now) and advances nextStart by its own
// duration, so jittered arrivals neither overlap nor leave avoidable gaps.
type Clock struct {
	nextStart time.Time
}

// Schedule returns the start time for a chunk of the given duration.
func (c *Clock) Schedule(now time.Time, d time.Duration) time.Time {
	if c.nextStart.Before(now) {
		c.nextStart = now
	}
	start := c.nextStart
	c.nextStart = c.nextStart.Add(d)
	return start
}

// ChunkDuration computes how long a sample buffer plays at a given rate.
func ChunkDuration(sampleCount, rate int) time.Duration {
	return time.Duration(sampleCount) * time.Second / time.Duration(rate)
}
