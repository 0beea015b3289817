package voice

import (
	"io"
	"math"
	"sync"
)

// Resource wraps a decoded PCM stream (48 kHz, stereo, signed 16-bit
// little-endian) together with an inline gain control. The gain can be
// changed while the resource is playing and takes effect on the next frame.
//
// A Resource is single-use: once a [Player] has consumed it, it is closed and
// cannot be replayed.
type Resource struct {
	name string
	pcm  io.ReadCloser

	mu   sync.Mutex
	gain float64
}

// NewResource creates a Resource reading PCM data from pcm. name identifies
// the clip in logs. The initial gain is 1.
func NewResource(name string, pcm io.ReadCloser) *Resource {
	return &Resource{name: name, pcm: pcm, gain: 1}
}

// Name returns the clip identifier this resource was created from.
func (r *Resource) Name() string { return r.name }

// SetVolume sets the live gain, clamped to [0, 1].
func (r *Resource) SetVolume(v float64) {
	if v < 0 || math.IsNaN(v) {
		v = 0
	} else if v > 1 {
		v = 1
	}
	r.mu.Lock()
	r.gain = v
	r.mu.Unlock()
}

// Volume returns the current gain.
func (r *Resource) Volume() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gain
}

// ReadPCM fills buf with raw PCM bytes, applying the current gain to every
// 16-bit sample. It returns the number of bytes read; io.EOF signals the end
// of the clip. Short reads are padded to an even byte count so samples are
// never split across calls.
func (r *Resource) ReadPCM(buf []byte) (int, error) {
	n, err := io.ReadFull(r.pcm, buf)
	if err == io.ErrUnexpectedEOF {
		// Final partial frame. Deliver what we have; the next call reports EOF.
		err = nil
		if n%2 == 1 {
			buf[n] = 0
			n++
		}
	}
	if n == 0 {
		return 0, err
	}

	gain := r.Volume()
	if gain != 1 {
		for i := 0; i+1 < n; i += 2 {
			s := int16(uint16(buf[i]) | uint16(buf[i+1])<<8)
			scaled := int32(math.Round(float64(s) * gain))
			if scaled > math.MaxInt16 {
				scaled = math.MaxInt16
			} else if scaled < math.MinInt16 {
				scaled = math.MinInt16
			}
			buf[i] = byte(uint16(scaled))
			buf[i+1] = byte(uint16(scaled) >> 8)
		}
	}
	return n, err
}

// Close releases the underlying PCM stream. Safe to call more than once for
// streams whose Close is idempotent; the player always closes the resource it
// finished or displaced.
func (r *Resource) Close() error {
	return r.pcm.Close()
}
