package audio

import (
	"encoding/binary"
	"math/rand/v2"
	"time"
)

// Peak returns the largest absolute sample of little-endian PCM16 mono audio.
func Peak(frame []byte) int {
	peak := 0
	for i := 0; i+1 < len(frame); i += 2 {
		v := int(int16(binary.LittleEndian.Uint16(frame[i:])))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// BytesFor is the PCM16 mono byte length of d at sampleRate.
func BytesFor(sampleRate int, d time.Duration) int {
	samples := int(int64(sampleRate) * int64(d) / int64(time.Second))
	return samples * 2
}

// PCMDuration is the playback length of n bytes of PCM16 mono audio.
func PCMDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n/2) * int64(time.Second) / int64(sampleRate))
}

// Silence returns d of zeroed PCM16 audio.
func Silence(sampleRate int, d time.Duration) []byte {
	return make([]byte, BytesFor(sampleRate, d))
}

// Noise returns d of uniform noise with samples in [-amplitude, amplitude].
func Noise(sampleRate int, d time.Duration, amplitude int) []byte {
	out := make([]byte, BytesFor(sampleRate, d))
	if amplitude <= 0 {
		return out
	}
	for i := 0; i+1 < len(out); i += 2 {
		v := rand.IntN(2*amplitude+1) - amplitude
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(v)))
	}
	return out
}
