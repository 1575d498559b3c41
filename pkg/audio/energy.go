package audio

import (
	"encoding/binary"
	"math"
)

// RMS computes the root-mean-square amplitude of raw 16-bit signed
// little-endian PCM, expressed in 16-bit sample units (0–32767). It is
// allocation-free and O(len(pcm)), making it suitable for the per-frame
// stage-1 wake-word gate. A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}

// ZeroCrossingRate returns the fraction of adjacent sample pairs whose signs
// differ, in [0, 1]. Voiced speech typically sits well below white noise or
// clicks on this measure, so it serves as a coarse spectral gate alongside
// the RMS threshold. Allocation-free and O(len(pcm)).
func ZeroCrossingRate(pcm []byte) float64 {
	n := len(pcm) / 2
	if n < 2 {
		return 0
	}
	crossings := 0
	prev := int16(binary.LittleEndian.Uint16(pcm))
	for i := 1; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if (prev < 0) != (s < 0) {
			crossings++
		}
		prev = s
	}
	return float64(crossings) / float64(n-1)
}
