package call

import (
	"encoding/base64"
	"fmt"
)

// Voice frames travel over the bus as base64-encoded little-endian 16-bit
// PCM, matching what the capture side produces.

// EncodeFrame packs int16 samples into the wire encoding.
func EncodeFrame(samples []int16) string {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeFrame unpacks a wire frame back into int16 samples.
func DecodeFrame(data string) ([]int16, error) {
	buf, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode voice frame: %w", err)
	}
	if len(buf)%2 != 0 {
		return nil, fmt.Errorf("voice frame has odd byte length %d", len(buf))
	}
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(buf[i*2]) | int16(buf[i*2+1])<<8
	}
	return samples, nil
}

// BytesToSamples converts raw little-endian PCM bytes (as returned by the
// speech API) into int16 samples, truncating a trailing odd byte.
func BytesToSamples(buf []byte) []int16 {
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(buf[i*2]) | int16(buf[i*2+1])<<8
	}
	return samples
}
