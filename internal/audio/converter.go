package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleFormat is the layout of raw interleaved samples from a capture device
type SampleFormat string

const (
	FormatS16LE SampleFormat = "s16le"
	FormatF32LE SampleFormat = "f32le"
	FormatU16LE SampleFormat = "u16le"
)

// ParseSampleFormat validates a sample format name
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch f := SampleFormat(s); f {
	case FormatS16LE, FormatF32LE, FormatU16LE:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported sample format %q (want s16le, f32le or u16le)", s)
	}
}

// BytesPerSample returns the width of one sample in bytes
func (f SampleFormat) BytesPerSample() int {
	if f == FormatF32LE {
		return 4
	}
	return 2
}

// ToLinear16 converts interleaved samples in format to 16-bit signed
// little-endian PCM, the layout the linear16 encoding expects.
func ToLinear16(data []byte, format SampleFormat) ([]byte, error) {
	width := format.BytesPerSample()
	if len(data)%width != 0 {
		return nil, fmt.Errorf("%s data length %d is not a multiple of %d", format, len(data), width)
	}

	switch format {
	case FormatS16LE:
		return append([]byte(nil), data...), nil
	case FormatF32LE:
		out := make([]byte, len(data)/2)
		for i := 0; i < len(data)/4; i++ {
			v := math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
			binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(v)))
		}
		return out, nil
	case FormatU16LE:
		out := make([]byte, len(data))
		for i := 0; i < len(data)/2; i++ {
			u := binary.LittleEndian.Uint16(data[i*2:])
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int32(u)-32768))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported sample format %q", format)
	}
}

// floatToInt16 maps a float sample in [-1, 1] to int16, clamping outliers
func floatToInt16(v float32) int16 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	if v >= 1 {
		return math.MaxInt16
	}
	if v <= -1 {
		return -math.MaxInt16
	}
	return int16(v * math.MaxInt16)
}

// BytesToSamples decodes 16-bit little-endian PCM
func BytesToSamples(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, nil
}

// SamplesToBytes encodes samples as 16-bit little-endian PCM
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Resample converts 16-bit PCM between sample rates
func Resample(pcm []byte, inputRate, outputRate int) ([]byte, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d -> %d", inputRate, outputRate)
	}
	samples, err := BytesToSamples(pcm)
	if err != nil {
		return nil, err
	}
	return SamplesToBytes(resample(samples, inputRate, outputRate)), nil
}

// resample performs simple linear interpolation resampling
func resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// EncodeMulaw converts 16-bit little-endian PCM to G.711 mu-law, one byte
// per sample.
func EncodeMulaw(pcm []byte) ([]byte, error) {
	samples, err := BytesToSamples(pcm)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(samples))
	for i, sample := range samples {
		out[i] = linearToMulaw(sample)
	}
	return out, nil
}

// DecodeMulaw converts G.711 mu-law to 16-bit little-endian PCM
func DecodeMulaw(mulaw []byte) []byte {
	out := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(mulawToLinear(b)))
	}
	return out
}

// linearToMulaw converts a 16-bit linear PCM sample to 8-bit mu-law
// (ITU-T G.711). The sample is reduced to the 14-bit range first.
func linearToMulaw(sample int16) byte {
	const (
		clip = 8158 // Largest magnitude that still fits segment 7 after the bias
		bias = 0x21
	)

	var sign byte
	magnitude := int32(sample) >> 2
	if magnitude < 0 {
		sign = 0x80
		magnitude = -magnitude
	}
	if magnitude > clip {
		magnitude = clip
	}
	magnitude += bias

	// Segment is the position of the highest set bit above bit 5
	var segment byte
	for temp := magnitude >> 6; temp != 0 && segment < 7; temp >>= 1 {
		segment++
	}

	mantissa := byte((magnitude >> (segment + 1)) & 0x0F)
	return ^(sign | (segment << 4) | mantissa)
}

// mulawToLinear converts an 8-bit mu-law sample to 16-bit linear PCM
func mulawToLinear(mulawByte byte) int16 {
	mulawByte = ^mulawByte

	sign := mulawByte & 0x80
	segment := int32((mulawByte >> 4) & 0x07)
	mantissa := int32(mulawByte & 0x0F)

	magnitude := ((mantissa << (segment + 1)) + (int32(0x21) << segment) - 0x21) << 2
	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
