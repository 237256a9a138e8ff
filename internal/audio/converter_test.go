package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestParseSampleFormat(t *testing.T) {
	for _, name := range []string{"s16le", "f32le", "u16le"} {
		if _, err := ParseSampleFormat(name); err != nil {
			t.Errorf("ParseSampleFormat(%q) error = %v", name, err)
		}
	}
	if _, err := ParseSampleFormat("s24le"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestToLinear16_F32(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, 2, -3}
	data := make([]byte, len(in)*4)
	for i, v := range in {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}

	out, err := ToLinear16(data, FormatF32LE)
	if err != nil {
		t.Fatalf("ToLinear16 failed: %v", err)
	}
	samples, err := BytesToSamples(out)
	if err != nil {
		t.Fatalf("BytesToSamples failed: %v", err)
	}

	expected := []int16{0, 32767, -32767, 16383, 32767, -32767}
	if len(samples) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(samples))
	}
	for i := range expected {
		if samples[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], samples[i])
		}
	}
}

func TestToLinear16_U16(t *testing.T) {
	data := make([]byte, 6)
	binary.LittleEndian.PutUint16(data[0:], 0)
	binary.LittleEndian.PutUint16(data[2:], 32768)
	binary.LittleEndian.PutUint16(data[4:], 65535)

	out, err := ToLinear16(data, FormatU16LE)
	if err != nil {
		t.Fatalf("ToLinear16 failed: %v", err)
	}
	samples, _ := BytesToSamples(out)

	expected := []int16{-32768, 0, 32767}
	for i := range expected {
		if samples[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], samples[i])
		}
	}
}

func TestToLinear16_S16Copies(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	out, err := ToLinear16(data, FormatS16LE)
	if err != nil {
		t.Fatalf("ToLinear16 failed: %v", err)
	}
	out[0] = 9
	if data[0] != 1 {
		t.Error("Expected ToLinear16 to copy its input")
	}
}

func TestToLinear16_PartialSample(t *testing.T) {
	if _, err := ToLinear16([]byte{1, 2, 3}, FormatF32LE); err == nil {
		t.Error("Expected error for truncated f32 sample")
	}
	if _, err := ToLinear16([]byte{1}, FormatS16LE); err == nil {
		t.Error("Expected error for truncated s16 sample")
	}
}

func TestEncodeMulaw(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}
	out, err := EncodeMulaw(SamplesToBytes(samples))
	if err != nil {
		t.Fatalf("EncodeMulaw failed: %v", err)
	}
	if len(out) != len(samples) {
		t.Errorf("Expected %d bytes, got %d", len(samples), len(out))
	}

	// Silence encodes to 0xFF in G.711 mu-law
	if out[0] != 0xFF {
		t.Errorf("Expected 0xFF for silence, got %#x", out[0])
	}
	if out[3] != 0x80 || out[4] != 0x00 {
		t.Errorf("Expected full scale to encode to 0x80/0x00, got %#x/%#x", out[3], out[4])
	}

	if _, err := EncodeMulaw([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length PCM")
	}
}

func TestMulaw_RoundTrip(t *testing.T) {
	for _, sample := range []int16{-32768, -16000, -4096, -1000, -1, 0, 1, 100, 1000, 4096, 16000, 32767} {
		recovered := mulawToLinear(linearToMulaw(sample))

		diff := int32(sample) - int32(recovered)
		if diff < 0 {
			diff = -diff
		}
		abs := int32(sample)
		if abs < 0 {
			abs = -abs
		}
		// mu-law is lossy: about 1/16 relative error plus the smallest step
		if tolerance := abs/8 + 16; diff > tolerance {
			t.Errorf("Round-trip for %d recovered %d (diff %d, tolerance %d)", sample, recovered, diff, tolerance)
		}
	}
}

func TestDecodeMulaw(t *testing.T) {
	pcm := DecodeMulaw([]byte{0xFF, 0x7F})
	if len(pcm) != 4 {
		t.Fatalf("Expected 4 bytes, got %d", len(pcm))
	}
	samples, _ := BytesToSamples(pcm)
	if samples[0] != 0 || samples[1] != 0 {
		t.Errorf("Expected silence for 0xFF and 0x7F, got %v", samples)
	}
}

func TestResample(t *testing.T) {
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = int16(i * 100)
	}

	out, err := Resample(SamplesToBytes(samples), 8000, 16000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(out) != 400 {
		t.Errorf("Expected 200 samples (400 bytes), got %d bytes", len(out))
	}

	out, err = Resample(SamplesToBytes(samples), 16000, 8000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(out) != 100 {
		t.Errorf("Expected 50 samples (100 bytes), got %d bytes", len(out))
	}

	if _, err := Resample(SamplesToBytes(samples), 0, 8000); err == nil {
		t.Error("Expected error for zero input rate")
	}
}

func TestBytesToSamples(t *testing.T) {
	samples, err := BytesToSamples([]byte{0x01, 0x00, 0xFF, 0xFF})
	if err != nil {
		t.Fatalf("BytesToSamples failed: %v", err)
	}
	if len(samples) != 2 || samples[0] != 1 || samples[1] != -1 {
		t.Errorf("Expected [1 -1], got %v", samples)
	}

	if _, err := BytesToSamples([]byte{1}); err == nil {
		t.Error("Expected error for odd-length input")
	}
}

func TestCalculateRMS(t *testing.T) {
	rms := CalculateRMS([]int16{1000, -1000, 1000, -1000})
	if math.Abs(rms-1000) > 0.001 {
		t.Errorf("Expected RMS 1000, got %f", rms)
	}

	if CalculateRMS(nil) != 0 {
		t.Error("Expected RMS 0 for empty input")
	}
}
