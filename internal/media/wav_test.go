package media

import (
	"encoding/binary"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1}
	wav := EncodeWAV(samples, 16000)

	if len(wav) != wavHeaderSize+len(samples)*2 {
		t.Fatalf("len = %d, want %d", len(wav), wavHeaderSize+len(samples)*2)
	}
	if string(wav[0:4]) != "RIFF" {
		t.Errorf("bytes 0:4 = %q, want RIFF", wav[0:4])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(samples)*2) {
		t.Errorf("riff size = %d, want %d", got, 36+len(samples)*2)
	}
	if string(wav[8:12]) != "WAVE" {
		t.Errorf("bytes 8:12 = %q, want WAVE", wav[8:12])
	}
	if string(wav[12:16]) != "fmt " {
		t.Errorf("bytes 12:16 = %q, want 'fmt '", wav[12:16])
	}
	if got := binary.LittleEndian.Uint16(wav[20:22]); got != 1 {
		t.Errorf("audio format = %d, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Errorf("bits per sample = %d, want 16", got)
	}
	if string(wav[36:40]) != "data" {
		t.Errorf("bytes 36:40 = %q, want data", wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(samples)*2) {
		t.Errorf("data size = %d, want %d", got, len(samples)*2)
	}
}

func TestEncodeWAVSamples(t *testing.T) {
	wav := EncodeWAV([]float32{0, 1}, 16000)
	data := wav[wavHeaderSize:]

	if got := int16(binary.LittleEndian.Uint16(data[0:2])); got != 0 {
		t.Errorf("sample 0 = %d, want 0", got)
	}
	if got := int16(binary.LittleEndian.Uint16(data[2:4])); got != 32767 {
		t.Errorf("sample 1 = %d, want 32767", got)
	}
}

func TestPCM16(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{0.5, 16383},
		{2, 32767},
		{-2, -32768},
	}
	for _, tt := range tests {
		if got := pcm16(tt.in); got != tt.want {
			t.Errorf("pcm16(%f) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEncodeWAVEmpty(t *testing.T) {
	wav := EncodeWAV(nil, 16000)
	if len(wav) != wavHeaderSize {
		t.Errorf("len = %d, want header only (%d)", len(wav), wavHeaderSize)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 0 {
		t.Errorf("data size = %d, want 0", got)
	}
}
