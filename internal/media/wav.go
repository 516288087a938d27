package media

import (
	"bytes"
	"encoding/binary"
)

// wavHeaderSize is the byte length of a canonical RIFF/WAVE header.
const wavHeaderSize = 44

// EncodeWAV renders float32 samples as 16-bit PCM mono WAV.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	dataLen := len(samples) * 2
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+dataLen))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))           // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	for _, s := range samples {
		binary.Write(buf, binary.LittleEndian, pcm16(s))
	}
	return buf.Bytes()
}

// pcm16 clamps and scales one sample to signed 16-bit.
func pcm16(s float32) int16 {
	v := s * 32767
	if v > 32767 {
		v = 32767
	}
	if v < -32768 {
		v = -32768
	}
	return int16(v)
}
