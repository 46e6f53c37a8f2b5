package testsupport

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// SilentWAVSampleRate matches the 16 kHz mono format uploads are normalized to.
const SilentWAVSampleRate = 16000

// SilentWAV returns a 16-bit mono PCM WAV of the given duration containing
// only silence. A non-positive duration yields a header with no samples.
func SilentWAV(duration time.Duration) []byte {
	samples := 0
	if duration > 0 {
		samples = int(duration.Seconds() * SilentWAVSampleRate)
	}
	dataSize := uint32(samples * 2)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVEfmt ")
	fields := []any{
		uint32(16),                      // fmt chunk size
		uint16(1),                       // PCM
		uint16(1),                       // mono
		uint32(SilentWAVSampleRate),     // sample rate
		uint32(SilentWAVSampleRate * 2), // byte rate
		uint16(2),                       // block align
		uint16(16),                      // bits per sample
	}
	for _, field := range fields {
		_ = binary.Write(&buf, binary.LittleEndian, field)
	}
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(make([]byte, dataSize))
	return buf.Bytes()
}

// WriteSilentWAV writes SilentWAV(duration) to path, creating parent
// directories as needed.
func WriteSilentWAV(t testing.TB, path string, duration time.Duration) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, SilentWAV(duration), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
