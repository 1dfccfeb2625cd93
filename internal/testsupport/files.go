package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// WriteImage writes a file named name under dir that starts with a PNG
// signature and is padded to size bytes. A size smaller than the signature
// writes the signature alone. The full path is returned.
func WriteImage(t testing.TB, dir, name string, size int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	content := append([]byte(nil), pngSignature...)
	if pad := size - len(content); pad > 0 {
		content = append(content, bytes.Repeat([]byte{0x42}, pad)...)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
