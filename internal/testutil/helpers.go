package testutil

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"math/rand"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"

	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// GenerateRandomData generates random bytes of the specified size.
// This is useful for creating test data for uploads.
func GenerateRandomData(size int) []byte {
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	return data
}

// CalculateETag calculates the ETag the ObjectStore reports for data.
func CalculateETag(data []byte) string {
	h := md5.Sum(data)
	return fmt.Sprintf(`"%x"`, h)
}

// NewFile returns a File over random data of the given size.
func NewFile(id, name string, size int) (*uploadtypes.File, []byte) {
	data := GenerateRandomData(size)
	return &uploadtypes.File{
		ID:   id,
		Name: name,
		Type: "application/octet-stream",
		Size: int64(size),
		Data: bytes.NewReader(data),
	}, data
}

// NewMemFS returns an in-memory filesystem holding the given files.
func NewMemFS(t *testing.T, files map[string][]byte) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	for path, data := range files {
		f, err := fs.Create(path)
		if err != nil {
			t.Fatalf("creating %s: %v", path, err)
		}
		if _, err := f.Write(data); err != nil {
			t.Fatalf("writing %s: %v", path, err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("closing %s: %v", path, err)
		}
	}
	return fs
}
