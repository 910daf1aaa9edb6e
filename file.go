package upload

import (
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// DefaultContentType is used when the content type cannot be detected.
const DefaultContentType = "application/octet-stream"

// OpenFile opens a file of fs for upload. The content type is sniffed from the
// first bytes and falls back to the extension. The caller must close the
// returned closer once the upload resolved.
func OpenFile(fs billy.Filesystem, path string) (*uploadtypes.File, io.Closer, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return nil, nil, errors.Invalid("open", "stat %s: %v", path, err)
	}
	if info.IsDir() {
		return nil, nil, errors.Invalid("open", "%s is a directory", path)
	}

	f, err := fs.Open(path)
	if err != nil {
		return nil, nil, errors.Invalid("open", "open %s: %v", path, err)
	}

	return &uploadtypes.File{
		ID:   uuid.NewString(),
		Name: filepath.Base(path),
		Type: detectContentType(f, path),
		Size: info.Size(),
		Meta: map[string]string{"name": filepath.Base(path)},
		Data: f,
	}, f, nil
}

func detectContentType(r io.ReaderAt, path string) string {
	buf := make([]byte, 512)
	n, _ := r.ReadAt(buf, 0)
	if n > 0 {
		if mt := mimetype.Detect(buf[:n]); mt != nil && mt.String() != DefaultContentType {
			return mt.String()
		}
	}

	if ext := strings.ToLower(filepath.Ext(path)); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			return byExt
		}
	}
	return DefaultContentType
}
