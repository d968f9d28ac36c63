package files

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"wisdomchat/pkg/logger"
	"wisdomchat/pkg/models"
)

// LocalStore writes uploaded attachments under a local directory and
// serves them from /uploads/.
type LocalStore struct {
	Dir      string
	MaxBytes int64
}

var uploadSeq uint64

func NewLocalStore(dir string, maxBytes int64) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("uploads directory not configured")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = 25 << 20 // 25 MiB
	}
	return &LocalStore{Dir: dir, MaxBytes: maxBytes}, nil
}

// Save streams the reader to disk under a sanitized unique name and
// returns the attachment record. Uploads over MaxBytes are rejected and
// the partial file removed.
func (s *LocalStore) Save(fileName string, r io.Reader) (models.Attachment, error) {
	base := sanitize(fileName)
	stored := fmt.Sprintf("%d-%d-%s", time.Now().UTC().UnixNano(), atomic.AddUint64(&uploadSeq, 1), base)
	path := filepath.Join(s.Dir, stored)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("create upload file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, s.MaxBytes+1))
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return models.Attachment{}, fmt.Errorf("write upload: %w", err)
	}
	if n > s.MaxBytes {
		_ = os.Remove(path)
		return models.Attachment{}, fmt.Errorf("upload exceeds %d bytes", s.MaxBytes)
	}

	ft := mime.TypeByExtension(filepath.Ext(base))
	if ft == "" {
		ft = "application/octet-stream"
	}
	logger.Debug("upload_stored", "file", stored, "bytes", n)
	return models.Attachment{
		URI:      "/uploads/" + stored,
		FileType: ft,
		FileName: base,
	}, nil
}

// sanitize strips path components and characters unsafe for filenames.
func sanitize(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || name == "." || name == ".." {
		name = "file"
	}
	return name
}
