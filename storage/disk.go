// Package storage implements fxn.Storage over local disk, S3 and HTTP.
package storage

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wippyai/fxn"
	"github.com/wippyai/fxn/errors"
)

// Disk stores payloads under a local directory and addresses them with
// file:// URLs.
type Disk struct {
	Dir string
}

var _ fxn.Storage = (*Disk)(nil)

// NewDisk creates a disk store rooted at dir.
func NewDisk(dir string) *Disk {
	return &Disk{Dir: dir}
}

// Upload writes r to Dir/name, creating sub-directories as needed.
func (d *Disk) Upload(ctx context.Context, name string, r io.Reader, _ fxn.UploadOptions) (string, error) {
	if !filepath.IsLocal(name) {
		return "", errors.InvalidArgument(errors.PhaseTransport, "upload name escapes storage directory: "+name)
	}
	path := filepath.Join(d.Dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Transport("create upload directory", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return "", errors.Transport("create upload file", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, readerWithContext(ctx, r)); err != nil {
		return "", errors.Transport("write upload file", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Transport("resolve upload path", err)
	}
	Logger().Debug("stored payload", zap.String("path", abs))
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// Download opens a file:// URL.
func (d *Disk) Download(_ context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "file" {
		return nil, errors.InvalidArgument(errors.PhaseTransport, "not a file URL: "+rawURL)
	}
	file, err := os.Open(filepath.FromSlash(u.Path))
	if err != nil {
		return nil, errors.Transport("open "+u.Path, err)
	}
	return file, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
