package fxn

import (
	"context"
	"io"
)

// UploadType says what an upload holds.
type UploadType string

const (
	UploadValue    UploadType = "value"
	UploadResource UploadType = "resource"
)

// UploadOptions describe an upload.
type UploadOptions struct {
	Type        UploadType
	ContentType string
	Size        int64
}

// Storage moves large payloads to and from remote storage.
type Storage interface {
	// Upload stores r under name and returns a URL from which it can be downloaded.
	Upload(ctx context.Context, name string, r io.Reader, opts UploadOptions) (string, error)

	// Download opens the payload at url. The caller closes the reader.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}
