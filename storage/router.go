package storage

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/wippyai/fxn"
	"github.com/wippyai/fxn/api"
	"github.com/wippyai/fxn/errors"
)

// Router uploads to one backend and downloads by URL scheme. data: URLs are
// decoded inline.
type Router struct {
	upload    fxn.Storage
	downloads map[string]fxn.Storage
}

var _ fxn.Storage = (*Router)(nil)

// NewRouter creates a router that uploads to upload. A nil upload backend
// rejects uploads.
func NewRouter(upload fxn.Storage) *Router {
	return &Router{upload: upload, downloads: make(map[string]fxn.Storage)}
}

// Handle routes downloads of URLs with the given scheme to s.
func (r *Router) Handle(scheme string, s fxn.Storage) *Router {
	r.downloads[strings.ToLower(scheme)] = s
	return r
}

// Upload delegates to the upload backend.
func (r *Router) Upload(ctx context.Context, name string, body io.Reader, opts fxn.UploadOptions) (string, error) {
	if r.upload == nil {
		return "", errors.NotImplemented(errors.PhaseTransport, "no upload storage configured")
	}
	return r.upload.Upload(ctx, name, body, opts)
}

// Download picks a backend by the URL's scheme.
func (r *Router) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if api.IsDataURL(rawURL) {
		data, err := api.DecodeDataURL(rawURL)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseTransport, errors.KindInvalidArgument, err, "parse URL")
	}
	s, ok := r.downloads[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, errors.NotFound(errors.PhaseTransport, "storage for scheme", u.Scheme)
	}
	return s.Download(ctx, rawURL)
}
