package storage

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/wippyai/fxn"
	"github.com/wippyai/fxn/errors"
)

// HTTP downloads http(s) URLs and uploads with PUT to BaseURL/name.
type HTTP struct {
	BaseURL string
	client  *resty.Client
}

var _ fxn.Storage = (*HTTP)(nil)

// NewHTTP creates an HTTP store. An empty baseURL disables uploads.
func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	cl := resty.New()
	if timeout > 0 {
		cl.SetTimeout(timeout)
	}
	return &HTTP{BaseURL: strings.TrimRight(baseURL, "/"), client: cl}
}

// Upload sends r with PUT and returns the object URL.
func (h *HTTP) Upload(ctx context.Context, name string, r io.Reader, opts fxn.UploadOptions) (string, error) {
	if h.BaseURL == "" {
		return "", errors.NotImplemented(errors.PhaseTransport, "http storage has no upload URL")
	}
	target := h.BaseURL + "/" + strings.TrimLeft(name, "/")
	req := h.client.R().SetContext(ctx).SetBody(r)
	if opts.ContentType != "" {
		req.SetHeader("Content-Type", opts.ContentType)
	}
	resp, err := req.Put(target)
	if err != nil {
		return "", errors.Transport("upload "+target, err)
	}
	if resp.StatusCode() >= http.StatusMultipleChoices {
		return "", errors.New(errors.PhaseTransport, errors.KindTransport).
			Value(resp.StatusCode()).
			Detail("upload %s: %s", target, resp.Status()).
			Build()
	}
	return target, nil
}

// Download streams the body of a GET request.
func (h *HTTP) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := h.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, errors.Transport("download "+url, err)
	}
	body := resp.RawBody()
	if resp.StatusCode() >= http.StatusMultipleChoices {
		_ = body.Close()
		return nil, errors.New(errors.PhaseTransport, errors.KindTransport).
			Value(resp.StatusCode()).
			Detail("download %s: %s", url, resp.Status()).
			Build()
	}
	return body, nil
}
