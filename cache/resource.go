package cache

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/fxn"
	"github.com/wippyai/fxn/api"
	"github.com/wippyai/fxn/errors"
)

// CachedResource is a resource file available on local disk.
type CachedResource struct {
	Type string
	URL  string
	Path string
}

// ResourceCache downloads predictor resources into a directory, one file per
// final URL path segment. A file that already exists is used as is.
type ResourceCache struct {
	dir       string
	storage   fxn.Storage
	group     singleflight.Group
	downloads atomic.Int64
}

// NewResourceCache creates a resource cache in dir that downloads through storage.
func NewResourceCache(dir string, storage fxn.Storage) *ResourceCache {
	return &ResourceCache{dir: dir, storage: storage}
}

// Dir returns the cache directory.
func (c *ResourceCache) Dir() string {
	return c.dir
}

// Downloads returns how many files were downloaded.
func (c *ResourceCache) Downloads() int64 {
	return c.downloads.Load()
}

// Path returns the local path a resource URL maps to.
func (c *ResourceCache) Path(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrap(errors.PhaseResource, errors.KindInvalidArgument, err, "parse resource URL")
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" || name == ".." {
		return "", errors.InvalidArgument(errors.PhaseResource, "resource URL has no file name: "+rawURL)
	}
	return filepath.Join(c.dir, name), nil
}

// Retrieve returns the local copy of r, downloading it on first use.
// Concurrent retrievals of the same destination share one download.
func (c *ResourceCache) Retrieve(ctx context.Context, r api.Resource) (CachedResource, error) {
	dst, err := c.Path(r.URL)
	if err != nil {
		return CachedResource{}, err
	}
	res := CachedResource{Type: r.Type, URL: r.URL, Path: dst}
	if exists(dst) {
		return res, nil
	}

	_, err, _ = c.group.Do(dst, func() (any, error) {
		if exists(dst) {
			return nil, nil
		}
		return nil, c.download(ctx, r.URL, dst)
	})
	if err != nil {
		return CachedResource{}, err
	}
	return res, nil
}

func (c *ResourceCache) download(ctx context.Context, rawURL, dst string) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return errors.Resource(c.dir, err)
	}

	body, err := c.storage.Download(ctx, rawURL)
	if err != nil {
		if errors.KindOf(err) == "" {
			err = errors.Transport("download "+rawURL, err)
		}
		return err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(c.dir, filepath.Base(dst)+".*.part")
	if err != nil {
		return errors.Resource(dst, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Resource(dst, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return errors.Resource(dst, err)
	}

	c.downloads.Add(1)
	Logger().Info("downloaded resource",
		zap.String("url", rawURL),
		zap.String("path", dst),
		zap.Int64("bytes", n))
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
