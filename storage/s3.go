package storage

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/wippyai/fxn"
	"github.com/wippyai/fxn/errors"
)

const presignTTL = 10 * time.Minute

// Bucket is the S3 bucket payloads are stored in.
type Bucket struct {
	Name   string
	Region string
	Prefix string
}

// S3 stores payloads in an S3 bucket. Uploads stream through a presigned PUT
// and return a presigned GET URL, so the remote endpoint can fetch them without
// credentials. s3:// URLs are downloaded with GetObject.
type S3 struct {
	bucket Bucket
	s3     *s3.S3
	http   *resty.Client
}

var _ fxn.Storage = (*S3)(nil)

// NewS3 creates an S3 store using the default credential chain.
func NewS3(bucket Bucket) (*S3, error) {
	sess, err := session.NewSession(aws.NewConfig().WithRegion(bucket.Region))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, "create aws session")
	}
	return NewS3WithSession(bucket, sess), nil
}

// NewS3WithSession creates an S3 store over an existing session.
func NewS3WithSession(bucket Bucket, sess *session.Session) *S3 {
	return &S3{
		bucket: bucket,
		s3:     s3.New(sess),
		http:   resty.New(),
	}
}

func (s *S3) key(name string) string {
	return path.Join(s.bucket.Prefix, name)
}

// Upload streams r to the bucket and returns a presigned download URL.
func (s *S3) Upload(ctx context.Context, name string, r io.Reader, opts fxn.UploadOptions) (string, error) {
	key := s.key(name)

	put, _ := s.s3.PutObjectRequest(&s3.PutObjectInput{
		Bucket: aws.String(s.bucket.Name),
		Key:    aws.String(key),
	})
	putURL, err := put.Presign(presignTTL)
	if err != nil {
		return "", errors.Transport("presign upload", err)
	}

	// presigned PUTs need a Content-Length, so the payload is buffered
	data, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Transport("read upload "+key, err)
	}
	req := s.http.R().SetContext(ctx).SetBody(data)
	if opts.ContentType != "" {
		req.SetHeader("Content-Type", opts.ContentType)
	}
	resp, err := req.Put(putURL)
	if err != nil {
		return "", errors.Transport("upload "+key, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", errors.New(errors.PhaseTransport, errors.KindTransport).
			Value(resp.StatusCode()).
			Detail("upload %s (code: %d): %s", key, resp.StatusCode(), resp.Body()).
			Build()
	}

	get, _ := s.s3.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket.Name),
		Key:    aws.String(key),
	})
	getURL, err := get.Presign(presignTTL)
	if err != nil {
		return "", errors.Transport("presign download", err)
	}
	Logger().Debug("uploaded payload", zap.String("bucket", s.bucket.Name), zap.String("key", key))
	return getURL, nil
}

// Download reads an s3://bucket/key URL.
func (s *S3) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "s3" {
		return nil, errors.InvalidArgument(errors.PhaseTransport, "not an s3 URL: "+rawURL)
	}
	out, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(strings.TrimPrefix(u.Path, "/")),
	})
	if err != nil {
		return nil, errors.Transport("get "+rawURL, err)
	}
	return out.Body, nil
}
