package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/wippyai/fxn/errors"
)

// DefaultURL is the production API endpoint.
const DefaultURL = "https://api.fxn.ai/v1"

// Options configure a Client.
type Options struct {
	URL        string
	AccessKey  string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// Client calls the remote prediction endpoint.
type Client struct {
	http  *resty.Client
	retry retrypolicy.RetryPolicy[any]
}

// NewClient creates a client. Zero options fall back to DefaultURL and no retries.
func NewClient(opts Options) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}

	cl := resty.New().
		SetBaseURL(opts.URL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if opts.Timeout > 0 {
		cl.SetTimeout(opts.Timeout)
	}
	if opts.AccessKey != "" {
		cl.SetAuthToken(opts.AccessKey)
	}

	c := &Client{http: cl}
	if opts.Retries > 0 {
		c.retry = retrypolicy.Builder[any]().
			WithMaxRetries(opts.Retries).
			WithBackoff(opts.RetryDelay, 10*opts.RetryDelay).
			HandleIf(func(_ any, err error) bool {
				return retryable(err)
			}).
			OnRetry(func(e failsafe.ExecutionEvent[any]) {
				Logger().Debug("retrying request",
					zap.Int("attempt", e.Attempts()),
					zap.Error(e.LastError()))
			}).
			Build()
	}
	return c
}

// CreatePrediction creates a prediction and waits for the result.
func (c *Client) CreatePrediction(ctx context.Context, in CreatePredictionInput) (*Prediction, error) {
	var out *Prediction
	err := c.do(ctx, func() error {
		var result Prediction
		resp, err := c.request(ctx, in).
			SetResult(&result).
			Post(predictPath(in.Tag))
		if err != nil {
			return errors.Transport("create prediction", err)
		}
		if err := responseError(resp.StatusCode(), resp.Body()); err != nil {
			return err
		}
		out = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	Logger().Debug("created prediction",
		zap.String("tag", in.Tag),
		zap.String("id", out.ID),
		zap.String("type", string(out.Type)))
	return out, nil
}

// StreamPrediction creates a prediction and returns its stream of partial
// records. The caller must close the stream.
func (c *Client) StreamPrediction(ctx context.Context, in CreatePredictionInput) (*Stream, error) {
	var stream *Stream
	err := c.do(ctx, func() error {
		resp, err := c.request(ctx, in).
			SetQueryParam("stream", "true").
			SetHeader("Accept", "text/event-stream").
			SetDoNotParseResponse(true).
			Post(predictPath(in.Tag))
		if err != nil {
			return errors.Transport("stream prediction", err)
		}
		body := resp.RawBody()
		if resp.StatusCode() >= http.StatusMultipleChoices {
			data, _ := readAll(body)
			_ = body.Close()
			return responseError(resp.StatusCode(), data)
		}
		stream = newStream(body)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (c *Client) request(ctx context.Context, in CreatePredictionInput) *resty.Request {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("rawOutputs", "true").
		SetBody(inputsBody(in.Inputs))
	if in.DataURLLimit > 0 {
		req.SetQueryParam("dataUrlLimit", strconv.Itoa(in.DataURLLimit))
	}
	if in.ClientID != "" {
		req.SetHeader("fxn-client", in.ClientID)
	}
	return req
}

// do runs fn under the retry policy, returning fn's last error rather than the
// policy's exceeded error.
func (c *Client) do(ctx context.Context, fn func() error) error {
	if c.retry == nil {
		return fn()
	}
	var last error
	err := failsafe.Run(func() error {
		if err := ctx.Err(); err != nil {
			last = errors.Transport("request canceled", err)
			return nil
		}
		last = fn()
		return last
	}, c.retry)
	if last != nil {
		return last
	}
	return err
}

func predictPath(tag string) string {
	return "/predict/" + tag
}

func inputsBody(inputs map[string]Value) map[string]Value {
	if inputs == nil {
		return map[string]Value{}
	}
	return inputs
}

func retryable(err error) bool {
	var e *errors.Error
	if !asError(err, &e) || e.Kind != errors.KindTransport {
		return false
	}
	status, ok := e.Value.(int)
	return !ok || status >= http.StatusInternalServerError
}
