package predictor

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"slices"

	"github.com/google/uuid"

	"github.com/wippyai/fxn"
	"github.com/wippyai/fxn/api"
	"github.com/wippyai/fxn/errors"
	"github.com/wippyai/fxn/value"
)

// toValues converts named host inputs in sorted key order. Inputs are
// borrowed, so they must not change until the call returns.
func toValues(inputs map[string]any) (*value.Map, error) {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	m := value.NewMap()
	for _, k := range keys {
		v, err := value.FromHost(inputs[k], value.FlagNone)
		if err != nil {
			_ = m.Release()
			var e *errors.Error
			if stderrors.As(err, &e) && e.Kind == errors.KindTypeError {
				e.Path = append([]string{k}, e.Path...)
			}
			return nil, err
		}
		if err := m.Set(k, v); err != nil {
			_ = m.Release()
			return nil, err
		}
	}
	return m, nil
}

// encode builds the wire inputs. Values up to the data URL limit are inlined;
// larger ones are uploaded.
func (s *Service) encode(ctx context.Context, values *value.Map) (map[string]api.Value, error) {
	wire := make(map[string]api.Value, values.Len())
	for _, k := range values.Keys() {
		v, err := values.Get(k)
		if err != nil {
			return nil, err
		}
		data, err := v.Bytes()
		if err != nil {
			return nil, err
		}

		url := api.EncodeDataURL(data)
		if len(data) > s.dataURLLimit {
			url, err = s.upload(ctx, k, data)
			if err != nil {
				return nil, err
			}
		}
		wire[k] = api.Value{Data: url, Type: v.Dtype(), Shape: v.Shape()}
	}
	return wire, nil
}

func (s *Service) upload(ctx context.Context, name string, data []byte) (string, error) {
	if s.storage == nil {
		return "", errors.New(errors.PhaseDispatch, errors.KindInvalidOperation).
			Path(name).
			Detail("input of %d bytes exceeds the data URL limit and no storage is configured", len(data)).
			Build()
	}
	return s.storage.Upload(ctx, uuid.NewString()+"_"+name, bytes.NewReader(data), fxn.UploadOptions{
		Type:        fxn.UploadValue,
		ContentType: "application/octet-stream",
		Size:        int64(len(data)),
	})
}

// decode converts remote results, fetching any that were not inlined.
func (s *Service) decode(ctx context.Context, results []api.Value, raw bool) ([]any, error) {
	out := make([]any, 0, len(results))
	release := func() {
		if !raw {
			return
		}
		for _, r := range out {
			_ = r.(*value.Value).Release()
		}
	}

	for _, r := range results {
		data, err := s.fetch(ctx, r.Data)
		if err != nil {
			release()
			return nil, err
		}
		v, err := value.FromBytes(r.Type, data, r.Shape, value.FlagNone)
		if err != nil {
			release()
			return nil, err
		}
		if raw {
			out = append(out, v)
			continue
		}
		host, err := v.ToHost()
		_ = v.Release()
		if err != nil {
			return nil, err
		}
		out = append(out, host)
	}
	return out, nil
}

func (s *Service) fetch(ctx context.Context, url string) ([]byte, error) {
	switch {
	case url == "":
		return nil, nil
	case api.IsDataURL(url):
		return api.DecodeDataURL(url)
	case s.storage == nil:
		return nil, errors.NotFound(errors.PhaseDispatch, "storage for result", url)
	}

	body, err := s.storage.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Transport("read result "+url, err)
	}
	return data, nil
}

// hostResults converts and consumes a local output map.
func hostResults(m *value.Map, raw bool) ([]any, error) {
	defer m.Release()

	out := make([]any, 0, m.Len())
	for _, k := range m.Keys() {
		if raw {
			v, err := m.Withdraw(k)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
			continue
		}
		v, err := m.Get(k)
		if err != nil {
			return nil, err
		}
		host, err := v.ToHost()
		if err != nil {
			return nil, err
		}
		out = append(out, host)
	}
	return out, nil
}
