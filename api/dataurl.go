package api

import (
	"encoding/base64"
	"strings"

	"github.com/wippyai/fxn/errors"
)

const octetStream = "application/octet-stream"

// EncodeDataURL encodes data as a base64 data: URL.
func EncodeDataURL(data []byte) string {
	return "data:" + octetStream + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// IsDataURL reports whether s is a data: URL.
func IsDataURL(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// DecodeDataURL returns the payload of a data: URL.
func DecodeDataURL(s string) ([]byte, error) {
	if !IsDataURL(s) {
		return nil, errors.InvalidData(errors.PhaseUnmarshal, nil, "not a data URL")
	}
	header, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return nil, errors.InvalidData(errors.PhaseUnmarshal, nil, "data URL has no payload")
	}
	if strings.HasSuffix(header, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, errors.New(errors.PhaseUnmarshal, errors.KindInvalidData).
				Cause(err).
				Detail("data URL payload").
				Build()
		}
		return data, nil
	}
	return []byte(payload), nil
}
