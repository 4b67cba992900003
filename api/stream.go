package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/wippyai/fxn/errors"
)

const maxRecordSize = 32 << 20

// Stream is a sequence of prediction records read from a streamed response.
// Records are either server-sent events (data: lines) or newline-delimited
// JSON.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	event   bytes.Buffer
}

func newStream(body io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	return &Stream{body: body, scanner: scanner}
}

// Next returns the next record, or io.EOF once the stream has closed.
func (s *Stream) Next() (*Prediction, error) {
	for s.scanner.Scan() {
		line := bytes.TrimRight(s.scanner.Bytes(), "\r")
		switch {
		case len(line) == 0:
			if s.event.Len() > 0 {
				return s.flush()
			}
		case line[0] == ':':
		case bytes.HasPrefix(line, []byte("data:")):
			if s.event.Len() > 0 {
				s.event.WriteByte('\n')
			}
			s.event.Write(bytes.TrimSpace(line[len("data:"):]))
		case bytes.HasPrefix(line, []byte("event:")), bytes.HasPrefix(line, []byte("id:")), bytes.HasPrefix(line, []byte("retry:")):
		default:
			return decodeRecord(line)
		}
	}
	if err := s.scanner.Err(); err != nil {
		return nil, errors.Transport("read prediction stream", err)
	}
	if s.event.Len() > 0 {
		return s.flush()
	}
	return nil, io.EOF
}

func (s *Stream) flush() (*Prediction, error) {
	data := bytes.Clone(s.event.Bytes())
	s.event.Reset()
	return decodeRecord(data)
}

// Close releases the underlying response.
func (s *Stream) Close() error {
	return s.body.Close()
}

func decodeRecord(data []byte) (*Prediction, error) {
	var p Prediction
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.New(errors.PhaseTransport, errors.KindInvalidData).
			Cause(err).
			Detail("decode prediction record").
			Build()
	}
	return &p, nil
}

func responseError(status int, body []byte) error {
	if status < http.StatusMultipleChoices {
		return nil
	}
	msg := http.StatusText(status)
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && len(eb.Errors) > 0 && eb.Errors[0].Message != "" {
		msg = eb.Errors[0].Message
	}
	return errors.New(errors.PhaseTransport, errors.KindTransport).
		Value(status).
		Detail("%d: %s", status, msg).
		Build()
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, 1<<20))
}

func asError(err error, target **errors.Error) bool {
	return stderrors.As(err, target)
}
