// Package api is the client for the remote prediction endpoint.
package api

import (
	"strings"
	"time"

	"github.com/wippyai/fxn/errors"
	"github.com/wippyai/fxn/value"
)

// Acceleration is the preferred hardware for local predictions.
type Acceleration int32

const (
	AccelerationAuto Acceleration = 0
	AccelerationCPU  Acceleration = 1 << 0
	AccelerationGPU  Acceleration = 1 << 1
	AccelerationNPU  Acceleration = 1 << 2
)

func (a Acceleration) String() string {
	switch a {
	case AccelerationAuto:
		return "auto"
	case AccelerationCPU:
		return "cpu"
	case AccelerationGPU:
		return "gpu"
	case AccelerationNPU:
		return "npu"
	}
	return "unknown"
}

// ParseAcceleration parses "auto", "cpu", "gpu" or "npu".
func ParseAcceleration(s string) (Acceleration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return AccelerationAuto, nil
	case "cpu":
		return AccelerationCPU, nil
	case "gpu":
		return AccelerationGPU, nil
	case "npu":
		return AccelerationNPU, nil
	}
	return AccelerationAuto, errors.New(errors.PhaseConfig, errors.KindInvalidArgument).
		Value(s).
		Detail("unknown acceleration %q", s).
		Build()
}

// PredictionType is where a prediction executes.
type PredictionType string

const (
	Cloud PredictionType = "CLOUD"
	Edge  PredictionType = "EDGE"
)

// Resource is a file a local predictor needs.
type Resource struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// Value is a tagged value on the wire. Data is a data: URL for inline values
// or a storage URL for uploaded ones.
type Value struct {
	Data  string      `json:"data,omitempty"`
	Type  value.Dtype `json:"type"`
	Shape []int       `json:"shape,omitempty"`
}

// Prediction is a prediction record returned by the endpoint.
type Prediction struct {
	ID            string         `json:"id"`
	Tag           string         `json:"tag"`
	Type          PredictionType `json:"type"`
	Created       time.Time      `json:"created"`
	Configuration string         `json:"configuration,omitempty"`
	Resources     []Resource     `json:"resources,omitempty"`
	Results       []Value        `json:"results,omitempty"`
	Latency       float64        `json:"latency,omitempty"`
	Error         string         `json:"error,omitempty"`
	Logs          string         `json:"logs,omitempty"`
}

// CreatePredictionInput describes a prediction request.
type CreatePredictionInput struct {
	Tag          string
	Inputs       map[string]Value
	DataURLLimit int
	ClientID     string
}

type errorBody struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}
