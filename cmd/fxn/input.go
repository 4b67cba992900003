package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/x448/float16"

	"github.com/wippyai/fxn/value"
)

// parseInputs turns name=value pairs into prediction inputs.
func parseInputs(pairs []string) (map[string]any, error) {
	inputs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, text, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("input %q: want name=value", pair)
		}
		v, err := parseValue(text)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		inputs[name] = v
	}
	return inputs, nil
}

// parseValue picks the narrowest interpretation of text: a file, a JSON list
// or dict, an integer, a float, a bool, or else a string.
func parseValue(text string) (any, error) {
	if path, ok := strings.CutPrefix(text, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	if strings.HasPrefix(text, "[") {
		var list []any
		if err := json.Unmarshal([]byte(text), &list); err != nil {
			return nil, fmt.Errorf("parse list: %w", err)
		}
		return list, nil
	}
	if strings.HasPrefix(text, "{") {
		var dict map[string]any
		if err := json.Unmarshal([]byte(text), &dict); err != nil {
			return nil, fmt.Errorf("parse dict: %w", err)
		}
		return dict, nil
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f, nil
	}
	if b, err := strconv.ParseBool(text); err == nil {
		return b, nil
	}
	return text, nil
}

// describe makes a result printable as JSON.
func describe(r any) any {
	switch v := r.(type) {
	case *value.Value:
		return map[string]any{"type": v.Dtype().String(), "shape": v.Shape(), "elements": v.Len()}
	case value.Bitmap:
		return map[string]any{"type": "image", "width": v.Width, "height": v.Height, "channels": v.Channels}
	case []byte:
		return map[string]any{"type": "binary", "bytes": len(v)}
	case float16.Float16:
		return v.Float32()
	case []float16.Float16:
		out := make([]float32, len(v))
		for i, h := range v {
			out[i] = h.Float32()
		}
		return out
	case value.Tensor:
		return map[string]any{"shape": v.Shape, "data": describe(v.Data)}
	default:
		return v
	}
}
