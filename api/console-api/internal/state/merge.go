// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_state

// DeepMerge returns a new map with src laid over dst. Nested maps merge
// recursively; every other value in src replaces the one in dst.
func DeepMerge(dst, src map[string]interface{}) map[string]interface{} {
	out := CopyMap(dst)
	if out == nil {
		out = make(map[string]interface{}, len(src))
	}
	for k, v := range src {
		incoming, ok := v.(map[string]interface{})
		if !ok {
			out[k] = copyValue(v)
			continue
		}
		if existing, ok := out[k].(map[string]interface{}); ok {
			out[k] = DeepMerge(existing, incoming)
			continue
		}
		out[k] = CopyMap(incoming)
	}
	return out
}

// CopyMap deep-copies nested maps and slices decoded from JSON.
func CopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch vl := v.(type) {
	case map[string]interface{}:
		return CopyMap(vl)
	case []interface{}:
		out := make([]interface{}, len(vl))
		for i, item := range vl {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

func tradeID(trade map[string]interface{}) (interface{}, bool) {
	if trade == nil {
		return nil, false
	}
	id, ok := trade["id"]
	return id, ok && id != nil
}
