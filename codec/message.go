package codec

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RequestMessage is the inner HTTP request payload (spec.md §3), carried as
// the content of a kind-80 event. Method/Url/Headers are only present (and
// required) on part 0.
type RequestMessage struct {
	ID          string            `json:"id"`
	PartIndex   uint              `json:"partIndex"`
	Parts       uint              `json:"parts"`
	BodyBase64  string            `json:"bodyBase64"`
	Method      string            `json:"method,omitempty"`
	Url         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ResponseMessage is the inner HTTP response payload, carried as the content
// of a kind-81 event. Status/Headers are only present (and required) on part
// 0.
type ResponseMessage struct {
	ID         string            `json:"id"`
	PartIndex  uint              `json:"partIndex"`
	Parts      uint              `json:"parts"`
	BodyBase64 string            `json:"bodyBase64"`
	Status     int               `json:"status,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

const maxInnerIDLen = 100

// MaxSafeInteger mirrors JavaScript's Number.isSafeInteger bound (2^53 - 1,
// not 2^53), per spec.md §9's stated contract for the response status
// field.
const MaxSafeInteger = (int64(1) << 53) - 1

// ParseResponseMessage decodes and validates an inner response message per
// spec.md §4.5 step 9: reject if partIndex==0 and status is not a safe
// integer or headers is not a map of strings.
func ParseResponseMessage(content string) (*ResponseMessage, error) {
	var raw struct {
		ID         string          `json:"id"`
		PartIndex  uint            `json:"partIndex"`
		Parts      uint            `json:"parts"`
		BodyBase64 string          `json:"bodyBase64"`
		Status     json.Number     `json:"status"`
		Headers    json.RawMessage `json:"headers"`
	}
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse response message: %w", err)
	}
	if raw.ID == "" || len(raw.ID) > maxInnerIDLen {
		return nil, fmt.Errorf("invalid response id length %d", len(raw.ID))
	}
	if raw.Parts < 1 {
		return nil, fmt.Errorf("parts must be >= 1")
	}
	m := &ResponseMessage{
		ID:         raw.ID,
		PartIndex:  raw.PartIndex,
		Parts:      raw.Parts,
		BodyBase64: raw.BodyBase64,
	}
	if m.PartIndex == 0 {
		if raw.Status == "" {
			return nil, fmt.Errorf("part 0 missing status")
		}
		status, err := raw.Status.Int64()
		if err != nil || status < -MaxSafeInteger || status > MaxSafeInteger {
			return nil, fmt.Errorf("status is not a safe integer")
		}
		m.Status = int(status)
		if len(raw.Headers) == 0 {
			return nil, fmt.Errorf("part 0 missing headers")
		}
		var headers map[string]json.RawMessage
		if err = json.Unmarshal(raw.Headers, &headers); err != nil {
			return nil, fmt.Errorf("headers is not a map: %w", err)
		}
		m.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			var s string
			if err = json.Unmarshal(v, &s); err != nil {
				return nil, fmt.Errorf("headers value for %q is not a string: %w", k, err)
			}
			m.Headers[k] = s
		}
	}
	return m, nil
}
