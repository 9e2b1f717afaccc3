package codec

import "encoding/base64"

// PartSize is the maximum number of base64 characters carried in a single
// part's bodyBase64 field (spec.md §4.7 step 1).
const PartSize = 32768

// Segment splits a request/response body into fixed-size base64 chunks. An
// empty body yields exactly one empty-string part.
func Segment(body []byte) []string {
	encoded := base64.StdEncoding.EncodeToString(body)
	if len(encoded) == 0 {
		return []string{""}
	}
	var parts []string
	for i := 0; i < len(encoded); i += PartSize {
		end := i + PartSize
		if end > len(encoded) {
			end = len(encoded)
		}
		parts = append(parts, encoded[i:end])
	}
	return parts
}

// Reassemble concatenates base64 parts in index order and decodes the
// result.
func Reassemble(parts []string) ([]byte, error) {
	joined := ""
	for _, p := range parts {
		joined += p
	}
	if joined == "" {
		return []byte{}, nil
	}
	return base64.StdEncoding.DecodeString(joined)
}
