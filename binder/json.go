package binder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// maxBodySize caps request bodies at 1 MiB. Billing payloads are tiny; a
// larger body is either a mistake or abuse.
const maxBodySize = 1 << 20

// JSON decodes the request body into v, enforcing content type, the body
// size cap, and rejecting unknown fields so client typos surface as 400s
// instead of silently dropped data.
func JSON(r *http.Request, v any) error {
	mediaType := r.Header.Get("Content-Type")
	if mediaType != "" {
		parsed, _, err := mime.ParseMediaType(mediaType)
		if err != nil || parsed != "application/json" {
			return fmt.Errorf("%w: got %q, expected application/json", ErrUnsupportedMediaType, mediaType)
		}
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", ErrInvalidJSON)
		}
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}
