package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/finboost/rewards-service/internal/domain"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON body into dst. Object keys are accepted in
// snake_case or camelCase at any depth.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return &domain.ValidationError{Message: "request body too large or unreadable"}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &domain.ValidationError{Message: "request body is required"}
	}

	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return &domain.ValidationError{Message: "invalid JSON body"}
	}
	normalized, err := json.Marshal(camelizeKeys(raw))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(normalized, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return &domain.ValidationError{Field: typeErr.Field, Message: "has the wrong type"}
		}
		return &domain.ValidationError{Message: "invalid request body"}
	}
	return nil
}

func camelizeKeys(v interface{}) interface{} {
	switch value := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(value))
		for key, inner := range value {
			camel := snakeToCamel(key)
			// An explicit camelCase key wins over its snake_case twin.
			if _, exists := out[camel]; exists && camel != key {
				continue
			}
			out[camel] = camelizeKeys(inner)
		}
		return out
	case []interface{}:
		for i := range value {
			value[i] = camelizeKeys(value[i])
		}
		return value
	default:
		return v
	}
}

func snakeToCamel(key string) string {
	if !strings.Contains(key, "_") {
		return key
	}
	parts := strings.Split(key, "_")
	var b strings.Builder
	b.Grow(len(key))
	first := true
	for _, part := range parts {
		if part == "" {
			continue
		}
		if first {
			b.WriteString(strings.ToLower(part[:1]) + part[1:])
			first = false
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return b.String()
}
