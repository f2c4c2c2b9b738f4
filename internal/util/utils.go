package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// MaxBodyBytes caps request bodies read by DecodeJSONBody.
const MaxBodyBytes = 1 << 20

var ErrEmptyBody = errors.New("body is empty")

// DecodeJSONBody decodes the request body into T. An absent body yields ErrEmptyBody
// so handlers with optional payloads can tell it apart from malformed JSON.
func DecodeJSONBody[T any](r *http.Request) (T, error) {
	if r.Body == nil || r.Body == http.NoBody {
		var zero T
		return zero, ErrEmptyBody
	}
	return decode[T](http.MaxBytesReader(nil, r.Body, MaxBodyBytes))
}

func DecodeJSONBodyResponse[T any](r *http.Response) (T, error) {
	return decode[T](r.Body)
}

func decode[T any](body io.ReadCloser) (T, error) {
	defer body.Close()
	var data T
	if err := json.NewDecoder(body).Decode(&data); err != nil {
		var zero T
		if errors.Is(err, io.EOF) {
			return zero, ErrEmptyBody
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return zero, fmt.Errorf("body exceeds %d bytes", tooLarge.Limit)
		}
		return zero, fmt.Errorf("json decode error: %w", err)
	}
	return data, nil
}

// WriteJSONResponse encodes data before writing the status so an encoding
// failure still produces a 500.
func WriteJSONResponse[T any](w http.ResponseWriter, status int, data T) {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(raw, '\n'))
}
