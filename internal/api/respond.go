package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/MikeSquared-Agency/bddgen/internal/generator"
	"github.com/MikeSquared-Agency/bddgen/internal/llm"
	"github.com/MikeSquared-Agency/bddgen/internal/sheet"
	"github.com/MikeSquared-Agency/bddgen/internal/store"
	"github.com/MikeSquared-Agency/bddgen/internal/structured"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeAttachment(w http.ResponseWriter, a store.Artifact) {
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Content)))
	w.WriteHeader(http.StatusOK)
	w.Write(a.Content)
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	var missing *sheet.MissingColumnsError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &missing),
		errors.Is(err, sheet.ErrUnsupportedFormat),
		errors.Is(err, sheet.ErrUnreadable),
		errors.Is(err, generator.ErrNoTestCases):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case llm.IsUpstream(err),
		errors.Is(err, llm.ErrEmptyResponse),
		errors.Is(err, llm.ErrContinuationLimit),
		errors.Is(err, structured.ErrMalformed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func formTemperature(r *http.Request) (float64, error) {
	raw := r.FormValue("temperature")
	if raw == "" {
		return 0, nil
	}
	t, err := strconv.ParseFloat(raw, 64)
	if err != nil || t < 0 || t > 2 {
		return 0, fmt.Errorf("temperature must be a number between 0 and 2")
	}
	return t, nil
}
