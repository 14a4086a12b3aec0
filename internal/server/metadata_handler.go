package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tonimelisma/vidpub/internal/metadata"
)

const maxMetadataBody = 1 << 20

// handleGenerate proxies to the metadata generator.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Generator == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", metadata.ErrNotConfigured.Error())
		return
	}

	var in metadata.Input
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMetadataBody)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "no data provided")
		return
	}

	md, err := s.deps.Generator.Generate(r.Context(), in)

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, md)
	case errors.Is(err, metadata.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, metadata.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		writeError(w, http.StatusBadGateway, "generator_failed", err.Error())
	}
}
