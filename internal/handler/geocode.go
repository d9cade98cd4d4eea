package handler

import (
	"log/slog"
	"net/http"

	"github.com/carcrashlawyerai/backend/internal/geocode"
)

// GeocodeHandler proxies coordinate lookups to the three-word geocoding
// service so the browser never sees the API key.
type GeocodeHandler struct {
	client *geocode.Client
	logger *slog.Logger
}

func NewGeocodeHandler(client *geocode.Client, logger *slog.Logger) *GeocodeHandler {
	return &GeocodeHandler{client: client, logger: logger}
}

func (h *GeocodeHandler) Convert(w http.ResponseWriter, r *http.Request) {
	lat := r.URL.Query().Get("lat")
	lng := r.URL.Query().Get("lng")
	if lat == "" || lng == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "lat and lng query parameters are required"})
		return
	}

	if h.client == nil || !h.client.Configured() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "geocoding not configured"})
		return
	}

	words, err := h.client.ThreeWords(r.Context(), lat, lng)
	if err != nil {
		h.logger.Warn("geocode lookup failed", "lat", lat, "lng", lng, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "geocoding service unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"words": words})
}
