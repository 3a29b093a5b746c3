package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/atmosdeck/weather-dashboard-service/internal/geocode"
	"github.com/atmosdeck/weather-dashboard-service/internal/models"
	"github.com/atmosdeck/weather-dashboard-service/internal/store"
	"github.com/atmosdeck/weather-dashboard-service/internal/validation"
)

// addFavoriteRequest is the POST /api/favorites payload.
type addFavoriteRequest struct {
	City string `json:"city" validate:"required,min=1,max=100"`
}

// ListFavorites handles GET /api/favorites.
func (h *Handler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	favorites, err := h.favorites.List(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "STORE_ERROR", "failed to load favorites")
		return
	}
	if favorites == nil {
		favorites = []models.Favorite{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"favorites": favorites})
}

// AddFavorite handles POST /api/favorites. The city is geocoded so the
// stored favorite carries canonical name and coordinates for cache warming.
func (h *Handler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	var req addFavoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON")
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_FAVORITE", err.Error())
		return
	}
	city, err := validation.ValidateCity(req.City)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	place, err := h.geocoder.Resolve(r.Context(), city)
	if err != nil {
		if errors.Is(err, geocode.ErrCityNotFound) {
			writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", "no matching city")
			return
		}
		writeError(w, r, http.StatusServiceUnavailable, "GEOCODE_UNAVAILABLE", "unable to resolve location")
		return
	}

	favorite := models.Favorite{
		ID:        uuid.NewString(),
		UserID:    userID(r),
		City:      place.City,
		Country:   place.Country,
		Latitude:  place.Lat,
		Longitude: place.Lon,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.favorites.Add(r.Context(), favorite); err != nil {
		writeError(w, r, http.StatusInternalServerError, "STORE_ERROR", "failed to save favorite")
		return
	}
	writeJSON(w, http.StatusCreated, favorite)
}

// RemoveFavorite handles DELETE /api/favorites/{id}.
func (h *Handler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	err := h.favorites.Remove(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "FAVORITE_NOT_FOUND", "favorite not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "STORE_ERROR", "failed to remove favorite")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
