// Package api provides HTTP handlers for the story ranking API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/bazaarlive/storyrank/internal/feed"
	"github.com/bazaarlive/storyrank/internal/middleware"
	"github.com/bazaarlive/storyrank/internal/validate"
)

// Limits for the limit query parameter.
const (
	DefaultRankLimit = 25
	MaxRankLimit     = 100
)

// RankHandlers holds dependencies for ranking HTTP handlers.
type RankHandlers struct {
	service *feed.Service
	logger  *slog.Logger
}

// NewRankHandlers creates a new RankHandlers instance.
func NewRankHandlers(service *feed.Service, logger *slog.Logger) *RankHandlers {
	return &RankHandlers{
		service: service,
		logger:  logger,
	}
}

// RankedItemResponse is one entry of the ranked feed.
type RankedItemResponse struct {
	ContentID string  `json:"content_id"`
	OwnerID   string  `json:"owner_id"`
	Score     float64 `json:"score"`
}

// RankResponse represents the response for GET /rank.
type RankResponse struct {
	Algorithm           string               `json:"algorithm"`
	Items               []RankedItemResponse `json:"items"`
	RemainingTTLSeconds int                  `json:"remaining_ttl_seconds"`
}

// Rank handles GET /rank - returns the ranked feed for a user.
//
// Query parameters:
//   - user_id: identifies the caller; falls back to the authenticated subject
//   - limit: maximum number of items to return (default 25, max 100)
//   - region, currency: accepted and forwarded, reserved for market calibration
func (h *RankHandlers) Rank(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	query := r.URL.Query()

	userID := strings.TrimSpace(query.Get("user_id"))
	if userID == "" {
		// Fall back to the authenticated subject when present.
		userID = middleware.GetUserID(r.Context())
	}
	if userID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "user_id is required")
		return
	}
	userID, err := validate.UserID(userID)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "user_id is invalid")
		return
	}

	limit := DefaultRankLimit
	if limitStr := query.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		if parsed > MaxRankLimit {
			parsed = MaxRankLimit
		}
		limit = parsed
	}

	region, err := validate.Region(query.Get("region"))
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "region is invalid")
		return
	}
	currency, err := validate.Currency(query.Get("currency"))
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "currency is invalid")
		return
	}

	req := feed.Request{
		UserID:   userID,
		Limit:    limit,
		Region:   region,
		Currency: currency,
	}

	resp, err := h.service.Rank(r.Context(), req)
	if err != nil {
		if errors.Is(err, feed.ErrEmptyUserID) || errors.Is(err, feed.ErrInvalidLimit) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		// The service degrades internally; an error here is unexpected.
		h.logger.ErrorContext(r.Context(), "ranking failed", "error", err, "user_id", userID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to rank feed")
		return
	}

	items := make([]RankedItemResponse, 0, len(resp.Items))
	for _, item := range resp.Items {
		items = append(items, RankedItemResponse{
			ContentID: item.ContentID,
			OwnerID:   item.OwnerID,
			Score:     item.Score,
		})
	}

	out := RankResponse{
		Algorithm:           string(resp.Algorithm),
		Items:               items,
		RemainingTTLSeconds: int(resp.RemainingTTL.Seconds()),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to encode rank response", "error", err)
	}
}
