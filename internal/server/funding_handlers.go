package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hldesk/hldesk/internal/domain"
	"github.com/hldesk/hldesk/internal/store"
)

func (s *Server) handleFunding(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 20, 1, 100)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.cache.Get(r.Context())
	spreads := result.Spreads
	if len(spreads) > limit {
		spreads = spreads[:limit]
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"spreads":   spreads,
		"count":     len(spreads),
		"timestamp": result.Timestamp,
	})
}

func (s *Server) handleFundingAsset(w http.ResponseWriter, r *http.Request) {
	asset := strings.ToUpper(chi.URLParam(r, "asset"))

	result := s.cache.Get(r.Context())
	spread := result.SpreadFor(asset)
	if spread == nil {
		s.writeError(w, http.StatusNotFound, "unknown asset: "+asset)
		return
	}
	s.writeJSON(w, http.StatusOK, spread)
}

func (s *Server) handleFundingHistory(w http.ResponseWriter, r *http.Request) {
	filter := store.HistoryFilter{
		Asset: strings.ToUpper(r.URL.Query().Get("asset")),
		Venue: strings.ToLower(r.URL.Query().Get("venue")),
	}

	var err error
	if filter.FromMs, err = int64Query(r, "from"); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.ToMs, err = int64Query(r, "to"); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Limit, err = intQuery(r, "limit", 0, 1, 1000); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rates := []domain.FundingRate{}
	if s.store.Readable() {
		rates, err = s.store.Funding.History(r.Context(), filter)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to read funding history")
			rates = []domain.FundingRate{}
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rates": rates,
		"count": len(rates),
	})
}

// intQuery parses an optional integer query parameter, enforcing bounds.
// A zero def with an absent parameter returns zero, meaning "unset".
func intQuery(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errInvalidParam(name, raw)
	}
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return v, nil
}

func int64Query(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errInvalidParam(name, raw)
	}
	return v, nil
}

type paramError struct{ msg string }

func (e paramError) Error() string { return e.msg }

func errInvalidParam(name, value string) error {
	return paramError{msg: "invalid " + name + " parameter: " + value}
}
