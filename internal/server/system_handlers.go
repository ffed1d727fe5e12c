package server

import "net/http"

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "hldesk-api",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"lastFetch":  s.cache.LastFetchMs(),
		"cacheAge":   s.cache.AgeMs(),
		"assetCount": s.cache.AssetCount(),
		"store": map[string]bool{
			"configured": s.store.Readable(),
			"writable":   s.store.Writable(),
		},
		"llmEnabled": s.llmEnabled,
	})
}

func (s *Server) handleSnapshotNow(w http.ResponseWriter, r *http.Request) {
	if s.sampler == nil {
		s.writeError(w, http.StatusInternalServerError, "snapshots not configured")
		return
	}
	n, err := s.sampler.SnapshotAll(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"snapshotted": n,
	})
}
