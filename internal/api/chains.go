package api

import "net/http"

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chains.Snapshots(r.Context()))
}
