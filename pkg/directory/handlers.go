package directory

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/larkbridge/pkg/httputil"
)

// RegisterRoutes exposes the scheduler under /directory/sync
func (s *Scheduler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/directory/sync", s.handleTrigger).Methods(http.MethodPost)
	router.HandleFunc("/directory/sync", s.handleStatus).Methods(http.MethodGet)
}

// handleTrigger handles POST /directory/sync
func (s *Scheduler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.Status().Running {
		httputil.WriteConflict(w, ErrSyncInProgress.Error())
		return
	}
	s.Trigger(r.Context(), "manual")
	w.WriteHeader(http.StatusAccepted)
}

// handleStatus handles GET /directory/sync
func (s *Scheduler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := httputil.WriteJSON(w, http.StatusOK, s.Status()); err != nil {
		s.logger.WithError(err).Warn("failed to encode sync status")
	}
}
