package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/liammdev/cartasecreta/internal/worker"
)

// ─── POST /api/cron/send ──────────────────────────────────────────────────────

// handleCronSend triggers one dispatch sweep. The endpoint exists for
// external schedulers (a platform cron hitting the service over HTTP); the
// in-process ticker runs the same sweep on its own interval, and the
// runner's lock keeps the two from overlapping.
func (s *Server) handleCronSend(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeCron(r) {
		respondErr(w, http.StatusUnauthorized, "invalid or missing cron token")
		return
	}

	summary, err := s.sweeper.Sweep(r.Context())
	if errors.Is(err, worker.ErrSweepInProgress) {
		respondErr(w, http.StatusConflict, "a sweep is already running")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("cron sweep: %w", err))
		return
	}

	respond(w, http.StatusOK, summary)
}

// authorizeCron checks the Authorization header against CRON_SECRET.
func (s *Server) authorizeCron(r *http.Request) bool {
	if s.cfg.CronSecret == "" {
		// Refuse rather than run open when the secret was never set.
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.CronSecret)) == 1
}
