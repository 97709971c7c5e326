package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bbernstein/lacylights-outputs/internal/database/models"
	"github.com/bbernstein/lacylights-outputs/internal/outputs"
	redisstore "github.com/bbernstein/lacylights-outputs/internal/store/redis"
)

// SnapshotReader reads the ping snapshots kept by the health monitor.
type SnapshotReader interface {
	All(ctx context.Context) ([]redisstore.Snapshot, error)
	Get(ctx context.Context, name string) (*redisstore.Snapshot, error)
}

// SettingLister lists the stored server settings.
type SettingLister interface {
	FindAll(ctx context.Context) ([]models.Setting, error)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	values := map[string]string{}
	if s.settings != nil {
		settings, err := s.settings.FindAll(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		for _, st := range settings {
			values[st.Key] = st.Value
		}
	}
	writeJSON(w, http.StatusOK, values)
}

func (s *Server) snapshotsEnabled(w http.ResponseWriter) bool {
	if s.snapshots == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "ping snapshots are disabled"})
		return false
	}
	return true
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if !s.snapshotsEnabled(w) {
		return
	}
	snaps, err := s.snapshots.All(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if snaps == nil {
		snaps = []redisstore.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.snapshotsEnabled(w) {
		return
	}
	name := chi.URLParam(r, "name")
	snap, err := s.snapshots.Get(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	if snap == nil {
		writeError(w, fmt.Errorf("%w: no ping snapshot for %q", outputs.ErrNotFound, name))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
