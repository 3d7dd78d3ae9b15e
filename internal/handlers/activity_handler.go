package handlers

import (
	"net/http"
	"sort"

	"github.com/prudhvinik1/omnisync/internal/logging"
	"github.com/prudhvinik1/omnisync/internal/repositories"
)

// ActivityHandler reports the caller's last sync per resource type.
type ActivityHandler struct {
	repo      repositories.SyncActivityRepository
	resources []string
	logger    logging.Logger
}

func NewActivityHandler(repo repositories.SyncActivityRepository, resources []string, logger logging.Logger) *ActivityHandler {
	sorted := append([]string(nil), resources...)
	sort.Strings(sorted)
	return &ActivityHandler{repo: repo, resources: sorted, logger: logger}
}

func (h *ActivityHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFromContext(r.Context())

	activities, err := h.repo.List(r.Context(), owner, h.resources)
	if err != nil {
		h.logger.Error(r.Context(), "failed to list sync activity", "user", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "Server error while reading activity.")
		return
	}

	writeJSON(w, http.StatusOK, activities)
}
