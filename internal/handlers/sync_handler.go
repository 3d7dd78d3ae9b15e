package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prudhvinik1/omnisync/internal/logging"
	"github.com/prudhvinik1/omnisync/internal/models"
	"github.com/prudhvinik1/omnisync/internal/services"
)

const maxPushBodyBytes = 32 << 20

// SyncHandler serves GET and POST /api/{resource}/changes for every
// registered resource type.
type SyncHandler struct {
	services map[string]*services.SyncService
	logger   logging.Logger
}

func NewSyncHandler(list []*services.SyncService, logger logging.Logger) *SyncHandler {
	h := &SyncHandler{
		services: make(map[string]*services.SyncService, len(list)),
		logger:   logger,
	}
	for _, svc := range list {
		h.services[svc.Resource()] = svc
	}
	return h
}

func (h *SyncHandler) Resources() []string {
	names := make([]string, 0, len(h.services))
	for name := range h.services {
		names = append(names, name)
	}
	return names
}

func (h *SyncHandler) service(w http.ResponseWriter, r *http.Request) (*services.SyncService, bool) {
	resource := chi.URLParam(r, "resource")
	svc, ok := h.services[resource]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown resource %q", resource))
	}
	return svc, ok
}

// GetChanges answers a pull. since (or the older timestamp parameter) is the
// client's watermark in unix milliseconds.
func (h *SyncHandler) GetChanges(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	since, err := parseWatermark(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := svc.Pull(r.Context(), OwnerFromContext(r.Context()), since)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

// PostChanges answers a push. The body is a JSON array of client records;
// the response holds one ack per element in the same order.
func (h *SyncHandler) PostChanges(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	entries, err := decodeEntries(http.MaxBytesReader(w, r.Body, maxPushBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acks, err := svc.Push(r.Context(), OwnerFromContext(r.Context()), entries)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, acks)
}

func parseWatermark(r *http.Request) (int64, error) {
	query := r.URL.Query()
	name := "since"
	raw := query.Get(name)
	if raw == "" {
		name = "timestamp"
		raw = query.Get(name)
	}
	if raw == "" {
		return 0, nil
	}

	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s parameter: must be an integer", name)
	}
	return since, nil
}

// decodeEntries parses the push body. Elements that are not objects decode
// to nil records, which the adapter rejects in their own ack slot.
func decodeEntries(body io.Reader) ([]models.WireRecord, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, errors.New("request body must be a JSON array of records")
	}
	if raw == nil {
		return nil, errors.New("request body must be a JSON array of records")
	}

	entries := make([]models.WireRecord, len(raw))
	for i, element := range raw {
		var entry models.WireRecord
		if err := json.Unmarshal(element, &entry); err != nil {
			continue
		}
		entries[i] = entry
	}
	return entries, nil
}

func (h *SyncHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var storageErr *services.StorageError
	switch {
	case errors.Is(err, services.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &storageErr):
		if storageErr.Op == "upsert" {
			writeError(w, http.StatusInternalServerError, "Server error while upserting.")
		} else {
			writeError(w, http.StatusInternalServerError, "Server error while querying.")
		}
	default:
		h.logger.Error(r.Context(), "unexpected sync error", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Server error.")
	}
}
