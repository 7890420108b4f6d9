package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"killwatch/core"
	"killwatch/storage"
	"killwatch/surveil"
)

const maxProfileBodySize = 1 << 20 // 1MB; filter trees are tens of nodes, not megabytes

// ProfileHandler maps the profile CRUD surface onto the store and the
// lifecycle controller.
type ProfileHandler struct {
	store      *storage.ProfileStore
	controller *surveil.Controller
	engine     *surveil.Engine
	validate   *validator.Validate
	logger     *zap.SugaredLogger
}

// NewProfileHandler creates the handler.
func NewProfileHandler(store *storage.ProfileStore, controller *surveil.Controller, engine *surveil.Engine, logger *zap.SugaredLogger) *ProfileHandler {
	return &ProfileHandler{
		store:      store,
		controller: controller,
		engine:     engine,
		validate:   validator.New(),
		logger:     logger,
	}
}

// profileRequest is the write envelope for create and update.
type profileRequest struct {
	Name         string          `json:"name" validate:"required,min=1,max=255"`
	OwnerID      string          `json:"owner_id" validate:"max=255"`
	Enabled      *bool           `json:"enabled"`
	FilterTree   core.FilterNode `json:"filter_tree"`
	Notification map[string]any  `json:"notification"`
}

// profileResponse augments a stored profile with its live match bookkeeping.
type profileResponse struct {
	core.Profile
	Stats core.MatchStats `json:"stats"`
}

// List returns every stored profile.
func (h *ProfileHandler) List(w http.ResponseWriter, _ *http.Request) {
	profiles, err := h.store.GetAllProfiles()
	if err != nil {
		h.logger.Errorf("Failed to list profiles: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list profiles")
		return
	}
	out := make([]profileResponse, 0, len(profiles))
	for i := range profiles {
		out = append(out, profileResponse{Profile: profiles[i], Stats: h.engine.Stats(profiles[i].ID)})
	}
	writeJSON(w, http.StatusOK, out)
}

// Get returns one profile with its match stats.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	profile, err := h.store.GetProfile(id)
	if err != nil {
		if errors.Is(err, storage.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		h.logger.Errorf("Failed to get profile %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to get profile")
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Profile: *profile, Stats: h.engine.Stats(id)})
}

// Create registers a new profile: schema validation, envelope validation,
// compile, persist, publish — in that order, so nothing is stored or indexed
// for a rejected definition.
func (h *ProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	profile := h.buildProfile(uuid.NewString(), req)
	profile.CreatedAt = time.Now().UTC()

	h.apply(w, profile, http.StatusCreated)
}

// Update replaces an existing profile's definition. A compile error leaves
// the previous version untouched in both the store and the engine.
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	existing, err := h.store.GetProfile(id)
	if err != nil {
		if errors.Is(err, storage.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		h.logger.Errorf("Failed to load profile %s for update: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	profile := h.buildProfile(id, req)
	profile.Version = existing.Version + 1
	profile.CreatedAt = existing.CreatedAt

	h.apply(w, profile, http.StatusOK)
}

// Delete removes a profile from the store and withdraws it from matching.
func (h *ProfileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.DeleteProfile(id); err != nil {
		if errors.Is(err, storage.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		h.logger.Errorf("Failed to delete profile %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to delete profile")
		return
	}
	h.controller.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

// decode reads, schema-validates, and envelope-validates a profile request.
func (h *ProfileHandler) decode(w http.ResponseWriter, r *http.Request) (*profileRequest, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxProfileBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}

	if err := core.ValidateProfileJSON(raw); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	var req profileRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode profile")
		return nil, false
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &req, true
}

func (h *ProfileHandler) buildProfile(id string, req *profileRequest) *core.Profile {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &core.Profile{
		ID:           id,
		Name:         req.Name,
		OwnerID:      req.OwnerID,
		Enabled:      enabled,
		Version:      1,
		FilterTree:   req.FilterTree,
		Notification: req.Notification,
	}
}

// apply compiles, persists, and publishes a profile, answering the request.
func (h *ProfileHandler) apply(w http.ResponseWriter, profile *core.Profile, okStatus int) {
	// Compile before touching any state so a broken tree has no side effects.
	if _, err := surveil.Compile(&profile.FilterTree); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.store.UpsertProfile(profile); err != nil {
		h.logger.Errorf("Failed to persist profile %s: %v", profile.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to persist profile")
		return
	}

	if err := h.controller.Upsert(profile); err != nil {
		// Compile already passed above; this is unreachable short of a race
		// with the field registry, but surface it honestly if it happens.
		h.logger.Errorf("Failed to publish profile %s: %v", profile.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to publish profile")
		return
	}

	writeJSON(w, okStatus, profileResponse{Profile: *profile, Stats: h.engine.Stats(profile.ID)})
}
