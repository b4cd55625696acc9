package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/fdl/internal/domain"
	"github.com/shaiso/fdl/internal/flow"
)

// ListFlows возвращает список всех flows.
// GET /api/v1/flows
func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.flows.List(r.Context())
	if HandleStoreError(w, h.logger, err, "") {
		return
	}

	result := make([]FlowResponse, len(flows))
	for i, f := range flows {
		result[i] = FlowFromDomain(f)
	}

	List(w, result, len(result))
}

// CreateFlow создаёт новый flow.
// POST /api/v1/flows
func (h *Handler) CreateFlow(w http.ResponseWriter, r *http.Request) {
	var req CreateFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	f := &domain.Flow{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		IsActive:    false,
	}

	if err := h.flows.Create(r.Context(), f); err != nil {
		if HandleStoreError(w, h.logger, err, "") {
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	Created(w, FlowFromDomain(*f))
}

// GetFlow возвращает flow по ID.
// GET /api/v1/flows/{id}
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid flow id")
		return
	}

	f, err := h.flows.GetByID(r.Context(), id)
	if HandleStoreError(w, h.logger, err, "flow not found") {
		return
	}

	Success(w, FlowFromDomain(*f))
}

// UpdateFlow обновляет flow.
// PUT /api/v1/flows/{id}
func (h *Handler) UpdateFlow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid flow id")
		return
	}

	var req UpdateFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	f, err := h.flows.GetByID(r.Context(), id)
	if HandleStoreError(w, h.logger, err, "flow not found") {
		return
	}

	if req.Name != nil {
		f.Name = *req.Name
	}
	if req.Description != nil {
		f.Description = *req.Description
	}
	if req.IsActive != nil {
		f.IsActive = *req.IsActive
	}

	if err := h.flows.Update(r.Context(), f); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, FlowFromDomain(*f))
}

// DeleteFlow удаляет flow.
// DELETE /api/v1/flows/{id}
func (h *Handler) DeleteFlow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid flow id")
		return
	}

	if err := h.flows.Delete(r.Context(), id); err != nil {
		if HandleStoreError(w, h.logger, err, "flow not found") {
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	NoContent(w)
}

// ListFlowVersions возвращает список версий flow.
// GET /api/v1/flows/{id}/versions
func (h *Handler) ListFlowVersions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid flow id")
		return
	}

	// Проверяем, что flow существует
	_, err = h.flows.GetByID(r.Context(), id)
	if HandleStoreError(w, h.logger, err, "flow not found") {
		return
	}

	versions, err := h.flows.ListVersions(r.Context(), id)
	if HandleStoreError(w, h.logger, err, "") {
		return
	}

	result := make([]FlowVersionResponse, len(versions))
	for i, v := range versions {
		result[i] = FlowVersionFromDomain(v)
	}

	List(w, result, len(result))
}

// CreateFlowVersion создаёт новую версию flow.
// Исходный текст парсится и валидируется до записи: невалидный
// flow версией не становится.
// POST /api/v1/flows/{id}/versions
func (h *Handler) CreateFlowVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid flow id")
		return
	}

	var req CreateFlowVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Source == "" {
		BadRequest(w, "source is required")
		return
	}

	parsed, err := flow.Parse([]byte(req.Source))
	if err != nil {
		InvalidFlow(w, "flow source does not parse", []string{err.Error()})
		return
	}
	if err := parsed.Validate(); err != nil {
		InvalidFlow(w, "flow validation failed", []string{err.Error()})
		return
	}

	// Проверяем, что flow существует
	_, err = h.flows.GetByID(r.Context(), id)
	if HandleStoreError(w, h.logger, err, "flow not found") {
		return
	}

	version, err := h.flows.CreateVersion(r.Context(), id, req.Source)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Created(w, FlowVersionFromDomain(*version))
}

// GetFlowVersion возвращает конкретную версию flow.
// GET /api/v1/flows/{id}/versions/{version}
func (h *Handler) GetFlowVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid flow id")
		return
	}

	versionNum, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		BadRequest(w, "invalid version number")
		return
	}

	version, err := h.flows.GetVersion(r.Context(), id, versionNum)
	if HandleStoreError(w, h.logger, err, "flow version not found") {
		return
	}

	Success(w, FlowVersionFromDomain(*version))
}
