package api

import (
	"net/http"
	"strings"

	"github.com/warp/finance-engine/ledger"
)

// =============================================================================
// NOTIFICATION HANDLERS (under /api/v1/notifications)
// =============================================================================

// ListNotifications returns the caller's notifications, newest first.
// ?limit=N caps the list.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := int(queryInt(r.URL.Query().Get("limit")))
	list, err := h.svc.ListNotifications(r.Context(), UserID(r.Context()), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(list, toNotificationDTO))
}

// POST /api/v1/notifications/{id}/read/
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.MarkRead(r.Context(), UserID(r.Context()), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DetailResponse{Detail: "ok"})
}

// POST /api/v1/notifications/read-all/
func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.MarkAllRead(r.Context(), UserID(r.Context())); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DetailResponse{Detail: "ok"})
}

// RegisterDevice upserts a push token for the caller.
// POST /api/v1/notifications/devices/
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req DeviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	platform := ledger.Platform(strings.ToUpper(string(req.Platform)))
	dev, err := h.svc.RegisterDevice(r.Context(), UserID(r.Context()), req.Token, platform)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeviceDTO(dev))
}

// SendTestNotification dispatches a SYSTEM notification to the caller.
// An empty body is allowed.
// POST /api/v1/notifications/test/
func (h *Handler) SendTestNotification(w http.ResponseWriter, r *http.Request) {
	var req TestNotificationRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	n, err := h.svc.SendTest(r.Context(), UserID(r.Context()), req.Title, req.Body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": n.ID})
}

// =============================================================================
// CALENDAR EVENT HANDLERS
// =============================================================================

// ListEvents supports from/to on the start date.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events, err := h.svc.ListEvents(r.Context(), UserID(r.Context()), ledger.ParseDateRange(q.Get("from"), q.Get("to")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(events, toEventDTO))
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	e, err := h.svc.CreateEvent(r.Context(), UserID(r.Context()), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventDTO(e))
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := h.svc.GetEvent(r.Context(), UserID(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(e))
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req EventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	e, err := h.svc.UpdateEvent(r.Context(), UserID(r.Context()), id, req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(e))
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteEvent(r.Context(), UserID(r.Context()), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
