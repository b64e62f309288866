// cmd/civiclens/api.go
package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"civiclens/internal/classify"
	"civiclens/internal/common/database"
	"civiclens/internal/common/logger"
	"civiclens/internal/feed"
	"civiclens/internal/models"
	"civiclens/internal/notify"
)

// apiServer exposes the classification and notification pipelines over HTTP
// for the portal backend.
type apiServer struct {
	classifier  *classify.Client
	dispatcher  *notify.Dispatcher
	store       *notify.Store
	preferences *notify.PreferenceStore
	permissions *notify.PermissionRegistry
	redis       *database.RedisClient
	feedLimit   int
	logger      logger.Logger
}

func (s *apiServer) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/classify", s.handleClassify)
	mux.HandleFunc("GET /api/departments", s.handleDepartments)
	mux.HandleFunc("POST /api/events/status-change", s.handleStatusChange)
	mux.HandleFunc("POST /api/events/comment", s.handleComment)
	mux.HandleFunc("GET /api/notifications", s.handleRecent)
	mux.HandleFunc("GET /api/notifications/unread-count", s.handleUnreadCount)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.handleMarkRead)
	mux.HandleFunc("POST /api/notifications/read-all", s.handleMarkAllRead)
	mux.HandleFunc("DELETE /api/notifications/{id}", s.handleDelete)
	mux.HandleFunc("GET /api/preferences", s.handleGetPreferences)
	mux.HandleFunc("PUT /api/preferences", s.handlePutPreferences)
	mux.HandleFunc("POST /api/push/subscribe", s.handlePushSubscribe)
	mux.HandleFunc("GET /api/notifications/stream", s.handleFeedStream)
}

// handleFeedStream serves the live feed as server-sent events: a snapshot on
// connect, then a fresh snapshot after every change to the projection.
func (s *apiServer) handleFeedStream(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	stream := feed.OpenStream(r.Context(), s.redis, userID, s.logger)
	sub, err := feed.NewSubscriber(r.Context(), s.store, stream, userID, s.feedLimit, s.logger)
	if err != nil {
		stream.Close()
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sendSnapshot := func() {
		items, unread := sub.Snapshot()
		payload, err := json.Marshal(map[string]interface{}{
			"notifications": items,
			"unread":        unread,
		})
		if err != nil {
			s.logger.Error("feed snapshot encode failed", map[string]interface{}{"error": err.Error()})
			return
		}
		fmt.Fprintf(w, "event: feed\ndata: %s\n\n", payload)
		flusher.Flush()
	}

	sendSnapshot()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Changed():
			sendSnapshot()
		}
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encode failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

type classifyPayload struct {
	Description   string `json:"description"`
	ImageData     string `json:"image_data,omitempty"` // base64
	ImageMIMEType string `json:"image_mime_type,omitempty"`
}

func (s *apiServer) handleClassify(w http.ResponseWriter, r *http.Request) {
	var payload classifyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var imageData []byte
	if payload.ImageData != "" {
		decoded, err := base64.StdEncoding.DecodeString(payload.ImageData)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "image_data is not valid base64")
			return
		}
		imageData = decoded
	}

	result, err := s.classifier.Classify(r.Context(), classify.ClassificationRequest{
		Description:   payload.Description,
		ImageData:     imageData,
		ImageMIMEType: payload.ImageMIMEType,
	})
	if err != nil {
		if errors.Is(err, classify.ErrClassificationUnavailable) {
			// Surface the fallback departments so the caller can route manually.
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"error":       "classification unavailable",
				"departments": classify.DepartmentsFor(classify.DefaultCategory),
			})
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleDepartments(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		s.writeError(w, http.StatusBadRequest, "category is required")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"category":    category,
		"departments": classify.DepartmentsFor(category),
	})
}

type statusChangePayload struct {
	UserID      string `json:"user_id"`
	ReportID    string `json:"report_id"`
	ReportTitle string `json:"report_title"`
	OldStatus   string `json:"old_status"`
	NewStatus   string `json:"new_status"`
}

func (s *apiServer) handleStatusChange(w http.ResponseWriter, r *http.Request) {
	var payload statusChangePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == "" || payload.ReportID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id and report_id are required")
		return
	}

	// Fire-and-forget: dispatch failures are logged internally and must not
	// fail the status change that raised the event.
	s.dispatcher.Dispatch(r.Context(), models.StatusChangeEvent{
		ReportID:    payload.ReportID,
		ReportTitle: payload.ReportTitle,
		OldStatus:   payload.OldStatus,
		NewStatus:   payload.NewStatus,
	}, payload.UserID)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

type commentPayload struct {
	UserID        string `json:"user_id"`
	ReportID      string `json:"report_id"`
	ReportTitle   string `json:"report_title"`
	CommenterName string `json:"commenter_name"`
	CommentText   string `json:"comment_text"`
}

func (s *apiServer) handleComment(w http.ResponseWriter, r *http.Request) {
	var payload commentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == "" || payload.ReportID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id and report_id are required")
		return
	}

	s.dispatcher.Dispatch(r.Context(), models.NewCommentEvent{
		ReportID:      payload.ReportID,
		ReportTitle:   payload.ReportTitle,
		CommenterName: payload.CommenterName,
		CommentText:   payload.CommentText,
	}, payload.UserID)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

func (s *apiServer) handleRecent(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	list, err := s.store.Recent(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []models.Notification{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *apiServer) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	count, err := s.store.UnreadCount(r.Context(), userID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}

func (s *apiServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.store.MarkRead(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	count, err := s.store.MarkAllRead(r.Context(), userID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"marked": count})
}

func (s *apiServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	prefs, err := s.preferences.Get(r.Context(), userID)
	if err != nil {
		// Get degraded to defaults; still a usable answer.
		s.logger.Warn("serving default preferences", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
	s.writeJSON(w, http.StatusOK, prefs)
}

func (s *apiServer) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs models.NotificationPreferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if prefs.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := s.preferences.Put(r.Context(), prefs); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, prefs)
}

type pushSubscribePayload struct {
	UserID      string `json:"user_id"`
	DeviceToken string `json:"device_token"`
}

func (s *apiServer) handlePushSubscribe(w http.ResponseWriter, r *http.Request) {
	var payload pushSubscribePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == "" || payload.DeviceToken == "" {
		s.writeError(w, http.StatusBadRequest, "user_id and device_token are required")
		return
	}

	granted, err := s.permissions.RequestPermission(r.Context(), payload.UserID, payload.DeviceToken)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"granted": granted})
}
