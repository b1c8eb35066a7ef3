package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"campusgate/gatepass/internal/auth"
	"campusgate/gatepass/internal/config"
	"campusgate/gatepass/internal/model"
	"campusgate/gatepass/internal/pass"
	"campusgate/gatepass/internal/service"
	"campusgate/gatepass/internal/store"
)

type Server struct {
	cfg     config.Config
	svc     *service.Service
	redis   *redis.Client
	display *time.Location
}

func NewServer(cfg config.Config, svc *service.Service, redisClient *redis.Client, display *time.Location) *Server {
	return &Server{
		cfg:     cfg,
		svc:     svc,
		redis:   redisClient,
		display: display,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Public: the printed QR resolves to a page that calls this
		// without credentials.
		r.Get("/passes/verify/{passId}", s.handleVerifyPass)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/passes", s.handleCreatePass)
			r.Get("/passes/active", s.handleListActivePasses)
			r.With(s.requireRole(service.RoleAdmin, service.RoleSecurity)).Post("/passes/{passId}/verify", s.handleRecordEntryOrExit)
			r.With(s.requireRole(service.RoleAdmin, service.RoleSecurity)).Post("/passes/{passId}/cancel", s.handleCancelPass)
			r.With(s.requireRole(service.RoleAdmin, service.RoleSecurity)).Patch("/passes/{passId}/soft-delete", s.handleSoftDeletePass)
			r.With(s.requireRole(service.RoleAdmin)).Delete("/passes/{passId}", s.handleHardDeletePass)

			r.Get("/students/entries", s.handleListStudentEntries)
			r.With(s.requireRole(service.RoleAdmin, service.RoleSecurity)).Post("/students/entries", s.handleRecordStudentEntry)
			r.With(s.requireRole(service.RoleAdmin, service.RoleSecurity)).Put("/students/entries/{entryId}/exit", s.handleRecordStudentExit)

			r.With(s.requireRole(service.RoleAdmin, service.RoleSecurity)).Get("/scans/recent", s.handleRecentScans)
			r.With(s.requireRole(service.RoleAdmin, service.RoleStaff)).Get("/reports", s.handleReports)

			r.Get("/events", s.handleListEvents)
			r.With(s.requireRole(service.RoleAdmin, service.RoleStaff)).Post("/events", s.handleCreateEvent)
			r.With(s.requireRole(service.RoleAdmin, service.RoleStaff)).Put("/events/{eventId}", s.handleUpdateEvent)
			r.With(s.requireRole(service.RoleAdmin, service.RoleStaff)).Delete("/events/{eventId}", s.handleDeleteEvent)
		})
	})

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func (s *Server) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "missing_token")
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}

func actorFromContext(ctx context.Context) service.Actor {
	claims := claimsFromContext(ctx)
	if claims == nil {
		return service.Actor{}
	}
	return service.Actor{ID: claims.UserID, Role: claims.Role, Name: claims.Name}
}

// Models

type createPassRequest struct {
	VisitorName       string    `json:"visitorName"`
	VisitorPhone      string    `json:"visitorPhone"`
	IDType            string    `json:"idType"`
	IDNumber          string    `json:"idNumber"`
	VisitType         string    `json:"visitType"`
	EventID           string    `json:"eventId"`
	StudentName       string    `json:"studentName"`
	RelationToStudent string    `json:"relationToStudent"`
	Department        string    `json:"department"`
	Purpose           string    `json:"purpose"`
	ValidFrom         time.Time `json:"validFrom"`
	ValidUntil        time.Time `json:"validUntil"`
}

type passResponse struct {
	PassID            string     `json:"pass_id"`
	VisitorName       string     `json:"visitor_name"`
	VisitorPhone      string     `json:"visitor_phone"`
	IDType            string     `json:"id_type"`
	IDNumber          string     `json:"id_number"`
	VisitType         string     `json:"visit_type"`
	EventID           string     `json:"event_id,omitempty"`
	EventName         string     `json:"event_name,omitempty"`
	StudentName       string     `json:"student_name,omitempty"`
	RelationToStudent string     `json:"relation_to_student,omitempty"`
	Department        string     `json:"department,omitempty"`
	Purpose           string     `json:"purpose"`
	ValidFrom         time.Time  `json:"valid_from"`
	ValidUntil        time.Time  `json:"valid_until"`
	ValidFromDisplay  string     `json:"valid_from_display"`
	ValidUntilDisplay string     `json:"valid_until_display"`
	Status            string     `json:"status"`
	EntryStatus       string     `json:"entry_status,omitempty"`
	ValidationMessage string     `json:"validation_message"`
	EntryTime         *time.Time `json:"entry_time,omitempty"`
	ExitTime          *time.Time `json:"exit_time,omitempty"`
	QRCode            string     `json:"qr_code,omitempty"`
}

type studentEntryRequest struct {
	RegistrationNumber string `json:"registrationNumber"`
	Name               string `json:"name"`
	Purpose            string `json:"purpose"`
}

type studentEntryResponse struct {
	ID                 string     `json:"id"`
	RegistrationNumber string     `json:"registration_number"`
	Name               string     `json:"name"`
	Purpose            string     `json:"purpose"`
	EntryTime          time.Time  `json:"entry_time"`
	ExitTime           *time.Time `json:"exit_time,omitempty"`
}

type eventRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Venue       string    `json:"venue"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
}

type eventResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Venue       string    `json:"venue"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
}

func (s *Server) mapPass(view service.View) passResponse {
	p := view.Pass
	resp := passResponse{
		PassID:            p.PassID,
		VisitorName:       p.VisitorName,
		VisitorPhone:      p.VisitorPhone,
		IDType:            p.IDType,
		IDNumber:          p.IDNumber,
		VisitType:         p.VisitType,
		EventID:           p.EventID,
		EventName:         p.EventName,
		StudentName:       p.StudentName,
		RelationToStudent: p.RelationToStudent,
		Department:        p.Department,
		Purpose:           p.Purpose,
		ValidFrom:         p.ValidFrom,
		ValidUntil:        p.ValidUntil,
		ValidFromDisplay:  p.ValidFrom.In(s.display).Format(pass.DisplayTimeFormat),
		ValidUntilDisplay: p.ValidUntil.In(s.display).Format(pass.DisplayTimeFormat),
		Status:            view.Status.Lifecycle,
		EntryStatus:       view.Status.EntryState,
		ValidationMessage: view.Status.Message,
		EntryTime:         p.EntryTime,
		ExitTime:          p.ExitTime,
	}
	// The QR payload is deterministic, so regenerating it on every
	// response is as good as storing it.
	if qr, err := s.svc.QRCode(p.PassID); err == nil {
		resp.QRCode = qr
	}
	return resp
}

func mapEvent(e model.Event) eventResponse {
	return eventResponse{
		ID:          e.ID,
		Name:        e.Name,
		Description: e.Description,
		Venue:       e.Venue,
		StartDate:   e.StartDate,
		EndDate:     e.EndDate,
	}
}

// Pass handlers

func (s *Server) handleCreatePass(w http.ResponseWriter, r *http.Request) {
	var req createPassRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	created, err := s.svc.CreatePass(r.Context(), service.CreatePassInput{
		VisitorName:       strings.TrimSpace(req.VisitorName),
		VisitorPhone:      strings.TrimSpace(req.VisitorPhone),
		IDType:            req.IDType,
		IDNumber:          strings.TrimSpace(req.IDNumber),
		VisitType:         req.VisitType,
		EventID:           req.EventID,
		StudentName:       strings.TrimSpace(req.StudentName),
		RelationToStudent: strings.TrimSpace(req.RelationToStudent),
		Department:        strings.TrimSpace(req.Department),
		Purpose:           strings.TrimSpace(req.Purpose),
		ValidFrom:         req.ValidFrom,
		ValidUntil:        req.ValidUntil,
	}, actorFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	view := service.View{Pass: created, Status: pass.Resolve(created, s.svc.Now(), s.display)}
	writeJSON(w, http.StatusCreated, s.mapPass(view))
}

func (s *Server) handleListActivePasses(w http.ResponseWriter, r *http.Request) {
	views, err := s.svc.ListActive(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resp := make([]passResponse, 0, len(views))
	for _, view := range views {
		resp = append(resp, s.mapPass(view))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyPass(w http.ResponseWriter, r *http.Request) {
	passID := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "passId")))
	if !pass.ValidPassID(passID) {
		writeError(w, http.StatusBadRequest, "invalid_pass_id")
		return
	}

	view, err := s.svc.VerifyPass(r.Context(), passID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	verificationsTotal.WithLabelValues(view.Status.Lifecycle).Inc()
	s.recordScan(r.Context(), view)
	writeJSON(w, http.StatusOK, map[string]any{"pass": s.mapPass(view)})
}

func (s *Server) handleRecordEntryOrExit(w http.ResponseWriter, r *http.Request) {
	passID := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "passId")))
	if !pass.ValidPassID(passID) {
		writeError(w, http.StatusBadRequest, "invalid_pass_id")
		return
	}

	result, err := s.svc.RecordEntryOrExit(r.Context(), passID)
	if err != nil {
		recordingRejectionsTotal.Inc()
		s.writeServiceError(w, err)
		return
	}

	recordingsTotal.WithLabelValues(result.Action).Inc()
	message := "Entry recorded"
	if result.Action == service.ActionExit {
		message = "Exit recorded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"action":    result.Action,
		"message":   message,
		"timestamp": result.Timestamp,
	})
}

func (s *Server) handleCancelPass(w http.ResponseWriter, r *http.Request) {
	s.terminatePass(w, r, model.PassStatusCancelled)
}

func (s *Server) handleSoftDeletePass(w http.ResponseWriter, r *http.Request) {
	s.terminatePass(w, r, model.PassStatusDeleted)
}

func (s *Server) handleHardDeletePass(w http.ResponseWriter, r *http.Request) {
	s.terminatePass(w, r, model.PassStatusDeleted)
}

func (s *Server) terminatePass(w http.ResponseWriter, r *http.Request, target string) {
	passID := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "passId")))
	if !pass.ValidPassID(passID) {
		writeError(w, http.StatusBadRequest, "invalid_pass_id")
		return
	}
	if err := s.svc.CancelOrDelete(r.Context(), passID, actorFromContext(r.Context()), target); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Student entry handlers

func mapStudentEntry(e model.StudentEntry) studentEntryResponse {
	return studentEntryResponse{
		ID:                 e.ID,
		RegistrationNumber: e.RegistrationNumber,
		Name:               e.Name,
		Purpose:            e.Purpose,
		EntryTime:          e.EntryTime,
		ExitTime:           e.ExitTime,
	}
}

func (s *Server) handleRecordStudentEntry(w http.ResponseWriter, r *http.Request) {
	var req studentEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	entry, err := s.svc.RecordStudentEntry(r.Context(), service.StudentEntryInput{
		RegistrationNumber: strings.TrimSpace(req.RegistrationNumber),
		Name:               strings.TrimSpace(req.Name),
		Purpose:            strings.TrimSpace(req.Purpose),
	}, actorFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapStudentEntry(entry))
}

func (s *Server) handleListStudentEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.ListStudentEntries(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resp := make([]studentEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, mapStudentEntry(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecordStudentExit(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.RecordStudentExit(r.Context(), chi.URLParam(r, "entryId"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapStudentEntry(entry))
}

// Report & event handlers

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Report(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.ListEvents(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resp := make([]eventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, mapEvent(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	event, err := s.svc.CreateEvent(r.Context(), service.EventInput{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Venue:       req.Venue,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
	}, actorFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapEvent(event))
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	event, err := s.svc.UpdateEvent(r.Context(), eventID, service.EventInput{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Venue:       req.Venue,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapEvent(event))
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteEvent(r.Context(), chi.URLParam(r, "eventId")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Error mapping

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Code)
		return
	}
	var nerr *service.NotFoundError
	if errors.As(err, &nerr) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"code":    "NOT_FOUND",
			"id":      nerr.PassID,
			"message": "Pass ID " + nerr.PassID + " not found",
		})
		return
	}
	var terr *service.TerminalError
	if errors.As(err, &terr) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":   "pass_" + terr.Lifecycle,
			"message": terr.Message,
		})
		return
	}
	if errors.Is(err, service.ErrAlreadyCompleted) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":   "pass_already_used",
			"message": "Entry and exit already recorded for this pass",
		})
		return
	}
	if errors.Is(err, service.ErrExitAlreadyRecorded) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":   "exit_already_recorded",
			"message": "Exit already recorded for this entry",
		})
		return
	}
	if errors.Is(err, service.ErrForbidden) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if isUnavailable(err) {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "server_error")
}

func isUnavailable(err error) bool {
	return errors.Is(err, store.ErrUnavailable)
}

// Helpers

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
