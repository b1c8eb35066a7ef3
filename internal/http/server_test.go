package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"campusgate/gatepass/internal/auth"
	"campusgate/gatepass/internal/config"
	"campusgate/gatepass/internal/pass"
	"campusgate/gatepass/internal/service"
	"campusgate/gatepass/internal/store/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *service.Service, config.Config) {
	t.Helper()
	cfg := config.Config{
		JWTSecret:       "test-secret",
		JWTIssuer:       "test-issuer",
		QRVerifyBaseURL: "https://gate.example.edu",
		StoreTimeout:    time.Second,
	}
	mem := memory.New()
	svc := service.New(mem, mem, mem, pass.NewQRCodec(cfg.QRVerifyBaseURL), time.UTC, cfg.StoreTimeout)
	server := NewServer(cfg, svc, nil, time.UTC)
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)
	return app, svc, cfg
}

func mustToken(t *testing.T, cfg config.Config, userID, role, name string) string {
	t.Helper()
	token, err := auth.NewAccessToken(cfg.JWTSecret, cfg.JWTIssuer, 15*time.Minute, auth.Claims{
		UserID: userID,
		Role:   role,
		Name:   name,
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	return token
}

func doReq(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createPassBody(now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"visitorName":       "Ravi Kumar",
		"visitorPhone":      "9876543210",
		"idType":            "aadhar",
		"idNumber":          "1234-5678-9012",
		"visitType":         "parent_visit",
		"studentName":       "Anya Kumar",
		"relationToStudent": "father",
		"department":        "Physics",
		"purpose":           "hostel visit",
		"validFrom":         now.Add(-time.Hour).Format(time.RFC3339),
		"validUntil":        now.Add(time.Hour).Format(time.RFC3339),
	}
}

func TestAuthRequired(t *testing.T) {
	app, _, _ := newTestServer(t)

	resp := doReq(t, http.MethodGet, app.URL+"/api/passes/active", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCreateAndVerifyPassFlow(t *testing.T) {
	app, _, cfg := newTestServer(t)
	securityToken := mustToken(t, cfg, "sec-1", "security", "Gate One")

	resp := doReq(t, http.MethodPost, app.URL+"/api/passes", securityToken, createPassBody(time.Now().UTC()))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created passResponse
	decodeBody(t, resp, &created)
	if created.PassID == "" {
		t.Fatalf("no pass id in response")
	}
	if !strings.HasPrefix(created.QRCode, "data:image/png;base64,") {
		t.Fatalf("expected qr data url, got %.40s", created.QRCode)
	}
	if created.Status != "active" || created.EntryStatus != "not_entered" {
		t.Fatalf("expected active/not_entered, got %s/%s", created.Status, created.EntryStatus)
	}

	// Verification is public: no token required.
	resp = doReq(t, http.MethodGet, app.URL+"/api/passes/verify/"+created.PassID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var verify struct {
		Pass passResponse `json:"pass"`
	}
	decodeBody(t, resp, &verify)
	if verify.Pass.Status != "active" {
		t.Fatalf("expected active, got %s", verify.Pass.Status)
	}
	if verify.Pass.ValidUntilDisplay == "" {
		t.Fatalf("missing display rendering")
	}

	// First recording is the entry, second the exit, third conflicts.
	resp = doReq(t, http.MethodPost, app.URL+"/api/passes/"+created.PassID+"/verify", securityToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var record struct {
		Action  string `json:"action"`
		Message string `json:"message"`
	}
	decodeBody(t, resp, &record)
	if record.Action != "entry" {
		t.Fatalf("expected entry, got %s", record.Action)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/api/passes/"+created.PassID+"/verify", securityToken, nil)
	decodeBody(t, resp, &record)
	if record.Action != "exit" {
		t.Fatalf("expected exit, got %s", record.Action)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/api/passes/"+created.PassID+"/verify", securityToken, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	var conflict struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &conflict)
	if conflict.Error != "pass_already_used" {
		t.Fatalf("expected pass_already_used, got %s", conflict.Error)
	}
}

func TestVerifyUnknownPassPayload(t *testing.T) {
	app, _, _ := newTestServer(t)

	resp := doReq(t, http.MethodGet, app.URL+"/api/passes/verify/ZZZZ9999", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var payload struct {
		Code    string `json:"code"`
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	decodeBody(t, resp, &payload)
	if payload.Code != "NOT_FOUND" || payload.ID != "ZZZZ9999" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Message != "Pass ID ZZZZ9999 not found" {
		t.Fatalf("unexpected message %q", payload.Message)
	}
}

func TestRecordOnExpiredPassConflicts(t *testing.T) {
	app, svc, cfg := newTestServer(t)
	securityToken := mustToken(t, cfg, "sec-1", "security", "Gate One")

	resp := doReq(t, http.MethodPost, app.URL+"/api/passes", securityToken, createPassBody(time.Now().UTC()))
	var created passResponse
	decodeBody(t, resp, &created)

	svc.Now = func() time.Time { return created.ValidUntil.Add(time.Minute) }

	resp = doReq(t, http.MethodGet, app.URL+"/api/passes/verify/"+created.PassID, "", nil)
	var verify struct {
		Pass passResponse `json:"pass"`
	}
	decodeBody(t, resp, &verify)
	if verify.Pass.Status != "expired" {
		t.Fatalf("expected expired, got %s", verify.Pass.Status)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/api/passes/"+created.PassID+"/verify", securityToken, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	var conflict struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &conflict)
	if conflict.Error != "pass_expired" {
		t.Fatalf("expected pass_expired, got %s", conflict.Error)
	}
}

func TestRoleEnforcement(t *testing.T) {
	app, _, cfg := newTestServer(t)
	adminToken := mustToken(t, cfg, "admin-1", "admin", "Registrar")
	securityToken := mustToken(t, cfg, "sec-1", "security", "Gate One")
	staffToken := mustToken(t, cfg, "staff-1", "staff", "HoD Physics")

	resp := doReq(t, http.MethodPost, app.URL+"/api/passes", staffToken, createPassBody(time.Now().UTC()))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected staff to create passes, got %d", resp.StatusCode)
	}
	var created passResponse
	decodeBody(t, resp, &created)

	// Staff cannot record entries.
	resp = doReq(t, http.MethodPost, app.URL+"/api/passes/"+created.PassID+"/verify", staffToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for staff recording, got %d", resp.StatusCode)
	}

	// Hard delete is admin only; security is refused.
	resp = doReq(t, http.MethodDelete, app.URL+"/api/passes/"+created.PassID, securityToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for security hard delete, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodDelete, app.URL+"/api/passes/"+created.PassID, adminToken, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 for admin delete, got %d", resp.StatusCode)
	}

	// Deleted passes disappear from the active list.
	resp = doReq(t, http.MethodGet, app.URL+"/api/passes/active", securityToken, nil)
	var passes []passResponse
	decodeBody(t, resp, &passes)
	for _, p := range passes {
		if p.PassID == created.PassID {
			t.Fatalf("deleted pass still listed")
		}
	}

	// And further recording attempts conflict.
	resp = doReq(t, http.MethodPost, app.URL+"/api/passes/"+created.PassID+"/verify", securityToken, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on deleted pass, got %d", resp.StatusCode)
	}
}

func TestSoftDelete(t *testing.T) {
	app, _, cfg := newTestServer(t)
	adminToken := mustToken(t, cfg, "admin-1", "admin", "Registrar")
	securityToken := mustToken(t, cfg, "sec-1", "security", "Gate One")

	resp := doReq(t, http.MethodPost, app.URL+"/api/passes", securityToken, createPassBody(time.Now().UTC()))
	var created passResponse
	decodeBody(t, resp, &created)

	// Security can record scans but not retire passes.
	resp = doReq(t, http.MethodPatch, app.URL+"/api/passes/"+created.PassID+"/soft-delete", securityToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for security, got %d", resp.StatusCode)
	}

	resp = doReq(t, http.MethodPatch, app.URL+"/api/passes/"+created.PassID+"/soft-delete", adminToken, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	// Soft delete is terminal: repeating it conflicts.
	resp = doReq(t, http.MethodPatch, app.URL+"/api/passes/"+created.PassID+"/soft-delete", adminToken, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestStudentEntriesFlow(t *testing.T) {
	app, _, cfg := newTestServer(t)
	securityToken := mustToken(t, cfg, "sec-1", "security", "Gate One")
	staffToken := mustToken(t, cfg, "staff-1", "staff", "HoD Physics")
	body := map[string]interface{}{
		"registrationNumber": "21BCE1024",
		"name":               "Anya Kumar",
		"purpose":            "library",
	}

	// Recording is a gate-desk action.
	resp := doReq(t, http.MethodPost, app.URL+"/api/students/entries", staffToken, body)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for staff, got %d", resp.StatusCode)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/api/students/entries", securityToken, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var entry studentEntryResponse
	decodeBody(t, resp, &entry)
	if entry.ID == "" || entry.ExitTime != nil {
		t.Fatalf("unexpected entry %+v", entry)
	}

	resp = doReq(t, http.MethodPut, app.URL+"/api/students/entries/"+entry.ID+"/exit", securityToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var closed studentEntryResponse
	decodeBody(t, resp, &closed)
	if closed.ExitTime == nil || closed.ExitTime.Before(closed.EntryTime) {
		t.Fatalf("bad exit time in %+v", closed)
	}

	// A second exit conflicts, an unknown entry is a 404.
	resp = doReq(t, http.MethodPut, app.URL+"/api/students/entries/"+entry.ID+"/exit", securityToken, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	var conflict struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &conflict)
	if conflict.Error != "exit_already_recorded" {
		t.Fatalf("expected exit_already_recorded, got %s", conflict.Error)
	}
	resp = doReq(t, http.MethodPut, app.URL+"/api/students/entries/unknown-id/exit", securityToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp = doReq(t, http.MethodGet, app.URL+"/api/students/entries", staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var entries []studentEntryResponse
	decodeBody(t, resp, &entries)
	if len(entries) != 1 || entries[0].RegistrationNumber != "21BCE1024" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestEventsAndReports(t *testing.T) {
	app, _, cfg := newTestServer(t)
	adminToken := mustToken(t, cfg, "admin-1", "admin", "Registrar")
	staffToken := mustToken(t, cfg, "staff-1", "staff", "HoD Physics")
	securityToken := mustToken(t, cfg, "sec-1", "security", "Gate One")
	now := time.Now().UTC()

	resp := doReq(t, http.MethodPost, app.URL+"/api/events", staffToken, map[string]interface{}{
		"name":      "Convocation 2026",
		"venue":     "Main Auditorium",
		"startDate": now.Format(time.RFC3339),
		"endDate":   now.Add(6 * time.Hour).Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var event eventResponse
	decodeBody(t, resp, &event)

	// Security cannot manage events.
	resp = doReq(t, http.MethodDelete, app.URL+"/api/events/"+event.ID, securityToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	// An event-guest pass against the created event.
	body := createPassBody(now)
	body["visitType"] = "event_guest"
	body["eventId"] = event.ID
	delete(body, "studentName")
	delete(body, "relationToStudent")
	delete(body, "department")
	resp = doReq(t, http.MethodPost, app.URL+"/api/passes", securityToken, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created passResponse
	decodeBody(t, resp, &created)
	if created.EventName != "Convocation 2026" {
		t.Fatalf("expected denormalized event name, got %q", created.EventName)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/api/passes/"+created.PassID+"/verify", securityToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = doReq(t, http.MethodGet, app.URL+"/api/reports", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var report struct {
		VisitorEntries  int64 `json:"visitorEntries"`
		PassesGenerated int64 `json:"passesGenerated"`
		EventsCount     int64 `json:"eventsCount"`
	}
	decodeBody(t, resp, &report)
	if report.PassesGenerated != 1 || report.VisitorEntries != 1 || report.EventsCount != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}
