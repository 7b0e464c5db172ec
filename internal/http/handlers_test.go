package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/roadside-dispatch/internal/dispatcher"
	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/identity"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/notify"
	"github.com/example/roadside-dispatch/internal/query"
	"github.com/example/roadside-dispatch/internal/storage"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := storage.NewMemoryStore()
	gidx := geo.NewMemoryIndex()
	coord := &dispatcher.Coordinator{Store: store, Geo: gidx, SearchRadiusM: 50000, MaxCandidates: 10, AcceptRetries: 3}
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return NewServer(logger, identity.NewJWTVerifier(testSecret), coord, query.Views{Store: store}, gidx, nil, notify.NewWSRegistry())
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) { w.t.Log(string(p)); return len(p), nil }

func token(t *testing.T, sub string, role models.Role) string {
	t.Helper()
	claims := identity.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: string(role),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func doJSON(t *testing.T, s *Server, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func submitBody() map[string]any {
	return map[string]any{
		"location":     map[string]any{"coord": map[string]any{"lat": 12.97, "lon": 77.59}, "address": "MG Road"},
		"vehicle_info": map[string]any{"make": "Maruti", "model": "Swift", "reg_number": "KA-01-1234"},
		"description":  "flat tyre",
	}
}

func TestAnonymousCallsRejected(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, "POST", "/api/v1/requests", "", submitBody())
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestSubmitRequiresCustomerRole(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, "POST", "/api/v1/requests", token(t, "prov1", models.RoleProvider), submitBody())
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestSubmitAndAcceptFlow(t *testing.T) {
	s := newTestServer(t)
	custTok := token(t, "cust1", models.RoleCustomer)
	provTok := token(t, "prov1", models.RoleProvider)

	// provider comes online near the customer
	w := doJSON(t, s, "POST", "/internal/provider/locations", provTok, map[string]any{
		"loc": map[string]any{"lat": 12.96, "lon": 77.58}, "available": true,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("beacon: expected 204, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, "POST", "/api/v1/requests", custTok, submitBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created models.ServiceRequest
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.Status != models.StatusPending || created.Version != 1 {
		t.Fatalf("unexpected created request: %+v", created)
	}

	w = doJSON(t, s, "GET", "/api/v1/requests/nearby", provTok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("nearby: expected 200, got %d", w.Code)
	}
	var candidates []models.ServiceRequest
	if err := json.Unmarshal(w.Body.Bytes(), &candidates); err != nil {
		t.Fatalf("decode candidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != created.ID {
		t.Fatalf("unexpected candidates: %+v", candidates)
	}

	w = doJSON(t, s, "PUT", fmt.Sprintf("/api/v1/requests/%s/accept", created.ID), provTok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var accepted models.ServiceRequest
	if err := json.Unmarshal(w.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("decode accepted: %v", err)
	}
	if accepted.Status != models.StatusAccepted || accepted.ProviderID != "prov1" || accepted.Version != 2 {
		t.Fatalf("unexpected accepted request: %+v", accepted)
	}

	// second provider loses
	prov2Tok := token(t, "prov2", models.RoleProvider)
	w = doJSON(t, s, "POST", "/internal/provider/locations", prov2Tok, map[string]any{
		"loc": map[string]any{"lat": 12.96, "lon": 77.58}, "available": true,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("beacon2: expected 204, got %d", w.Code)
	}
	w = doJSON(t, s, "PUT", fmt.Sprintf("/api/v1/requests/%s/accept", created.ID), prov2Tok, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("losing accept: expected 409, got %d: %s", w.Code, w.Body.String())
	}

	// complete by the wrong provider is forbidden
	w = doJSON(t, s, "PUT", fmt.Sprintf("/api/v1/requests/%s/complete", created.ID), prov2Tok, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("wrong complete: expected 403, got %d", w.Code)
	}

	w = doJSON(t, s, "PUT", fmt.Sprintf("/api/v1/requests/%s/complete", created.ID), provTok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// customer history shows the completed job
	w = doJSON(t, s, "GET", "/api/v1/requests/my", custTok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("my: expected 200, got %d", w.Code)
	}
	var mine []models.ServiceRequest
	if err := json.Unmarshal(w.Body.Bytes(), &mine); err != nil {
		t.Fatalf("decode mine: %v", err)
	}
	if len(mine) != 1 || mine[0].Status != models.StatusCompleted {
		t.Fatalf("unexpected history: %+v", mine)
	}
}

func TestCancelThenAcceptConflicts(t *testing.T) {
	s := newTestServer(t)
	custTok := token(t, "cust1", models.RoleCustomer)
	provTok := token(t, "prov1", models.RoleProvider)

	w := doJSON(t, s, "POST", "/internal/provider/locations", provTok, map[string]any{
		"loc": map[string]any{"lat": 12.96, "lon": 77.58}, "available": true,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("beacon: expected 204, got %d", w.Code)
	}

	w = doJSON(t, s, "POST", "/api/v1/requests", custTok, submitBody())
	var created models.ServiceRequest
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}

	w = doJSON(t, s, "PUT", fmt.Sprintf("/api/v1/requests/%s/cancel", created.ID), custTok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, "PUT", fmt.Sprintf("/api/v1/requests/%s/accept", created.ID), provTok, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("accept after cancel: expected 409, got %d", w.Code)
	}
}

func TestAcceptUnknownRequest(t *testing.T) {
	s := newTestServer(t)
	provTok := token(t, "prov1", models.RoleProvider)
	w := doJSON(t, s, "POST", "/internal/provider/locations", provTok, map[string]any{
		"loc": map[string]any{"lat": 0, "lon": 0}, "available": true,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("beacon: expected 204, got %d", w.Code)
	}
	w = doJSON(t, s, "PUT", "/api/v1/requests/ghost/accept", provTok, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSubmitValidationError(t *testing.T) {
	s := newTestServer(t)
	custTok := token(t, "cust1", models.RoleCustomer)
	w := doJSON(t, s, "POST", "/api/v1/requests", custTok, map[string]any{
		"location": map[string]any{"coord": map[string]any{"lat": 120.0, "lon": 77.59}, "address": "x"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}
