package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestHandler(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	service, _ := newTestService(t)
	server := NewHTTPServer(service, "*", false)
	return server.Handler(), service
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func refreshCookie(t *testing.T, recorder *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == refreshCookieName {
			return cookie
		}
	}
	t.Fatal("no refresh cookie set")
	return nil
}

func TestRegisterEndpointSetsRefreshCookie(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodPost, "/api/auth/register",
		`{"name":"Ada","email":"ada@example.com","password":"password123"}`, nil)

	if recorder.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(t, recorder)
	if payload["accessToken"] == nil {
		t.Fatal("no access token in response")
	}
	if _, ok := payload["refreshToken"]; ok {
		t.Fatal("refresh token must travel only in the cookie")
	}

	cookie := refreshCookie(t, recorder)
	if !cookie.HttpOnly || cookie.Path != "/api/auth" || cookie.Value == "" {
		t.Fatalf("unexpected cookie attributes: %+v", cookie)
	}
}

func TestRefreshEndpointRotatesCookie(t *testing.T) {
	handler, _ := newTestHandler(t)

	registered := doJSON(t, handler, http.MethodPost, "/api/auth/register",
		`{"name":"Ada","email":"ada@example.com","password":"password123"}`, nil)
	first := refreshCookie(t, registered)

	refreshed := doJSON(t, handler, http.MethodPost, "/api/auth/refresh", "",
		map[string]string{"Cookie": refreshCookieName + "=" + first.Value})
	if refreshed.Code != http.StatusOK {
		t.Fatalf("refresh status %d: %s", refreshed.Code, refreshed.Body.String())
	}
	second := refreshCookie(t, refreshed)
	if second.Value == first.Value {
		t.Fatal("refresh cookie was not rotated")
	}

	// Replaying the spent cookie fails and clears it.
	replay := doJSON(t, handler, http.MethodPost, "/api/auth/refresh", "",
		map[string]string{"Cookie": refreshCookieName + "=" + first.Value})
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("replay status %d: %s", replay.Code, replay.Body.String())
	}
	if payload := decodeJSON(t, replay); payload["code"] != "INVALID_SESSION" {
		t.Fatalf("unexpected error payload: %v", payload)
	}
	cleared := refreshCookie(t, replay)
	if cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Fatalf("spent cookie not cleared: %+v", cleared)
	}
}

func TestRefreshEndpointWithoutCookie(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodPost, "/api/auth/refresh", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", recorder.Code)
	}
	if payload := decodeJSON(t, recorder); payload["code"] != "MISSING_TOKEN" {
		t.Fatalf("unexpected error payload: %v", payload)
	}
}

func TestMeEndpointRequiresBearer(t *testing.T) {
	handler, _ := newTestHandler(t)

	registered := doJSON(t, handler, http.MethodPost, "/api/auth/register",
		`{"name":"Ada","email":"ada@example.com","password":"password123"}`, nil)
	accessToken := decodeJSON(t, registered)["accessToken"].(string)

	anonymous := doJSON(t, handler, http.MethodGet, "/api/auth/me", "", nil)
	if anonymous.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status %d", anonymous.Code)
	}

	authed := doJSON(t, handler, http.MethodGet, "/api/auth/me", "",
		map[string]string{"Authorization": "Bearer " + accessToken})
	if authed.Code != http.StatusOK {
		t.Fatalf("authed status %d: %s", authed.Code, authed.Body.String())
	}
	payload := decodeJSON(t, authed)
	user, ok := payload["user"].(map[string]any)
	if !ok || user["email"] != "ada@example.com" {
		t.Fatalf("unexpected me payload: %v", payload)
	}
}

func TestLogoutEndpointAlwaysSucceeds(t *testing.T) {
	handler, _ := newTestHandler(t)

	// Nothing presented at all.
	bare := doJSON(t, handler, http.MethodPost, "/api/auth/logout", "", nil)
	if bare.Code != http.StatusOK {
		t.Fatalf("bare logout status %d", bare.Code)
	}
	payload := decodeJSON(t, bare)
	if payload["sessionDeleted"] != false || payload["accessRevoked"] != false {
		t.Fatalf("unexpected bare logout payload: %v", payload)
	}

	registered := doJSON(t, handler, http.MethodPost, "/api/auth/register",
		`{"name":"Ada","email":"ada@example.com","password":"password123"}`, nil)
	accessToken := decodeJSON(t, registered)["accessToken"].(string)
	cookie := refreshCookie(t, registered)

	full := doJSON(t, handler, http.MethodPost, "/api/auth/logout", "", map[string]string{
		"Authorization": "Bearer " + accessToken,
		"Cookie":        refreshCookieName + "=" + cookie.Value,
	})
	if full.Code != http.StatusOK {
		t.Fatalf("full logout status %d", full.Code)
	}
	payload = decodeJSON(t, full)
	if payload["sessionDeleted"] != true || payload["accessRevoked"] != true {
		t.Fatalf("unexpected full logout payload: %v", payload)
	}

	// The revoked access token no longer authenticates.
	me := doJSON(t, handler, http.MethodGet, "/api/auth/me", "",
		map[string]string{"Authorization": "Bearer " + accessToken})
	if me.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token status %d", me.Code)
	}
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	handler, _ := newTestHandler(t)

	registered := doJSON(t, handler, http.MethodPost, "/api/auth/register",
		`{"name":"Ada","email":"ada@example.com","password":"password123"}`, nil)
	accessToken := decodeJSON(t, registered)["accessToken"].(string)

	recorder := doJSON(t, handler, http.MethodGet, "/api/nope", "",
		map[string]string{"Authorization": "Bearer " + accessToken})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status %d", recorder.Code)
	}
	payload := decodeJSON(t, recorder)
	if payload["code"] != "NOT_FOUND" || payload["error"] == nil {
		t.Fatalf("unexpected envelope: %v", payload)
	}
}

func TestResolveInviteEndpointIsPublic(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodGet, "/api/invites/resolve?token=garbage", "", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestPreflightAnswersWithoutBody(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodOptions, "/api/auth/login", "", nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("status %d", recorder.Code)
	}
	if recorder.Body.Len() != 0 {
		t.Fatalf("preflight wrote a body: %q", recorder.Body.String())
	}
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	handler, _ := newTestHandler(t)

	health := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if health.Code != http.StatusOK {
		t.Fatalf("health status %d", health.Code)
	}

	ready := doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	if ready.Code != http.StatusOK {
		t.Fatalf("ready status %d", ready.Code)
	}
	if requestID := ready.Header().Get("X-Request-ID"); requestID == "" {
		t.Fatal("no request id header")
	}
}
