package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func adminDo(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: bad json %q", method, path, rec.Body.String())
		}
	}
	return rec, out
}

func TestAdminLifecycle(t *testing.T) {
	s := NewServer(testConfig())
	h := s.AdminHandler()

	if rec, _ := adminDo(t, h, http.MethodGet, "/admin/config", ""); rec.Code != http.StatusConflict {
		t.Fatalf("config before start: %d", rec.Code)
	}
	if _, out := adminDo(t, h, http.MethodGet, "/admin/state", ""); out["state"] != "not_running" {
		t.Fatalf("state = %v", out["state"])
	}

	rec, out := adminDo(t, h, http.MethodPost, "/admin/start", `{"bind_addr":"127.0.0.1:0","room_password":"abc"}`)
	if rec.Code != http.StatusOK || out["state"] != "running" {
		t.Fatalf("start: %d %v", rec.Code, out)
	}
	defer s.Stop()
	if !s.Room().policy.RequiresPassword() {
		t.Fatalf("room password not applied")
	}
	if rec, _ := adminDo(t, h, http.MethodPost, "/admin/start", `{"bind_addr":"127.0.0.1:0"}`); rec.Code != http.StatusConflict {
		t.Fatalf("second start: %d", rec.Code)
	}

	if rec, _ := adminDo(t, h, http.MethodPost, "/admin/config", `{"gravity": 3.5, "inputBurst": 4}`); rec.Code != http.StatusOK {
		t.Fatalf("config update: %d %s", rec.Code, rec.Body.String())
	}
	tuning, _, burst := s.Room().Settings()
	if tuning.Gravity != 3.5 || burst != 4 {
		t.Fatalf("settings = %+v burst %d", tuning, burst)
	}
	if rec, _ := adminDo(t, h, http.MethodPost, "/admin/config", `{"lateralDamping": 2}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad damping: %d", rec.Code)
	}

	if rec, out := adminDo(t, h, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK || out["metrics"] == nil {
		t.Fatalf("metrics: %d %v", rec.Code, out)
	}
	if rec, _ := adminDo(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}

	if rec, out := adminDo(t, h, http.MethodPost, "/admin/stop", ""); rec.Code != http.StatusOK || out["state"] != "stopped" {
		t.Fatalf("stop: %d %v", rec.Code, out)
	}
	if rec, _ := adminDo(t, h, http.MethodPost, "/admin/stop", ""); rec.Code != http.StatusConflict {
		t.Fatalf("second stop: %d", rec.Code)
	}
}

func TestAdminHealthzReportsErrored(t *testing.T) {
	s := NewServer(testConfig())
	h := s.AdminHandler()
	if rec, _ := adminDo(t, h, http.MethodPost, "/admin/start", `{"bind_addr":"256.0.0.1:bad"}`); rec.Code != http.StatusConflict {
		t.Fatalf("start on a bad address: %d", rec.Code)
	}
	if rec, _ := adminDo(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz while errored: %d", rec.Code)
	}
	if _, out := adminDo(t, h, http.MethodGet, "/admin/state", ""); out["state"] != "errored" || out["error"] == nil {
		t.Fatalf("state = %v", out)
	}

	// 失败只影响那一次启动，管理接口可以重新拉起服务
	rec, out := adminDo(t, h, http.MethodPost, "/admin/start", `{"bind_addr":"127.0.0.1:0"}`)
	if rec.Code != http.StatusOK || out["state"] != "running" {
		t.Fatalf("restart after error: %d %v", rec.Code, out)
	}
	defer s.Stop()
	if rec, _ := adminDo(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz after recovery: %d", rec.Code)
	}
}

func TestAdminStartUsesSnakeCaseFields(t *testing.T) {
	s := NewServer(testConfig())
	h := s.AdminHandler()
	if rec, _ := adminDo(t, h, http.MethodPost, "/admin/start", `{"bindAddr":"127.0.0.1:0"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("camelCase body accepted: %d", rec.Code)
	}
	rec, _ := adminDo(t, h, http.MethodPost, "/admin/start", `{"bind_addr":"127.0.0.1:0","room_password":"abc"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	defer s.Stop()
	if !s.Room().policy.RequiresPassword() {
		t.Fatalf("room_password ignored")
	}
}
