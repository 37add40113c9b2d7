package server

import (
	"encoding/json"
	"net/http"
)

// AdminHandler 管理与监控接口（独立监听，服务停止后依然可用）
func (s *Server) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/config", s.handleAdminConfig)
	mux.HandleFunc("/admin/start", s.handleAdminStart)
	mux.HandleFunc("/admin/stop", s.handleAdminStop)
	mux.HandleFunc("/admin/state", s.handleAdminState)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.State() == Errored {
			http.Error(w, "errored", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleAdminConfig 提供运动参数与输入限流的读取与更新（热更新）
// GET  /admin/config  返回当前配置
// POST /admin/config  以 JSON 载荷更新部分字段
func (s *Server) handleAdminConfig(w http.ResponseWriter, r *http.Request) {
	room := s.Room()
	if room == nil {
		http.Error(w, "server has not been started", http.StatusConflict)
		return
	}

	type cfg struct {
		Acceleration   *float32 `json:"acceleration,omitempty"`
		LateralDamping *float32 `json:"lateralDamping,omitempty"`
		JumpImpulse    *float32 `json:"jumpImpulse,omitempty"`
		Gravity        *float32 `json:"gravity,omitempty"`
		InputRate      *float64 `json:"inputRate,omitempty"`
		InputBurst     *int     `json:"inputBurst,omitempty"`
	}

	tuning, perSec, burst := room.Settings()
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, cfg{
			Acceleration:   &tuning.Acceleration,
			LateralDamping: &tuning.LateralDamping,
			JumpImpulse:    &tuning.JumpImpulse,
			Gravity:        &tuning.Gravity,
			InputRate:      &perSec,
			InputBurst:     &burst,
		})
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.Acceleration != nil {
			tuning.Acceleration = *body.Acceleration
		}
		if body.LateralDamping != nil {
			if *body.LateralDamping < 0 || *body.LateralDamping > 1 {
				http.Error(w, "lateralDamping must be within [0,1]", http.StatusBadRequest)
				return
			}
			tuning.LateralDamping = *body.LateralDamping
		}
		if body.JumpImpulse != nil {
			tuning.JumpImpulse = *body.JumpImpulse
		}
		if body.Gravity != nil {
			tuning.Gravity = *body.Gravity
		}
		if body.InputRate != nil {
			perSec = *body.InputRate
		}
		if body.InputBurst != nil {
			burst = *body.InputBurst
		}
		if perSec <= 0 || burst <= 0 {
			http.Error(w, "inputRate and inputBurst must be positive", http.StatusBadRequest)
			return
		}
		room.SetTuning(tuning)
		room.SetInputLimit(perSec, burst)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		Log.Infof("config updated: accel=%.2f damping=%.2f jump=%.2f gravity=%.2f input=%.1f/s burst=%d",
			tuning.Acceleration, tuning.LateralDamping, tuning.JumpImpulse, tuning.Gravity, perSec, burst)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleAdminStart POST /admin/start {"bind_addr": ":5000", "room_password": "abc"}
func (s *Server) handleAdminStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		BindAddr     string  `json:"bind_addr"`
		RoomPassword *string `json:"room_password,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.BindAddr == "" {
		http.Error(w, "bind_addr required", http.StatusBadRequest)
		return
	}
	if err := s.Start(StartCommand{BindAddr: body.BindAddr, RoomPassword: body.RoomPassword}); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": err.Error(), "state": s.State().String()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "state": s.State().String()})
}

// handleAdminStop POST /admin/stop
func (s *Server) handleAdminStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.Stop(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": err.Error(), "state": s.State().String()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "state": s.State().String()})
}

// handleAdminState GET /admin/state
func (s *Server) handleAdminState(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"state":       s.State().String(),
		"connections": s.connCount(),
	}
	if err := s.LastError(); err != nil {
		payload["error"] = err.Error()
	}
	if addr := s.Addr(); addr != nil {
		payload["addr"] = addr.String()
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleMetrics 输出运行指标
// GET /metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state":   s.State().String(),
		"metrics": s.metrics.Snapshot(),
	})
}
