package relay

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/syncboard/go-syncboard/internal/core/pairing"
)

// ============================================================================
//                              路由
// ============================================================================

// routes 组装中继的 HTTP 路由
//
// 配对端点的状态码约定（客户端按此映射回哨兵错误）：
//
//	404 短码不存在        410 短码或信箱已过期
//	409 短码已被认领      204 信箱为空，稍后再拉
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /pairing/codes", s.handleCreateCode)
	mux.HandleFunc("POST /pairing/codes/{code}/claim", s.handleClaimCode)
	mux.HandleFunc("POST /pairing/codes/{code}/challenge", s.handleSubmitChallenge)
	mux.HandleFunc("GET /pairing/codes/{code}/challenge", s.handlePollChallenge)
	mux.HandleFunc("POST /pairing/codes/{code}/ack", s.handleSubmitAck)
	mux.HandleFunc("GET /pairing/codes/{code}/ack", s.handlePollAck)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("/ws", s.ws.Handler())
	return mux
}

// ============================================================================
//                              配对端点
// ============================================================================

func (s *Server) handleCreateCode(w http.ResponseWriter, r *http.Request) {
	var req pairing.CodeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.DeviceID == "" || len(req.PublicKey) == 0 {
		s.writeError(w, http.StatusBadRequest, "deviceId and publicKey are required")
		return
	}

	grant, err := s.reg.create(req)
	if err != nil {
		logger.Warn("签发配对码失败", "device", req.DeviceID.Short(), "err", err)
		s.writeError(w, http.StatusInternalServerError, "issue pairing code failed")
		return
	}

	logger.Info("已签发配对码", "device", req.DeviceID.Short(), "sessions", s.reg.size())
	s.writeJSON(w, http.StatusCreated, grant)
}

func (s *Server) handleClaimCode(w http.ResponseWriter, r *http.Request) {
	var req pairing.ClaimRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		s.writeError(w, http.StatusBadRequest, "deviceId is required")
		return
	}

	grant, err := s.reg.claim(r.PathValue("code"), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	logger.Info("配对码已被认领", "device", req.DeviceID.Short())
	s.writeJSON(w, http.StatusOK, grant)
}

func (s *Server) handleSubmitChallenge(w http.ResponseWriter, r *http.Request) {
	var msg pairing.ChallengeMessage
	if !s.decodeBody(w, r, &msg) {
		return
	}
	if msg.ChallengeID == "" {
		s.writeError(w, http.StatusBadRequest, "challengeId is required")
		return
	}

	if err := s.reg.putChallenge(r.PathValue("code"), &msg); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePollChallenge(w http.ResponseWriter, r *http.Request) {
	msg, err := s.reg.takeChallenge(r.PathValue("code"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleSubmitAck(w http.ResponseWriter, r *http.Request) {
	var msg pairing.AckMessage
	if !s.decodeBody(w, r, &msg) {
		return
	}
	if msg.ChallengeID == "" {
		s.writeError(w, http.StatusBadRequest, "challengeId is required")
		return
	}

	if err := s.reg.putAck(r.PathValue("code"), &msg); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePollAck(w http.ResponseWriter, r *http.Request) {
	msg, err := s.reg.takeAck(r.PathValue("code"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Status    string `json:"status"`
		Sessions  int    `json:"sessions"`
		Devices   int    `json:"devices"`
		Forwarded uint64 `json:"forwarded"`
		Dropped   uint64 `json:"dropped"`
	}{
		Status:    "ok",
		Sessions:  s.reg.size(),
		Devices:   len(s.ws.Conns()),
		Forwarded: s.forwarded.Load(),
		Dropped:   s.dropped.Load(),
	})
}

// ============================================================================
//                              响应辅助
// ============================================================================

// decodeBody 解析 JSON 请求体，失败时写 400 并返回 false
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeFailure 把注册表的哨兵错误映射为状态码
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pairing.ErrNotReady):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, pairing.ErrCodeNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pairing.ErrCodeExpired):
		s.writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, pairing.ErrCodeClaimed):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Warn("配对端点内部错误", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Debug("写响应失败", "err", err)
	}
}
