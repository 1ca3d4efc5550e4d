package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flotilla-coordinator/internal/dispatch"
	"flotilla-coordinator/internal/event"
	"flotilla-coordinator/internal/localization"
	"flotilla-coordinator/internal/types"
	"flotilla-coordinator/internal/util"
)

// Eligibility 是分配检查的抽象，由 dispatch.Gate 实现
type Eligibility interface {
	Check(ctx context.Context, robotID string, mission types.MissionDefinition) (dispatch.Decision, error)
}

// Server 暴露心跳接入、定位查询和实时状态接口
type Server struct {
	bus          *event.Bus
	localization *localization.Service
	gate         Eligibility
	hub          *Hub
	tracker      *StateTracker
	logger       *slog.Logger
}

// NewServer 创建 API 服务
func NewServer(bus *event.Bus, loc *localization.Service, gate Eligibility, hub *Hub, st *StateTracker, logger *slog.Logger) *Server {
	return &Server{
		bus:          bus,
		localization: loc,
		gate:         gate,
		hub:          hub,
		tracker:      st,
		logger:       logger.With("component", "api"),
	}
}

// Handler 返回注册了所有路由的 http.Handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", s.hub.ServeWs)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/robots/{isarId}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /api/robots/{robotId}/delocalize", s.handleDelocalize)
	mux.HandleFunc("PUT /api/robots/{robotId}/area", s.handleLocalize)
	mux.HandleFunc("GET /api/robots/{robotId}/localized", s.handleLocalized)
	mux.HandleFunc("GET /api/robots/{robotId}/eligibility", s.handleEligibility)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor 将领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, localization.ErrRobotNotFound),
		errors.Is(err, localization.ErrAreaNotFound),
		errors.Is(err, localization.ErrInstallationNotFound):
		return http.StatusNotFound
	case errors.Is(err, localization.ErrRobotInstallationMismatch),
		errors.Is(err, localization.ErrRobotNotLocalized),
		errors.Is(err, dispatch.ErrRuleRejected):
		return http.StatusConflict
	case errors.Is(err, localization.ErrDeckNotFound):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("请求处理失败", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.GetStateSnapshot())
}

// publish 发布信号，请求头中的 X-Trace-ID 会被沿用
func (s *Server) publish(r *http.Request, kind event.Kind, robotID string) string {
	traceID := r.Header.Get("X-Trace-ID")
	if traceID == "" {
		traceID = util.NewTraceID()
	}
	s.bus.Publish(event.Event{Kind: kind, RobotID: robotID, TraceID: traceID})
	return traceID
}

// handleHeartbeat 接收 ISAR 心跳，转换为计时器启动/重置信号
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	traceID := s.publish(r, event.LocalizationTimerStartOrReset, r.PathValue("isarId"))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "trace_id": traceID})
}

// handleDelocalize 接收显式的去定位请求，是即发即弃的
func (s *Server) handleDelocalize(w http.ResponseWriter, r *http.Request) {
	traceID := s.publish(r, event.LocalizationTimeout, r.PathValue("robotId"))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "trace_id": traceID})
}

type localizeRequest struct {
	AreaID string `json:"area_id"`
}

func (s *Server) handleLocalize(w http.ResponseWriter, r *http.Request) {
	var req localizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AreaID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "area_id is required"})
		return
	}
	robotID := r.PathValue("robotId")
	if err := s.localization.Localize(r.Context(), robotID, req.AreaID); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.tracker.Refresh(r.Context(), robotID); err != nil {
		s.logger.Warn("刷新机器人状态失败", "robot_id", robotID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"robot_id": robotID, "area_id": req.AreaID})
}

func (s *Server) handleLocalized(w http.ResponseWriter, r *http.Request) {
	robotID := r.PathValue("robotId")
	localized, err := s.localization.IsLocalized(r.Context(), robotID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"robot_id": robotID, "localized": localized})
}

// handleEligibility 供调度层在分配前查询机器人是否可以执行任务
func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mission := types.MissionDefinition{
		ID:               q.Get("mission"),
		Name:             q.Get("name"),
		InstallationCode: q.Get("installation"),
		AreaID:           q.Get("area"),
	}
	if mission.InstallationCode == "" || mission.AreaID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "installation and area are required"})
		return
	}
	decision, err := s.gate.Check(r.Context(), r.PathValue("robotId"), mission)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}
