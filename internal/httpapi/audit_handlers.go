package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"qtable-tenant/internal/audit"
	"qtable-tenant/internal/domain"
)

// AuditHandler 审计日志查询/导出 API（/platform/api/v1/audit-log）
// 审计只读：没有修改和删除接口
type AuditHandler struct {
	recorder *audit.Recorder
	logger   *zap.Logger
}

// NewAuditHandler 创建审计 Handler
func NewAuditHandler(recorder *audit.Recorder, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{recorder: recorder, logger: logger}
}

// ServeHTTP 路由分发
func (h *AuditHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSuperAdmin(w, r); !ok {
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch r.URL.Path {
	case "/platform/api/v1/audit-log":
		h.query(w, r)
	case "/platform/api/v1/audit-log/export":
		h.export(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func auditFilters(r *http.Request) (domain.AuditFilters, error) {
	q := r.URL.Query()
	filter := domain.AuditFilters{
		Action:   q.Get("action"),
		Severity: domain.AuditSeverity(q.Get("severity")),
		TenantID: q.Get("tenant_id"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, domain.NewValidationError("invalid from time %q", v)
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, domain.NewValidationError("invalid to time %q", v)
		}
		filter.To = &t
	}
	return filter, nil
}

func auditDTO(e *domain.AuditLogEntry) map[string]any {
	return map[string]any{
		"audit_id":      e.AuditID,
		"action":        e.Action,
		"severity":      string(e.Severity),
		"tenant_id":     e.TenantID,
		"actor_user_id": e.ActorUserID,
		"channel_token": e.ChannelToken,
		"ip_address":    e.IPAddress,
		"metadata":      e.Metadata,
		"created_at":    e.CreatedAt,
	}
}

func (h *AuditHandler) query(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page := parseInt(r.URL.Query().Get("page"), 1)
	size := parseInt(r.URL.Query().Get("size"), 50)

	entries, total, err := h.recorder.Query(r.Context(), filter, page, size)
	if err != nil {
		h.logger.Error("Failed to query audit log", zap.Error(err))
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditDTO(e))
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"items": out, "total": total}))
}

func (h *AuditHandler) export(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := h.recorder.Export(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to export audit log", zap.Error(err))
		writeError(w, err)
		return
	}

	filename := fmt.Sprintf("audit-log-%s.xlsx", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
