package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"qtable-tenant/internal/domain"
	"qtable-tenant/internal/repository"
)

// ShopHandler 店面侧租户 API（/shop/api/v1）
// 只暴露调用方自己 scope 内的数据
type ShopHandler struct {
	tenants repository.TenantsRepository
	logger  *zap.Logger
}

// NewShopHandler 创建店面 Handler
func NewShopHandler(tenants repository.TenantsRepository, logger *zap.Logger) *ShopHandler {
	return &ShopHandler{tenants: tenants, logger: logger}
}

// shopTenantDTO 店面视角的租户信息，不含 channel_token 等敏感字段
func shopTenantDTO(t *domain.Tenant) map[string]any {
	return map[string]any{
		"tenant_id":   t.TenantID,
		"tenant_name": t.TenantName,
		"slug":        t.Slug,
		"status":      string(t.Status),
		"plan":        t.Plan,
		"config":      t.Config,
	}
}

// ServeHTTP 路由分发
func (h *ShopHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch {
	case r.URL.Path == "/shop/api/v1/tenant/current":
		h.current(w, r)
	case strings.HasPrefix(r.URL.Path, "/shop/api/v1/tenants/"):
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/shop/api/v1/tenants/"), "/")
		h.get(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// current 返回当前请求绑定的租户
func (h *ShopHandler) current(w http.ResponseWriter, r *http.Request) {
	token, _ := CallerScope(r.Context())
	if token == "" {
		writeJSON(w, http.StatusNotFound, Fail("not found"))
		return
	}
	t, err := h.tenants.GetTenantByChannelToken(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(shopTenantDTO(t)))
}

// get 按 ID 查询，scope 不匹配时与不存在同样返回 404
// 不能让跨租户探测者区分"不存在"和"无权访问"
func (h *ShopHandler) get(w http.ResponseWriter, r *http.Request, tenantID string) {
	token, isSuperAdmin := CallerScope(r.Context())

	t, err := h.tenants.GetTenant(r.Context(), tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !isSuperAdmin && t.ChannelToken != token {
		writeJSON(w, http.StatusNotFound, Fail("not found"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(shopTenantDTO(t)))
}
