package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"qtable-tenant/internal/domain"
	"qtable-tenant/internal/lifecycle"
	"qtable-tenant/internal/repository"
)

// TenantsHandler 平台级租户管理 API（/platform/api/v1/tenants）
// 全部操作要求 SuperAdmin
type TenantsHandler struct {
	tenants repository.TenantsRepository
	domains repository.DomainsRepository
	manager *lifecycle.Manager
	logger  *zap.Logger
}

// NewTenantsHandler 创建租户管理 Handler
func NewTenantsHandler(tenants repository.TenantsRepository, domains repository.DomainsRepository, manager *lifecycle.Manager, logger *zap.Logger) *TenantsHandler {
	return &TenantsHandler{
		tenants: tenants,
		domains: domains,
		manager: manager,
		logger:  logger,
	}
}

// requireSuperAdmin 平台权限检查
// 返回 actor user_id；未通过时已写响应，调用方直接 return
func requireSuperAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, Fail("authentication required"))
		return "", false
	}
	if !p.IsSuperAdmin() {
		writeJSON(w, http.StatusForbidden, Fail("forbidden"))
		return "", false
	}
	return p.UserID, true
}

func tenantDTO(t *domain.Tenant) map[string]any {
	out := map[string]any{
		"tenant_id":     t.TenantID,
		"tenant_name":   t.TenantName,
		"slug":          t.Slug,
		"status":        string(t.Status),
		"channel_token": t.ChannelToken,
		"plan":          t.Plan,
		"config":        t.Config,
		"created_at":    t.CreatedAt,
		"updated_at":    t.UpdatedAt,
	}
	if t.SuspendedAt != nil {
		out["suspended_at"] = t.SuspendedAt
	}
	if t.DeletedAt != nil {
		out["deleted_at"] = t.DeletedAt
	}
	return out
}

func domainDTO(d *domain.TenantDomain) map[string]any {
	out := map[string]any{
		"domain_id":  d.DomainID,
		"tenant_id":  d.TenantID,
		"domain":     d.Domain,
		"is_primary": d.IsPrimary,
		"ssl_status": d.SSLStatus,
		"created_at": d.CreatedAt,
	}
	if d.VerifiedAt != nil {
		out["verified_at"] = d.VerifiedAt
	}
	return out
}

const tenantsBasePath = "/platform/api/v1/tenants"

// ServeHTTP 路由分发
func (h *TenantsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireSuperAdmin(w, r)
	if !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, tenantsBasePath)
	rest = strings.Trim(rest, "/")

	switch {
	case rest == "":
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.provision(w, r, actor)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		parts := strings.Split(rest, "/")
		tenantID := parts[0]
		switch {
		case len(parts) == 1 && r.Method == http.MethodGet:
			h.get(w, r, tenantID)
		case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodPost:
			h.transition(w, r, tenantID, actor)
		case len(parts) == 2 && parts[1] == "domains" && r.Method == http.MethodGet:
			h.listDomains(w, r, tenantID)
		case len(parts) == 2 && parts[1] == "domains" && r.Method == http.MethodPost:
			h.addDomain(w, r, tenantID)
		case len(parts) == 3 && parts[1] == "domains" && r.Method == http.MethodDelete:
			h.removeDomain(w, r, tenantID, parts[2])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (h *TenantsHandler) list(w http.ResponseWriter, r *http.Request) {
	filter := repository.TenantFilters{
		Status: domain.TenantStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
	}
	page := parseInt(r.URL.Query().Get("page"), 1)
	size := parseInt(r.URL.Query().Get("size"), 50)

	items, total, err := h.tenants.ListTenants(r.Context(), filter, page, size)
	if err != nil {
		h.logger.Error("Failed to list tenants", zap.Error(err))
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, t := range items {
		out = append(out, tenantDTO(t))
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"items": out, "total": total}))
}

func (h *TenantsHandler) provision(w http.ResponseWriter, r *http.Request, actor string) {
	var in lifecycle.ProvisionInput
	if err := readBodyJSON(r, 1<<20, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	in.ActorUserID = actor

	result, err := h.manager.Provision(r.Context(), in)
	if err != nil {
		h.logger.Error("Tenant provisioning failed",
			zap.String("slug", in.Slug),
			zap.Error(err),
		)
		writeError(w, err)
		return
	}

	out := map[string]any{
		"tenant":         tenantDTO(result.Tenant),
		"primary_domain": domainDTO(result.PrimaryDomain),
		"admin_email":    result.AdminEmail,
	}
	if result.TempPassword != "" {
		out["temp_password"] = result.TempPassword
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

func (h *TenantsHandler) get(w http.ResponseWriter, r *http.Request, tenantID string) {
	t, err := h.tenants.GetTenant(r.Context(), tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(tenantDTO(t)))
}

func (h *TenantsHandler) transition(w http.ResponseWriter, r *http.Request, tenantID, actor string) {
	var body struct {
		Status string `json:"status"`
	}
	if err := readBodyJSON(r, 1<<16, &body); err != nil || body.Status == "" {
		writeJSON(w, http.StatusBadRequest, Fail("status is required"))
		return
	}

	t, err := h.manager.Transition(r.Context(), tenantID, domain.TenantStatus(body.Status), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(tenantDTO(t)))
}

func (h *TenantsHandler) listDomains(w http.ResponseWriter, r *http.Request, tenantID string) {
	list, err := h.domains.ListDomainsByTenant(r.Context(), tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(list))
	for _, d := range list {
		out = append(out, domainDTO(d))
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"items": out, "total": len(out)}))
}

func (h *TenantsHandler) addDomain(w http.ResponseWriter, r *http.Request, tenantID string) {
	var body struct {
		Domain    string `json:"domain"`
		IsPrimary bool   `json:"is_primary"`
	}
	if err := readBodyJSON(r, 1<<16, &body); err != nil || body.Domain == "" {
		writeJSON(w, http.StatusBadRequest, Fail("domain is required"))
		return
	}

	d, err := h.manager.AddDomain(r.Context(), tenantID, &domain.TenantDomain{
		Domain:    strings.ToLower(body.Domain),
		IsPrimary: body.IsPrimary,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if body.IsPrimary {
		if err := h.domains.SetPrimary(r.Context(), tenantID, d.Domain); err != nil {
			h.logger.Warn("Failed to switch primary domain",
				zap.String("tenant_id", tenantID),
				zap.String("domain", d.Domain),
				zap.Error(err),
			)
		}
	}
	writeJSON(w, http.StatusOK, Ok(domainDTO(d)))
}

func (h *TenantsHandler) removeDomain(w http.ResponseWriter, r *http.Request, tenantID, domainName string) {
	if err := h.manager.RemoveDomain(r.Context(), tenantID, domainName); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"deleted": domainName}))
}
