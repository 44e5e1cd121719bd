package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 pprof 等）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Middleware http.Handler 包装器
type Middleware func(http.Handler) http.Handler

// Chain 按顺序套中间件：第一个参数是最外层
// Chain(a, b)(h) 的请求路径是 a -> b -> h
func Chain(mw ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(mw) - 1; i >= 0; i-- {
			next = mw[i](next)
		}
		return next
	}
}

// RegisterPlatformTenantRoutes 平台级租户管理路由
func (r *Router) RegisterPlatformTenantRoutes(h *TenantsHandler) {
	r.Handle(tenantsBasePath, h.ServeHTTP)
	r.Handle(tenantsBasePath+"/", h.ServeHTTP)
}

// RegisterPlatformAuditRoutes 平台级审计路由
func (r *Router) RegisterPlatformAuditRoutes(h *AuditHandler) {
	r.Handle("/platform/api/v1/audit-log", h.ServeHTTP)
	r.Handle("/platform/api/v1/audit-log/export", h.ServeHTTP)
}

// RegisterShopRoutes 店面侧路由
func (r *Router) RegisterShopRoutes(h *ShopHandler) {
	r.Handle("/shop/api/v1/tenant/current", h.ServeHTTP)
	r.Handle("/shop/api/v1/tenants/", h.ServeHTTP)
}

// RegisterHealthRoutes 健康检查（TenantGate 对 /healthz 直接放行）
func (r *Router) RegisterHealthRoutes() {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}
