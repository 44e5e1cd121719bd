package commerce

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// 商务引擎（Vendure 风格）管理 API 客户端。
// 隔离核心只负责把正确的 Channel 送到商务引擎，不重新实现任何 catalog/order 逻辑。

// Channel 数据隔离边界（一个租户独占一个 Channel）
type Channel struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Token string `json:"token"` // 请求层隔离凭证
}

// CreateChannelRequest 创建 Channel 请求
type CreateChannelRequest struct {
	Code            string `json:"code"`
	Token           string `json:"token"`
	SellerID        string `json:"sellerId"`
	DefaultLanguage string `json:"defaultLanguageCode"`
	Currency        string `json:"currencyCode"`
	TaxZoneID       string `json:"defaultTaxZoneId,omitempty"`
	ShippingZoneID  string `json:"defaultShippingZoneId,omitempty"`
}

// CreateRoleRequest 创建角色请求
type CreateRoleRequest struct {
	Code        string   `json:"code"`
	Description string   `json:"description"`
	ChannelIDs  []string `json:"channelIds"`
	Permissions []string `json:"permissions"`
}

// CreateAdministratorRequest 创建管理员请求
type CreateAdministratorRequest struct {
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"emailAddress"`
	Password  string   `json:"password"`
	RoleIDs   []string `json:"roleIds"`
}

// TenantAdminPermissions 租户管理员角色的固定权限清单（业务权限）
// 刻意不含平台级权限：CreateChannel/DeleteChannel/CreateSeller/DeleteSeller/ManageTenants
var TenantAdminPermissions = []string{
	"CreateCatalog", "ReadCatalog", "UpdateCatalog", "DeleteCatalog",
	"CreateCustomer", "ReadCustomer", "UpdateCustomer", "DeleteCustomer",
	"CreateOrder", "ReadOrder", "UpdateOrder", "DeleteOrder",
	"CreatePromotion", "ReadPromotion", "UpdatePromotion", "DeletePromotion",
	"CreateShippingMethod", "ReadShippingMethod", "UpdateShippingMethod", "DeleteShippingMethod",
	"CreatePaymentMethod", "ReadPaymentMethod", "UpdatePaymentMethod", "DeletePaymentMethod",
	"CreateAsset", "ReadAsset", "UpdateAsset", "DeleteAsset",
	"ReadSettings", "UpdateSettings",
	"ReadStockLocation", "UpdateStockLocation",
}

// Client 商务引擎客户端接口
type Client interface {
	// CreateSeller 创建业务主体（Seller）
	CreateSeller(ctx context.Context, name string) (string, error)

	// CreateChannel 创建数据隔离 Channel，返回 id + 隔离凭证
	CreateChannel(ctx context.Context, req CreateChannelRequest) (*Channel, error)

	// GetDefaultChannel 查询平台级 default channel（聚合 scope）
	GetDefaultChannel(ctx context.Context) (*Channel, error)

	// ListChannels 列出全部 Channel（孤儿对账用）
	ListChannels(ctx context.Context) ([]Channel, error)

	// GetSuperAdminRole 查询平台最高权限角色 ID
	GetSuperAdminRole(ctx context.Context) (string, error)

	// AssignRoleToChannel 把角色授权到 Channel
	// 开通流程里必须先把 SuperAdmin 角色授到新 Channel，再创建租户角色/管理员：
	// 角色与管理员的创建本身要对目标 Channel 做权限校验，顺序颠倒会报权限错误
	AssignRoleToChannel(ctx context.Context, roleID, channelID string) error

	// CreateRole 创建角色
	CreateRole(ctx context.Context, req CreateRoleRequest) (string, error)

	// CreateAdministrator 创建管理员账号
	CreateAdministrator(ctx context.Context, req CreateAdministratorRequest) (string, error)

	// DeleteChannel 销毁 Channel 及其全部数据（purge 级联，不可逆）
	DeleteChannel(ctx context.Context, channelID string) error
}

// RestClient 商务引擎 REST 客户端
type RestClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewRestClient 创建商务引擎客户端
func NewRestClient(baseURL, apiToken string, logger *zap.Logger) *RestClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(apiToken)

	return &RestClient{httpClient: client, logger: logger}
}

// 确保实现了接口
var _ Client = (*RestClient)(nil)

type idResponse struct {
	ID string `json:"id"`
}

func (c *RestClient) CreateSeller(ctx context.Context, name string) (string, error) {
	var out idResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]any{"name": name}).
		SetResult(&out).
		Post("/admin-api/sellers")
	if err != nil {
		return "", fmt.Errorf("failed to create seller: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("failed to create seller: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.ID, nil
}

func (c *RestClient) CreateChannel(ctx context.Context, req CreateChannelRequest) (*Channel, error) {
	var out Channel
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/admin-api/channels")
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to create channel: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &out, nil
}

func (c *RestClient) GetDefaultChannel(ctx context.Context) (*Channel, error) {
	var out Channel
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/admin-api/channels/default")
	if err != nil {
		return nil, fmt.Errorf("failed to get default channel: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to get default channel: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &out, nil
}

func (c *RestClient) ListChannels(ctx context.Context) ([]Channel, error) {
	var out struct {
		Items []Channel `json:"items"`
	}
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/admin-api/channels")
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to list channels: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.Items, nil
}

func (c *RestClient) GetSuperAdminRole(ctx context.Context) (string, error) {
	var out idResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/admin-api/roles/superadmin")
	if err != nil {
		return "", fmt.Errorf("failed to get superadmin role: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("failed to get superadmin role: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.ID, nil
}

func (c *RestClient) AssignRoleToChannel(ctx context.Context, roleID, channelID string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]any{"channelId": channelID}).
		Post(fmt.Sprintf("/admin-api/roles/%s/channels", roleID))
	if err != nil {
		return fmt.Errorf("failed to assign role to channel: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to assign role to channel: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *RestClient) CreateRole(ctx context.Context, req CreateRoleRequest) (string, error) {
	var out idResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/admin-api/roles")
	if err != nil {
		return "", fmt.Errorf("failed to create role: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("failed to create role: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.ID, nil
}

func (c *RestClient) CreateAdministrator(ctx context.Context, req CreateAdministratorRequest) (string, error) {
	var out idResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/admin-api/administrators")
	if err != nil {
		return "", fmt.Errorf("failed to create administrator: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("failed to create administrator: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.ID, nil
}

func (c *RestClient) DeleteChannel(ctx context.Context, channelID string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/admin-api/channels/%s", channelID))
	if err != nil {
		return fmt.Errorf("failed to delete channel: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to delete channel: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
