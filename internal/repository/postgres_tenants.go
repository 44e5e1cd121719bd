package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"qtable-tenant/internal/domain"
)

// PostgresTenantsRepository 租户 Repository 实现
type PostgresTenantsRepository struct {
	db *sql.DB
}

// NewPostgresTenantsRepository 创建租户 Repository
func NewPostgresTenantsRepository(db *sql.DB) *PostgresTenantsRepository {
	return &PostgresTenantsRepository{db: db}
}

// 确保实现了接口
var _ TenantsRepository = (*PostgresTenantsRepository)(nil)

// tenantColumns 统一的查询列（所有单行/多行查询共用，保证 scanTenant 对齐）
const tenantColumns = `
	tenant_id::text,
	tenant_name,
	slug,
	status,
	COALESCE(channel_id, '') as channel_id,
	COALESCE(channel_token, '') as channel_token,
	COALESCE(plan, 'trial') as plan,
	COALESCE(config, '{}'::jsonb) as config,
	suspended_at,
	deleted_at,
	created_at,
	updated_at
`

func scanTenant(row interface{ Scan(...any) error }) (*domain.Tenant, error) {
	var t domain.Tenant
	var configRaw json.RawMessage
	var suspendedAt, deletedAt sql.NullTime
	err := row.Scan(
		&t.TenantID,
		&t.TenantName,
		&t.Slug,
		&t.Status,
		&t.ChannelID,
		&t.ChannelToken,
		&t.Plan,
		&configRaw,
		&suspendedAt,
		&deletedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Config = configRaw
	if suspendedAt.Valid {
		t.SuspendedAt = &suspendedAt.Time
	}
	if deletedAt.Valid {
		t.DeletedAt = &deletedAt.Time
	}
	return &t, nil
}

// isUniqueViolation 判断 Postgres 唯一约束冲突（slug/domain/channel_token）
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

// GetTenant 根据 tenant_id 获取租户
func (r *PostgresTenantsRepository) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM tenants WHERE tenant_id = $1::uuid`, tenantColumns)
	t, err := scanTenant(r.db.QueryRowContext(ctx, query, tenantID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// GetTenantBySlug 根据 slug 获取租户
func (r *PostgresTenantsRepository) GetTenantBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	if slug == "" {
		return nil, fmt.Errorf("slug is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM tenants WHERE slug = $1`, tenantColumns)
	t, err := scanTenant(r.db.QueryRowContext(ctx, query, slug))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant by slug: %w", err)
	}
	return t, nil
}

// ResolveByDomain 根据域名获取租户（JOIN tenant_domains）
func (r *PostgresTenantsRepository) ResolveByDomain(ctx context.Context, domainName string) (*domain.Tenant, error) {
	if domainName == "" {
		return nil, fmt.Errorf("domain is required")
	}

	// JOIN 时逐列加 t. 前缀（tenant_id/created_at 在两张表里都有，必须限定）
	query := `
		SELECT
			t.tenant_id::text,
			t.tenant_name,
			t.slug,
			t.status,
			COALESCE(t.channel_id, '') as channel_id,
			COALESCE(t.channel_token, '') as channel_token,
			COALESCE(t.plan, 'trial') as plan,
			COALESCE(t.config, '{}'::jsonb) as config,
			t.suspended_at,
			t.deleted_at,
			t.created_at,
			t.updated_at
		FROM tenants t
		JOIN tenant_domains d ON d.tenant_id = t.tenant_id
		WHERE d.domain = $1
	`

	t, err := scanTenant(r.db.QueryRowContext(ctx, query, domainName))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve tenant by domain: %w", err)
	}
	return t, nil
}

// GetTenantByChannelToken 根据隔离凭证获取租户
func (r *PostgresTenantsRepository) GetTenantByChannelToken(ctx context.Context, channelToken string) (*domain.Tenant, error) {
	if channelToken == "" {
		return nil, fmt.Errorf("channel_token is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM tenants WHERE channel_token = $1`, tenantColumns)
	t, err := scanTenant(r.db.QueryRowContext(ctx, query, channelToken))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant by channel token: %w", err)
	}
	return t, nil
}

// ListTenants 查询租户列表（支持分页、过滤、搜索）
func (r *PostgresTenantsRepository) ListTenants(ctx context.Context, filter TenantFilters, page, size int) ([]*domain.Tenant, int, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	offset := (page - 1) * size

	// 构建 WHERE 条件
	where := []string{}
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}

	if filter.Search != "" {
		where = append(where, fmt.Sprintf("tenant_name ILIKE $%d", argIdx))
		args = append(args, "%"+filter.Search+"%")
		argIdx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	// 查询总数
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM tenants %s`, whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tenants: %w", err)
	}

	// 查询列表（带分页）
	query := fmt.Sprintf(`
		SELECT %s FROM tenants
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, tenantColumns, whereClause, argIdx, argIdx+1)
	args = append(args, size, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	tenants := []*domain.Tenant{}
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate tenants: %w", err)
	}

	return tenants, total, nil
}

// ListByStatusOlderThan 查询指定状态且 deleted_at 早于 cutoff 的租户
func (r *PostgresTenantsRepository) ListByStatusOlderThan(ctx context.Context, status domain.TenantStatus, cutoff time.Time) ([]*domain.Tenant, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tenants
		WHERE status = $1 AND deleted_at IS NOT NULL AND deleted_at < $2
		ORDER BY deleted_at
	`, tenantColumns)

	rows, err := r.db.QueryContext(ctx, query, string(status), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants by status: %w", err)
	}
	defer rows.Close()

	tenants := []*domain.Tenant{}
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenants: %w", err)
	}
	return tenants, nil
}

// ListChannelIDs 列出目录中所有已分配的 Channel ID
func (r *PostgresTenantsRepository) ListChannelIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT channel_id FROM tenants WHERE channel_id IS NOT NULL AND channel_id != ''`)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan channel id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// rowQueryer *sql.DB 与 *sql.Tx 共用的最小查询接口
type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// insertTenant 插入租户行（CreateTenant 与 CreateTenantWithDomain 共用）
func insertTenant(ctx context.Context, q rowQueryer, tenant *domain.Tenant) (string, error) {
	if tenant == nil {
		return "", fmt.Errorf("tenant is required")
	}
	if tenant.TenantName == "" {
		return "", fmt.Errorf("tenant_name is required")
	}
	if tenant.Slug == "" {
		return "", fmt.Errorf("slug is required")
	}

	status := tenant.Status
	if status == "" {
		status = domain.StatusRequested
	}
	plan := tenant.Plan
	if plan == "" {
		plan = "trial"
	}
	configArg := "{}"
	if len(tenant.Config) > 0 {
		configArg = string(tenant.Config)
	}

	var tenantID string
	err := q.QueryRowContext(ctx,
		`INSERT INTO tenants (tenant_name, slug, status, channel_id, channel_token, plan, config)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7::jsonb)
		 RETURNING tenant_id::text`,
		tenant.TenantName,
		tenant.Slug,
		string(status),
		tenant.ChannelID,
		tenant.ChannelToken,
		plan,
		configArg,
	).Scan(&tenantID)
	if err != nil {
		if isUniqueViolation(err) {
			return "", domain.NewValidationError("tenant slug %q is already taken", tenant.Slug)
		}
		return "", fmt.Errorf("failed to create tenant: %w", err)
	}

	return tenantID, nil
}

// CreateTenant 创建新租户
func (r *PostgresTenantsRepository) CreateTenant(ctx context.Context, tenant *domain.Tenant) (string, error) {
	return insertTenant(ctx, r.db, tenant)
}

// CreateTenantWithDomain 单个事务内写入租户行和主域名行
// slug/domain/channel_token 任一唯一约束冲突都整体回滚，
// 不会留下没有域名的半个租户（slug 也不会被占用）
func (r *PostgresTenantsRepository) CreateTenantWithDomain(ctx context.Context, tenant *domain.Tenant, primary *domain.TenantDomain) (string, string, error) {
	if primary == nil || primary.Domain == "" {
		return "", "", fmt.Errorf("primary domain is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tenantID, err := insertTenant(ctx, tx, tenant)
	if err != nil {
		return "", "", err
	}

	primary.TenantID = tenantID
	domainID, err := insertTenantDomain(ctx, tx, primary)
	if err != nil {
		return "", "", err
	}

	if err := tx.Commit(); err != nil {
		return "", "", fmt.Errorf("failed to commit tenant creation: %w", err)
	}
	return tenantID, domainID, nil
}

// TransitionStatus 状态转换（compare-and-set）
// WHERE status = from 保证并发转换只有一个成功；0 行受影响说明 from 已过期
func (r *PostgresTenantsRepository) TransitionStatus(ctx context.Context, tenantID string, from, to domain.TenantStatus, ts StatusTimestamps) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}

	sets := []string{"status = $3", "updated_at = NOW()"}
	args := []any{tenantID, string(from), string(to)}
	argIdx := 4

	if ts.SuspendedAt != nil {
		sets = append(sets, fmt.Sprintf("suspended_at = $%d", argIdx))
		args = append(args, *ts.SuspendedAt)
		argIdx++
	} else if ts.ClearSuspendedAt {
		sets = append(sets, "suspended_at = NULL")
	}

	if ts.DeletedAt != nil {
		sets = append(sets, fmt.Sprintf("deleted_at = $%d", argIdx))
		args = append(args, *ts.DeletedAt)
		argIdx++
	} else if ts.ClearDeletedAt {
		sets = append(sets, "deleted_at = NULL")
	}

	query := fmt.Sprintf(`
		UPDATE tenants
		SET %s
		WHERE tenant_id = $1::uuid AND status = $2
	`, strings.Join(sets, ", "))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition tenant status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// 租户不存在，或 status 已被并发修改
		return domain.NewValidationError("tenant %s is no longer in status %q", tenantID, from)
	}
	return nil
}

// UpdateTenant 更新租户基本信息（不含 status）
func (r *PostgresTenantsRepository) UpdateTenant(ctx context.Context, tenantID string, upd TenantUpdate) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}

	updates := []string{"updated_at = NOW()"}
	args := []any{tenantID}
	argIdx := 2

	if upd.TenantName != "" {
		updates = append(updates, fmt.Sprintf("tenant_name = $%d", argIdx))
		args = append(args, upd.TenantName)
		argIdx++
	}
	if upd.Plan != "" {
		updates = append(updates, fmt.Sprintf("plan = $%d", argIdx))
		args = append(args, upd.Plan)
		argIdx++
	}
	if len(upd.Config) > 0 {
		updates = append(updates, fmt.Sprintf("config = $%d::jsonb", argIdx))
		args = append(args, string(upd.Config))
		argIdx++
	}

	if len(updates) == 1 {
		return fmt.Errorf("no fields to update")
	}

	query := fmt.Sprintf(`UPDATE tenants SET %s WHERE tenant_id = $1::uuid`, strings.Join(updates, ", "))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteTenant 物理删除租户记录（仅 purge 后允许）
func (r *PostgresTenantsRepository) DeleteTenant(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM tenants WHERE tenant_id = $1::uuid`, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
