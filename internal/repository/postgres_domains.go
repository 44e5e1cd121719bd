package repository

import (
	"context"
	"database/sql"
	"fmt"

	"qtable-tenant/internal/domain"
)

// PostgresDomainsRepository 租户域名 Repository 实现
type PostgresDomainsRepository struct {
	db *sql.DB
}

// NewPostgresDomainsRepository 创建域名 Repository
func NewPostgresDomainsRepository(db *sql.DB) *PostgresDomainsRepository {
	return &PostgresDomainsRepository{db: db}
}

// 确保实现了接口
var _ DomainsRepository = (*PostgresDomainsRepository)(nil)

const domainColumns = `
	domain_id::text,
	tenant_id::text,
	domain,
	is_primary,
	COALESCE(ssl_status, 'pending') as ssl_status,
	verified_at,
	created_at
`

func scanDomain(row interface{ Scan(...any) error }) (*domain.TenantDomain, error) {
	var d domain.TenantDomain
	var verifiedAt sql.NullTime
	err := row.Scan(
		&d.DomainID,
		&d.TenantID,
		&d.Domain,
		&d.IsPrimary,
		&d.SSLStatus,
		&verifiedAt,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		d.VerifiedAt = &verifiedAt.Time
	}
	return &d, nil
}

// ListDomainsByTenant 查询租户的全部域名（primary 在前）
func (r *PostgresDomainsRepository) ListDomainsByTenant(ctx context.Context, tenantID string) ([]*domain.TenantDomain, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s FROM tenant_domains
		WHERE tenant_id = $1::uuid
		ORDER BY is_primary DESC, created_at
	`, domainColumns)

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant domains: %w", err)
	}
	defer rows.Close()

	domains := []*domain.TenantDomain{}
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant domain: %w", err)
		}
		domains = append(domains, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenant domains: %w", err)
	}
	return domains, nil
}

// insertTenantDomain 插入域名行（CreateDomain 与租户开通事务共用）
func insertTenantDomain(ctx context.Context, q rowQueryer, d *domain.TenantDomain) (string, error) {
	if d == nil {
		return "", fmt.Errorf("domain is required")
	}
	if d.TenantID == "" || d.Domain == "" {
		return "", fmt.Errorf("tenant_id and domain are required")
	}

	sslStatus := d.SSLStatus
	if sslStatus == "" {
		sslStatus = "pending"
	}

	var domainID string
	err := q.QueryRowContext(ctx,
		`INSERT INTO tenant_domains (tenant_id, domain, is_primary, ssl_status, verified_at)
		 VALUES ($1::uuid, $2, $3, $4, $5)
		 RETURNING domain_id::text`,
		d.TenantID,
		d.Domain,
		d.IsPrimary,
		sslStatus,
		d.VerifiedAt,
	).Scan(&domainID)
	if err != nil {
		if isUniqueViolation(err) {
			return "", domain.NewValidationError("domain %q is already bound to a tenant", d.Domain)
		}
		return "", fmt.Errorf("failed to create tenant domain: %w", err)
	}
	return domainID, nil
}

// CreateDomain 绑定新域名
func (r *PostgresDomainsRepository) CreateDomain(ctx context.Context, d *domain.TenantDomain) (string, error) {
	return insertTenantDomain(ctx, r.db, d)
}

// DeleteDomain 解绑域名（按 tenant_id + domain）
func (r *PostgresDomainsRepository) DeleteDomain(ctx context.Context, tenantID, domainName string) error {
	if tenantID == "" || domainName == "" {
		return fmt.Errorf("tenant_id and domain are required")
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tenant_domains WHERE tenant_id = $1::uuid AND domain = $2`,
		tenantID, domainName,
	)
	if err != nil {
		return fmt.Errorf("failed to delete tenant domain: %w", err)
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

// DeleteDomainsByTenant 删除租户全部域名，返回被删除的域名列表
func (r *PostgresDomainsRepository) DeleteDomainsByTenant(ctx context.Context, tenantID string) ([]string, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	rows, err := r.db.QueryContext(ctx,
		`DELETE FROM tenant_domains WHERE tenant_id = $1::uuid RETURNING domain`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete tenant domains: %w", err)
	}
	defer rows.Close()

	deleted := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan deleted domain: %w", err)
		}
		deleted = append(deleted, name)
	}
	return deleted, rows.Err()
}

// SetPrimary 切换主域名（单个事务内先清再设，保证同一时刻只有一个 primary）
func (r *PostgresDomainsRepository) SetPrimary(ctx context.Context, tenantID, domainName string) error {
	if tenantID == "" || domainName == "" {
		return fmt.Errorf("tenant_id and domain are required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE tenant_domains SET is_primary = FALSE WHERE tenant_id = $1::uuid`,
		tenantID,
	); err != nil {
		return fmt.Errorf("failed to clear primary domain: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE tenant_domains SET is_primary = TRUE WHERE tenant_id = $1::uuid AND domain = $2`,
		tenantID, domainName,
	)
	if err != nil {
		return fmt.Errorf("failed to set primary domain: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}

	return tx.Commit()
}
