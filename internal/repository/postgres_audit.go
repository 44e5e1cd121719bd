package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"qtable-tenant/internal/domain"
)

// PostgresAuditRepository 审计日志 Repository 实现
// 只写 INSERT / SELECT，表上也不应授予应用账号 UPDATE/DELETE 权限
type PostgresAuditRepository struct {
	db *sql.DB
}

// NewPostgresAuditRepository 创建审计 Repository
func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

// 确保实现了接口
var _ AuditRepository = (*PostgresAuditRepository)(nil)

// Insert 追加一条审计记录
func (r *PostgresAuditRepository) Insert(ctx context.Context, entry *domain.AuditLogEntry) (string, error) {
	if entry == nil {
		return "", fmt.Errorf("entry is required")
	}
	if entry.Action == "" {
		return "", fmt.Errorf("action is required")
	}

	severity := entry.Severity
	if severity == "" {
		severity = domain.SeverityInfo
	}
	metadataArg := "{}"
	if len(entry.Metadata) > 0 {
		metadataArg = string(entry.Metadata)
	}

	var auditID string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO audit_log (action, severity, actor_user_id, channel_token, tenant_id, metadata, ip_address)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, '')::uuid, $6::jsonb, NULLIF($7, ''))
		 RETURNING audit_id::text`,
		entry.Action,
		string(severity),
		entry.ActorUserID,
		entry.ChannelToken,
		entry.TenantID,
		metadataArg,
		entry.IPAddress,
	).Scan(&auditID)
	if err != nil {
		return "", fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return auditID, nil
}

// Query 分页查询审计日志（created_at 倒序）
func (r *PostgresAuditRepository) Query(ctx context.Context, filter domain.AuditFilters, page, size int) ([]*domain.AuditLogEntry, int, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	offset := (page - 1) * size

	where := []string{}
	args := []any{}
	argIdx := 1

	if filter.Action != "" {
		where = append(where, fmt.Sprintf("action = $%d", argIdx))
		args = append(args, filter.Action)
		argIdx++
	}
	if filter.Severity != "" {
		where = append(where, fmt.Sprintf("severity = $%d", argIdx))
		args = append(args, string(filter.Severity))
		argIdx++
	}
	if filter.TenantID != "" {
		where = append(where, fmt.Sprintf("tenant_id = $%d::uuid", argIdx))
		args = append(args, filter.TenantID)
		argIdx++
	}
	if filter.From != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *filter.From)
		argIdx++
	}
	if filter.To != nil {
		where = append(where, fmt.Sprintf("created_at < $%d", argIdx))
		args = append(args, *filter.To)
		argIdx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM audit_log %s`, whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT
			audit_id::text,
			action,
			severity,
			COALESCE(actor_user_id, '') as actor_user_id,
			COALESCE(channel_token, '') as channel_token,
			COALESCE(tenant_id::text, '') as tenant_id,
			COALESCE(metadata, '{}'::jsonb) as metadata,
			COALESCE(ip_address, '') as ip_address,
			created_at
		FROM audit_log
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argIdx, argIdx+1)
	args = append(args, size, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*domain.AuditLogEntry{}
	for rows.Next() {
		var e domain.AuditLogEntry
		var metadataRaw json.RawMessage
		err := rows.Scan(
			&e.AuditID,
			&e.Action,
			&e.Severity,
			&e.ActorUserID,
			&e.ChannelToken,
			&e.TenantID,
			&metadataRaw,
			&e.IPAddress,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Metadata = metadataRaw
		entries = append(entries, &e)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate audit entries: %w", err)
	}

	return entries, total, nil
}
