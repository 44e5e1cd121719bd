package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtable-tenant/internal/domain"
)

func TestPostgresCreateDomain_DuplicateDomain(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresDomainsRepository(db)

	mock.ExpectQuery(`INSERT INTO tenant_domains`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "tenant_domains_domain_key"})

	_, err = repo.CreateDomain(context.Background(), &domain.TenantDomain{
		TenantID: "tenant-1", Domain: "acme.example.com",
	})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Contains(t, err.Error(), "already bound")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteDomain_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresDomainsRepository(db)

	mock.ExpectExec(`DELETE FROM tenant_domains WHERE tenant_id = \$1::uuid AND domain = \$2`).
		WithArgs("tenant-1", "ghost.example.com").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.DeleteDomain(context.Background(), "tenant-1", "ghost.example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteDomainsByTenant_ReturnsNames(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresDomainsRepository(db)

	rows := sqlmock.NewRows([]string{"domain"}).
		AddRow("acme.example.com").
		AddRow("shop.acme.com")
	mock.ExpectQuery(`DELETE FROM tenant_domains WHERE tenant_id = \$1::uuid RETURNING domain`).
		WithArgs("tenant-1").
		WillReturnRows(rows)

	removed, err := repo.DeleteDomainsByTenant(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"acme.example.com", "shop.acme.com"}, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListDomains(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresDomainsRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"domain_id", "tenant_id", "domain", "is_primary", "ssl_status", "verified_at", "created_at",
	}).
		AddRow("dom-1", "tenant-1", "acme.example.com", true, "active", now, now).
		AddRow("dom-2", "tenant-1", "shop.acme.com", false, "pending", nil, now)

	mock.ExpectQuery(`SELECT(.|\n)+FROM tenant_domains(.|\n)+ORDER BY is_primary DESC`).
		WithArgs("tenant-1").
		WillReturnRows(rows)

	domains, err := repo.ListDomainsByTenant(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.True(t, domains[0].IsPrimary)
	require.NotNil(t, domains[0].VerifiedAt)
	assert.Nil(t, domains[1].VerifiedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
