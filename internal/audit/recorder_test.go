package audit

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"qtable-tenant/internal/domain"
	"qtable-tenant/internal/events"
	"qtable-tenant/internal/repository"
)

// failingAuditRepo Insert 永远失败
type failingAuditRepo struct {
	repository.AuditRepository
}

func (r *failingAuditRepo) Insert(_ context.Context, _ *domain.AuditLogEntry) (string, error) {
	return "", fmt.Errorf("disk full")
}

func TestRecorder_RecordAndQuery(t *testing.T) {
	repo := repository.NewMemoryAuditRepository()
	rec := NewRecorder(repo, zap.NewNop())
	ctx := context.Background()

	rec.Record(ctx, &domain.AuditLogEntry{
		Action:   domain.AuditTokenMismatch,
		Severity: domain.SeverityWarn,
		TenantID: "tenant-1",
	})
	rec.Record(ctx, &domain.AuditLogEntry{
		Action:   domain.AuditTenantCreated,
		Severity: domain.SeverityInfo,
		TenantID: "tenant-2",
	})

	entries, total, err := rec.Query(ctx, domain.AuditFilters{Action: domain.AuditTokenMismatch}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, "tenant-1", entries[0].TenantID)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestRecorder_InsertFailureDoesNotPanic(t *testing.T) {
	rec := NewRecorder(&failingAuditRepo{}, zap.NewNop())
	// 审计写失败只打日志，不得让触发它的业务操作失败
	rec.Record(context.Background(), &domain.AuditLogEntry{Action: domain.AuditTenantCreated})
}

func TestRecorder_SubscribeLifecycle(t *testing.T) {
	repo := repository.NewMemoryAuditRepository()
	rec := NewRecorder(repo, zap.NewNop())
	bus := events.NewMemoryBus()
	rec.SubscribeLifecycle(bus)
	ctx := context.Background()

	cases := []struct {
		evType   string
		action   string
		severity domain.AuditSeverity
	}{
		{events.EventTenantCreated, domain.AuditTenantCreated, domain.SeverityInfo},
		{events.EventTenantStatusChanged, domain.AuditTenantStatusChanged, domain.SeverityInfo},
		{events.EventTenantSuspended, domain.AuditTenantSuspended, domain.SeverityWarn},
		{events.EventTenantDeleted, domain.AuditTenantDeleted, domain.SeverityWarn},
		{events.EventTenantPurged, domain.AuditTenantPurged, domain.SeverityCritical},
	}
	for i, c := range cases {
		require.NoError(t, bus.Publish(ctx, events.LifecycleEvent{
			EventID:    fmt.Sprintf("ev-%d", i),
			Type:       c.evType,
			TenantID:   "tenant-1",
			TenantSlug: "acme",
			OccurredAt: time.Now(),
		}))
	}

	for _, c := range cases {
		entries, _, err := rec.Query(ctx, domain.AuditFilters{Action: c.action}, 1, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1, "expected one %s entry", c.action)
		assert.Equal(t, c.severity, entries[0].Severity)
		assert.Contains(t, string(entries[0].Metadata), "acme")
	}
}

func TestRecorder_UnknownEventTypeIgnored(t *testing.T) {
	repo := repository.NewMemoryAuditRepository()
	rec := NewRecorder(repo, zap.NewNop())
	bus := events.NewMemoryBus()
	rec.SubscribeLifecycle(bus)
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, events.LifecycleEvent{EventID: "ev-x", Type: "SomethingElse"}))

	_, total, err := rec.Query(ctx, domain.AuditFilters{}, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestExport_ProducesWorkbook(t *testing.T) {
	repo := repository.NewMemoryAuditRepository()
	rec := NewRecorder(repo, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec.Record(ctx, &domain.AuditLogEntry{
			Action:   domain.AuditTenantStatusChanged,
			Severity: domain.SeverityInfo,
			TenantID: fmt.Sprintf("tenant-%d", i),
		})
	}

	data, err := rec.Export(ctx, domain.AuditFilters{})
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Audit Log")
	require.NoError(t, err)
	require.Len(t, rows, 4, "header + 3 entries")
	assert.Equal(t, AuditExportHeader[0], rows[0][0])
}

func TestExport_EmptyFilterResult(t *testing.T) {
	repo := repository.NewMemoryAuditRepository()
	rec := NewRecorder(repo, zap.NewNop())

	data, err := rec.Export(context.Background(), domain.AuditFilters{TenantID: "no-such"})
	require.NoError(t, err)
	assert.NotEmpty(t, data, "empty result still yields a workbook with the header row")
}
