package lifecycle

import (
	"fmt"
	"sort"
	"strings"

	"qtable-tenant/internal/domain"
)

// transitions 状态机转换表
// 这是 status 唯一的权威变更路径；表里没有的转换一律拒绝
var transitions = map[domain.TenantStatus][]domain.TenantStatus{
	domain.StatusRequested:       {domain.StatusProvisioning},
	domain.StatusProvisioning:    {domain.StatusTrial, domain.StatusActive},
	domain.StatusTrial:           {domain.StatusActive, domain.StatusSuspended, domain.StatusPendingDeletion},
	domain.StatusActive:          {domain.StatusSuspended, domain.StatusPendingDeletion},
	domain.StatusSuspended:       {domain.StatusActive, domain.StatusPendingDeletion},
	domain.StatusPendingDeletion: {domain.StatusActive, domain.StatusDeleted},
	domain.StatusDeleted:         {domain.StatusPurged},
	domain.StatusPurged:          {}, // 终态
}

// AllowedTargets 返回 from 状态允许的目标状态（字典序，便于错误消息稳定）
func AllowedTargets(from domain.TenantStatus) []domain.TenantStatus {
	targets := append([]domain.TenantStatus(nil), transitions[from]...)
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	return targets
}

// ValidateTransition 校验状态转换
// 非法转换的错误消息包含 from → to 和允许的目标集合
func ValidateTransition(from, to domain.TenantStatus) error {
	allowed, known := transitions[from]
	if !known {
		return domain.NewValidationError("unknown tenant status %q", from)
	}
	for _, t := range allowed {
		if t == to {
			return nil
		}
	}
	return domain.NewValidationError(
		"invalid tenant status transition %q -> %q (allowed targets: %s)",
		from, to, formatTargets(AllowedTargets(from)),
	)
}

func formatTargets(targets []domain.TenantStatus) string {
	if len(targets) == 0 {
		return "none, terminal state"
	}
	parts := make([]string, len(targets))
	for i, t := range targets {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

// String 便于日志输出的转换描述
func transitionLabel(from, to domain.TenantStatus) string {
	return fmt.Sprintf("%s -> %s", from, to)
}
