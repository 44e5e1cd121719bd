package domain

import (
	"errors"
	"fmt"
)

// 错误分类：
// - ValidationError: 调用方参数/状态转换错误，消息可直接返回给调用方
// - ErrNotFound:     实体不存在，或跨租户访问（对外等同于不存在，防止信息泄露）
// - ErrForbidden:    已认证但权限不足（default scope 访问、暂停租户写操作等）
// - ResolutionError: 解析租户时的基础设施故障（不是 NotFound，网关据此选择 fail-safe）
// - ProvisioningError: 开通流程中某一步失败，带步骤信息

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// ValidationError 校验错误（非法状态转换、slug/domain 冲突等）
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation 判断是否为校验错误
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ResolutionError 租户解析基础设施错误
// 与 ErrNotFound 严格区分：NotFound 返回 404，ResolutionError 走 fail-safe 路径
type ResolutionError struct {
	Err error
}

func (e *ResolutionError) Error() string { return "tenant resolution failed: " + e.Err.Error() }
func (e *ResolutionError) Unwrap() error { return e.Err }

// IsResolution 判断是否为解析错误
func IsResolution(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

// ProvisioningError 租户开通流程错误（记录失败的步骤）
type ProvisioningError struct {
	Step string
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed at step %q: %v", e.Step, e.Err)
}
func (e *ProvisioningError) Unwrap() error { return e.Err }
