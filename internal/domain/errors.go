package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPermissionDenied — у бота нет прав менять роль. Повторять бессмысленно.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrTransient — сетевой сбой или 5xx на стороне платформы.
	ErrTransient = errors.New("transient platform error")

	// ErrRoleMutationOpen — circuit breaker открыт, мутации ролей временно не выполняются.
	ErrRoleMutationOpen = errors.New("role mutations suspended")
)

// ThrottleError возвращается, когда платформа ответила rate limit и назвала время ожидания.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
