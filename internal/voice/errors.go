package voice

import (
	"errors"
	"fmt"
)

var (
	// ErrTargetNotFound — целевой голосовой канал не найден или это не голосовой канал.
	ErrTargetNotFound = errors.New("voice target not found")

	// ErrConnectTimeout — подключение не уложилось в таймаут.
	ErrConnectTimeout = errors.New("voice connect timeout")

	// ErrExhaustedRetries — все попытки переподключения исчерпаны, супервизор остановлен.
	ErrExhaustedRetries = errors.New("voice reconnect attempts exhausted")
)

// ConnectFailedError — любая другая ошибка подключения.
type ConnectFailedError struct {
	ChannelID string
	Cause     error
}

func (e *ConnectFailedError) Error() string {
	return fmt.Sprintf("voice connect to %s failed: %v", e.ChannelID, e.Cause)
}

func (e *ConnectFailedError) Unwrap() error { return e.Cause }
