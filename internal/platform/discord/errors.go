package discord

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/xela07ax/repbot/internal/domain"
)

// classifyError переводит ошибки REST в таксономию ядра.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var rlPtr *discordgo.RateLimitError
	if errors.As(err, &rlPtr) && rlPtr != nil && rlPtr.RateLimit != nil && rlPtr.TooManyRequests != nil {
		return &domain.ThrottleError{RetryAfter: rlPtr.RetryAfter, Cause: err}
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		status := 0
		if restErr.Response != nil {
			status = restErr.Response.StatusCode
		}
		code := 0
		if restErr.Message != nil {
			code = restErr.Message.Code
		}

		switch {
		case status == http.StatusForbidden,
			code == discordgo.ErrCodeMissingPermissions,
			code == discordgo.ErrCodeMissingAccess:
			return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
		case status == http.StatusTooManyRequests:
			return &domain.ThrottleError{Cause: err}
		}
	}

	return fmt.Errorf("%w: %w", domain.ErrTransient, err)
}

// isUnknownMember — участник покинул гильдию.
func isUnknownMember(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMember {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
