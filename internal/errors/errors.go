package errors

import (
	"fmt"

	"github.com/Proton-105/hydration-bot/internal/domain"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeChannelOpen   = "E301"
	CodeSend          = "E302"
	CodeUnauthorized  = "E403"
	CodeRateLimit     = "E429"
	CodeConfiguration = "E500"
	CodeDatabase      = "E200"
)

// DeliveryStage names the step of a reminder delivery that failed.
type DeliveryStage string

const (
	StageChannelOpen DeliveryStage = "channel_open"
	StageSend        DeliveryStage = "send"
)

type AppError struct {
	Code      string
	Message   string
	Severity  Severity
	Retryable bool
	cause     error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

// NewDeliveryError reports a transient failure delivering a reminder to one user.
func NewDeliveryError(stage DeliveryStage, user domain.UserID, cause error) *AppError {
	code := CodeSend
	if stage == StageChannelOpen {
		code = CodeChannelOpen
	}

	return &AppError{
		Code:      code,
		Message:   fmt.Sprintf("reminder delivery failed at %s for user %s", stage, user),
		Severity:  SeverityMedium,
		Retryable: true,
		cause:     cause,
	}
}

// NewAuthorizationError reports a privileged command issued by a non-owner.
func NewAuthorizationError(user domain.UserID, command string) *AppError {
	return &AppError{
		Code:      CodeUnauthorized,
		Message:   fmt.Sprintf("user %s is not allowed to run %s", user, command),
		Severity:  SeverityLow,
		Retryable: false,
	}
}

// NewConfigurationError reports a fatal startup problem.
func NewConfigurationError(cause error) *AppError {
	return &AppError{
		Code:      CodeConfiguration,
		Message:   "invalid configuration",
		Severity:  SeverityCritical,
		Retryable: false,
		cause:     cause,
	}
}

// NewDatabaseError reports a failed journal database operation.
func NewDatabaseError(cause error) *AppError {
	return &AppError{
		Code:      CodeDatabase,
		Message:   "database error",
		Severity:  SeverityHigh,
		Retryable: true,
		cause:     cause,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:      CodeRateLimit,
		Message:   fmt.Sprintf("rate limit exceeded: retry after %d seconds", retryAfter),
		Severity:  SeverityLow,
		Retryable: false,
	}
}

// HasCode reports whether err wraps an AppError with the given code.
func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
