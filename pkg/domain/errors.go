package domain

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// ErrorKind groups error codes by how the caller is expected to react.
type ErrorKind string

const (
	KindAccessDenied     ErrorKind = "access_denied"
	KindNotFound         ErrorKind = "not_found"
	KindStateConflict    ErrorKind = "state_conflict"
	KindIntegrityFailure ErrorKind = "integrity_failure"
	KindPlatform         ErrorKind = "platform_error"
	KindStorage          ErrorKind = "storage_error"
	KindInvalidRequest   ErrorKind = "invalid_request"
)

// Error is the typed error returned across context boundaries. Two errors
// match under errors.Is when their codes match; Entity narrows not_found
// sentinels only when the target sets it.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Entity  string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Entity != "" && e.Kind == KindNotFound {
		msg = fmt.Sprintf("%s: %s", msg, e.Entity)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Entity == "" || t.Entity == e.Entity
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

const (
	CodeMissingGuildAccess      = "missing_guild_access"
	CodeMissingChannelAccess    = "missing_channel_access"
	CodeBotMissingChannelAccess = "bot_missing_channel_access"
	CodeNotFound                = "not_found"
	CodeGuildChannelMismatch    = "guild_channel_mismatch"
	CodeUnsupportedChannelType  = "unsupported_channel_type"
	CodeWebhookLimitReached     = "channel_webhook_limit_reached"
	CodeIntegrity               = "integrity_failure"
	CodeMessageSend             = "message_send_error"
	CodePlatform                = "platform_error"
	CodeStorage                 = "storage_error"
	CodeInvalidRequest          = "invalid_request"
	CodeUnauthorized            = "unauthorized"
)

var (
	ErrMissingGuildAccess = &Error{Kind: KindAccessDenied, Code: CodeMissingGuildAccess,
		Message: "You don't have access to this server"}
	ErrMissingChannelAccess = &Error{Kind: KindAccessDenied, Code: CodeMissingChannelAccess,
		Message: "You don't have permission to manage webhooks in this channel"}
	ErrBotMissingChannelAccess = &Error{Kind: KindAccessDenied, Code: CodeBotMissingChannelAccess,
		Message: "The bot doesn't have permission to manage webhooks in this channel"}
	ErrUnauthorized = &Error{Kind: KindAccessDenied, Code: CodeUnauthorized,
		Message: "Missing or invalid session"}

	ErrNotFound = &Error{Kind: KindNotFound, Code: CodeNotFound, Message: "Unknown entity"}

	ErrGuildChannelMismatch = &Error{Kind: KindStateConflict, Code: CodeGuildChannelMismatch,
		Message: "The channel doesn't belong to the server"}
	ErrUnsupportedChannelType = &Error{Kind: KindStateConflict, Code: CodeUnsupportedChannelType,
		Message: "Messages can't be sent to this type of channel"}
	ErrWebhookLimitReached = &Error{Kind: KindStateConflict, Code: CodeWebhookLimitReached,
		Message: "The channel has reached the maximum number of webhooks"}

	ErrIntegrity = &Error{Kind: KindIntegrityFailure, Code: CodeIntegrity,
		Message: "Message integrity could not be validated"}

	ErrMessageSend = &Error{Kind: KindPlatform, Code: CodeMessageSend, Message: "Failed to send message"}
	ErrPlatform    = &Error{Kind: KindPlatform, Code: CodePlatform, Message: "Discord request failed"}
	ErrStorage     = &Error{Kind: KindStorage, Code: CodeStorage, Message: "Storage request failed"}

	ErrInvalidRequest = &Error{Kind: KindInvalidRequest, Code: CodeInvalidRequest, Message: "Invalid request"}
)

// NotFound returns a not_found error naming entity ("channel", "guild", ...).
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: "Unknown entity", Entity: entity}
}

// InvalidRequest returns an invalid_request error with a caller-facing message.
func InvalidRequest(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidRequest, Code: CodeInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" for untyped errors.
func KindOf(err error) ErrorKind {
	if de, ok := AsError(err); ok {
		return de.Kind
	}
	return ""
}
