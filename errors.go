package citymatch

import (
	"errors"
	"strings"
)

// ChatLimitSignature is the phrase the backend uses to signal that the
// caller's plan does not allow another chat partner. Matching is
// case-sensitive.
const ChatLimitSignature = "Chat limit reached"

// CodeChatLimitReached is the structured code for the same condition.
const CodeChatLimitReached = "CHAT_LIMIT_REACHED"

// ErrorKind classifies a failure surfaced by the SDK.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindLimitExceeded
	KindUnauthorized
	KindNotFound
	KindTransient
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindLimitExceeded:
		return "limit_exceeded"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

var (
	// ErrChatLimitReached matches failures caused by the chat-partner limit.
	ErrChatLimitReached = errors.New("chat limit reached")
	// ErrOperationFailed matches every other backend or transport failure.
	ErrOperationFailed = errors.New("operation failed")
	// ErrLocalValidation matches input rejected before any network call.
	ErrLocalValidation = errors.New("local validation failed")
)

// OperationError is the only error type the chat manager, subscription gate
// and moderation helpers return.
type OperationError struct {
	Op      string
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *OperationError) Error() string {
	if e.Message == "" {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Message
}

func (e *OperationError) Unwrap() error { return e.Err }

// Is maps the error onto the three sentinel conditions.
func (e *OperationError) Is(target error) bool {
	switch target {
	case ErrChatLimitReached:
		return e.Kind == KindLimitExceeded
	case ErrLocalValidation:
		return e.Kind == KindValidation
	case ErrOperationFailed:
		return e.Kind != KindLimitExceeded && e.Kind != KindValidation
	}
	return false
}

// DetectLimitCondition reports whether a backend failure message signals the
// chat-partner limit.
func DetectLimitCondition(errorMessage string) bool {
	return strings.Contains(errorMessage, ChatLimitSignature)
}

// IsChatLimit reports whether err is a ChatLimitReached condition.
func IsChatLimit(err error) bool {
	return errors.Is(err, ErrChatLimitReached)
}

func validationError(op, msg string) *OperationError {
	return &OperationError{Op: op, Kind: KindValidation, Message: msg}
}

// classify converts a Backend error into an OperationError. Either the
// structured limit code or the limit phrase in the message marks a limit
// failure; other codes pick the kind.
func classify(op string, err error) *OperationError {
	if err == nil {
		return nil
	}
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe
	}

	kind := KindTransient
	msg := err.Error()
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
		kind = kindFromCode(apiErr.Code)
	}
	if DetectLimitCondition(msg) {
		kind = KindLimitExceeded
	}
	return &OperationError{Op: op, Kind: kind, Message: msg, Err: err}
}

func kindFromCode(code string) ErrorKind {
	switch {
	case code == CodeChatLimitReached:
		return KindLimitExceeded
	case code == "UNAUTHORIZED" || code == "FORBIDDEN" || code == "HTTP_401" || code == "HTTP_403":
		return KindUnauthorized
	case code == "NOT_FOUND" || code == "HTTP_404":
		return KindNotFound
	case strings.Contains(code, "TIMEOUT") || strings.Contains(code, "NETWORK") || strings.HasPrefix(code, "HTTP_5"):
		return KindTransient
	default:
		return KindUnknown
	}
}
