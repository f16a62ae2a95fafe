package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrDecode       = fmt.Errorf("decode failure")
)

// Sentinel errors for the domain layer.
var (
	ErrConnection       = fmt.Errorf("connection failed")
	ErrNotConnected     = fmt.Errorf("connection is not open")
	ErrAlreadyConnected = fmt.Errorf("connection already active")
	ErrConnectionClosed = fmt.Errorf("connection closed")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrCircuitOpen      = fmt.Errorf("reconnect circuit open")
	ErrUnauthorized     = fmt.Errorf("unauthorized")

	// Decode failures. All of them match ErrDecode.
	ErrMalformedJSON     = fmt.Errorf("malformed json: %w", ErrDecode)
	ErrMalformedBase64   = fmt.Errorf("malformed base64 payload: %w", ErrDecode)
	ErrUndecodableImage  = fmt.Errorf("undecodable image: %w", ErrDecode)
	ErrDimensionMismatch = fmt.Errorf("image does not match framebuffer dimensions: %w", ErrDecode)

	ErrStreamNotFound = fmt.Errorf("stream: %w", ErrNotFound)
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Codec.Decode")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "transport"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsDecodeFailure reports whether err is a dropped-message decode failure.
func IsDecodeFailure(err error) bool {
	return errors.Is(err, ErrDecode)
}

// ErrorCode is a machine-parseable error category for logs and metrics labels.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeConnection        ErrorCode = "CONNECTION"
	CodeNotConnected      ErrorCode = "NOT_CONNECTED"
	CodeAlreadyConnected  ErrorCode = "ALREADY_CONNECTED"
	CodeConnectionClosed  ErrorCode = "CONNECTION_CLOSED"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeMalformedJSON     ErrorCode = "MALFORMED_JSON"
	CodeMalformedBase64   ErrorCode = "MALFORMED_BASE64"
	CodeUndecodableImage  ErrorCode = "UNDECODABLE_IMAGE"
	CodeDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"
	CodeStreamNotFound    ErrorCode = "STREAM_NOT_FOUND"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeOpenTimeout ErrorCode = "OPEN_TIMEOUT"
	CodeDialTimeout ErrorCode = "DIAL_TIMEOUT"

	// Category error codes: fallback when no subsystem-specific code matches.
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeTimeout      ErrorCode = "TIMEOUT"
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	CodeDecode       ErrorCode = "DECODE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:     CodeNotFound,
	ErrTimeout:      CodeTimeout,
	ErrInvalidInput: CodeInvalidInput,
	ErrDecode:       CodeDecode,

	ErrConnection:        CodeConnection,
	ErrNotConnected:      CodeNotConnected,
	ErrAlreadyConnected:  CodeAlreadyConnected,
	ErrConnectionClosed:  CodeConnectionClosed,
	ErrConfigLoad:        CodeConfigLoad,
	ErrCircuitOpen:       CodeCircuitOpen,
	ErrUnauthorized:      CodeUnauthorized,
	ErrMalformedJSON:     CodeMalformedJSON,
	ErrMalformedBase64:   CodeMalformedBase64,
	ErrUndecodableImage:  CodeUndecodableImage,
	ErrDimensionMismatch: CodeDimensionMismatch,
	ErrStreamNotFound:    CodeStreamNotFound,
}

// specificSentinels are checked before category sentinels when walking a
// wrapped chain, so a wrapped ErrMalformedJSON reports MALFORMED_JSON and not DECODE.
var specificSentinels = []error{
	ErrMalformedJSON,
	ErrMalformedBase64,
	ErrUndecodableImage,
	ErrDimensionMismatch,
	ErrStreamNotFound,
	ErrConnection,
	ErrNotConnected,
	ErrAlreadyConnected,
	ErrConnectionClosed,
	ErrConfigLoad,
	ErrCircuitOpen,
	ErrUnauthorized,
	ErrNotFound,
	ErrTimeout,
	ErrInvalidInput,
	ErrDecode,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrTimeout: {
		"transport": CodeOpenTimeout,
		"dial":      CodeDialTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for _, sentinel := range specificSentinels {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
