// Package uxerror translates raw errors into user-friendly messages with
// recovery hints for the terminal.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"isaac-client/internal/adapter/tui/theme"
	"isaac-client/internal/domain"
	"isaac-client/internal/infra/config"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string   // short heading, e.g. "Connection Refused"
	Message string   // one-liner explanation
	Hints   []string // actionable recovery suggestions
	Raw     string   // original error text (for debug)
}

// Render formats the FriendlyError for a terminal.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", theme.SymbolBullet, h))
		}
	}
	if fe.Raw != "" && fe.Raw != fe.Message {
		sb.WriteString("\n  Details: ")
		sb.WriteString(fe.Raw)
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

var patterns = []errorPattern{
	// Typed and sentinel errors first so errors.Is/As work through wrapping.
	{
		match: func(err error) bool {
			var ve *config.ValidationError
			return errors.As(err, &ve)
		},
		produce: func(err error) FriendlyError {
			var ve *config.ValidationError
			errors.As(err, &ve)
			return FriendlyError{
				Title:   "Invalid Configuration",
				Message: fmt.Sprintf("%d setting(s) failed validation.", len(ve.Errors)),
				Hints:   append([]string{}, ve.Errors...),
				Raw:     err.Error(),
			}
		},
	},
	{
		match:   func(err error) bool { return errors.Is(err, domain.ErrConfigLoad) },
		produce: constantError("Configuration Not Loaded", "The config file could not be read.", []string{"Check the --config path", "Make sure the file is valid YAML"}),
	},
	{
		match:   func(err error) bool { return errors.Is(err, domain.ErrStreamNotFound) },
		produce: constantError("Stream Not Found", "The server does not announce a stream with that name.", []string{"Run 'isaac-client probe' to list the available streams", "Check --stream-name for typos", "Use --stream with a numeric id instead"}),
	},
	{
		match:   func(err error) bool { return errors.Is(err, domain.ErrCircuitOpen) },
		produce: constantError("Server Unreachable", "Reconnecting was paused after repeated failures.", []string{"Check that the visualization server is running", "Raise reconnect.max_failures in config"}),
	},
	{
		match:   func(err error) bool { return errors.Is(err, domain.ErrUnauthorized) },
		produce: constantError("Authentication Failed", "The gateway rejected the token.", []string{"Check gateway.auth.tokens in config", "Send the token as 'Authorization: Bearer <token>'"}),
	},
	{
		match:   func(err error) bool { return errors.Is(err, domain.ErrTimeout) },
		produce: constantError("Timed Out", "The server did not answer in time.", []string{"Check the host and port", "Increase --timeout or server.open_timeout"}),
	},
	{
		match:   func(err error) bool { return errors.Is(err, domain.ErrAlreadyConnected) },
		produce: constantError("Already Connected", "A connection to the server is already active.", nil),
	},

	// Transport patterns (string matching for errors from the dialer).
	{
		match:   containsAny("connection refused", "no such host", "dial tcp", "network is unreachable"),
		produce: constantError("Connection Failed", "Could not reach the visualization server.", []string{"Check that the server is running", "Verify --host and --port", "Check if a firewall is blocking the port"}),
	},
	{
		match:   containsAny("subprotocol", "bad handshake", "expected handshake response status code 101"),
		produce: constantError("Handshake Rejected", "The endpoint did not accept the WebSocket upgrade.", []string{"Make sure the port belongs to an ISAAC server", "Check server.subprotocol in config"}),
	},
	{
		match:   func(err error) bool { return errors.Is(err, domain.ErrConnectionClosed) || errors.Is(err, domain.ErrConnection) },
		produce: constantError("Connection Lost", "The connection closed before the session finished.", []string{"Check the server logs", "Enable reconnect in config to retry automatically"}),
	},
	{
		match:   containsAny("deadline exceeded", "timeout"),
		produce: constantError("Timed Out", "The operation took too long to complete.", []string{"Check your network connection", "Increase --timeout"}),
	},
}

// Humanize converts a raw error into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}

	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}

	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Set ISAAC_LOGGER_LEVEL=debug for more details"},
		Raw:     err.Error(),
	}
}

// containsAny returns a match func that checks if the error string contains
// any of the given substrings (case-insensitive).
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

// constantError returns a produce func that always returns the same FriendlyError.
func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
