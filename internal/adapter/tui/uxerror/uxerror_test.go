package uxerror

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"isaac-client/internal/domain"
	"isaac-client/internal/infra/config"
)

func TestHumanize(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		title string
	}{
		{"stream not found", fmt.Errorf("observe: %w", domain.ErrStreamNotFound), "Stream Not Found"},
		{"circuit open", fmt.Errorf("supervisor: %w", domain.ErrCircuitOpen), "Server Unreachable"},
		{"timeout", domain.NewSubSystemError("transport", "Manager.WaitOpen", domain.ErrTimeout, ""), "Timed Out"},
		{"unauthorized", domain.ErrUnauthorized, "Authentication Failed"},
		{"refused", errors.New("dial tcp 127.0.0.1:2459: connect: connection refused"), "Connection Failed"},
		{"handshake", errors.New("failed to WebSocket dial: expected handshake response status code 101 but got 200"), "Handshake Rejected"},
		{"closed", domain.NewDomainError("Client.Open", domain.ErrConnectionClosed, ""), "Connection Lost"},
		{"config load", fmt.Errorf("%w: bad yaml", domain.ErrConfigLoad), "Configuration Not Loaded"},
		{"unknown", errors.New("boom"), "Unexpected Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Humanize(tt.err).Title; got != tt.title {
				t.Errorf("Title = %q, want %q", got, tt.title)
			}
		})
	}
}

func TestHumanizeValidationErrorListsFields(t *testing.T) {
	ve := &config.ValidationError{Errors: []string{"server.port 0 is out of range 1-65535", "logger.format \"xml\" is not supported"}}
	fe := Humanize(fmt.Errorf("config: %w", ve))

	if fe.Title != "Invalid Configuration" {
		t.Fatalf("Title = %q", fe.Title)
	}
	if len(fe.Hints) != 2 || fe.Hints[0] != ve.Errors[0] {
		t.Errorf("Hints = %v", fe.Hints)
	}
}

func TestHumanizeNil(t *testing.T) {
	if fe := Humanize(nil); fe.Title != "Unknown Error" {
		t.Errorf("Title = %q", fe.Title)
	}
}

func TestRender(t *testing.T) {
	fe := FriendlyError{Title: "Timed Out", Message: "slow", Hints: []string{"wait"}, Raw: "context deadline exceeded"}
	out := fe.Render()
	for _, want := range []string{"Timed Out", "slow", "Suggestions:", "wait", "Details: context deadline exceeded"} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q:\n%s", want, out)
		}
	}

	plain := FriendlyError{Title: "Unexpected Error", Message: "boom", Raw: "boom"}
	if strings.Contains(plain.Render(), "Details") {
		t.Error("Details should be omitted when Raw equals Message")
	}
}
