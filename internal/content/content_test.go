package content

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "Hello World"},
		{"HTML tags", "Hello <b>World</b>", "Hello <b>World</b>"},
		{"Script tag", "<script>alert('xss')</script>Hello", "Hello"},
		{"Complex HTML", "<a href='javascript:alert(1)'>Click me</a>", "Click me"},
		{"Emoji", "I am 🤖", "I am 🤖"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.expected {
				t.Errorf("Sanitize() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCleanName(t *testing.T) {
	if got := CleanName("  <b>Team</b> Rocket "); got != "Team Rocket" {
		t.Errorf("CleanName() = %q", got)
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
		absent   string
	}{
		{"Bold", "**hi**", "<strong>hi</strong>", ""},
		{"Strikethrough", "~~old~~", "<del>old</del>", ""},
		{"Raw script is dropped", "<script>alert(1)</script>", "", "<script>"},
		{"JS link is dropped", "[x](javascript:alert(1))", "x", "javascript:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.input)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if tt.contains != "" && !strings.Contains(got, tt.contains) {
				t.Errorf("Render() = %q, want it to contain %q", got, tt.contains)
			}
			if tt.absent != "" && strings.Contains(got, tt.absent) {
				t.Errorf("Render() = %q, must not contain %q", got, tt.absent)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"Valid", "user@example.com", false},
		{"Valid plus", "user+tag@example.co.uk", false},
		{"Missing at", "user.example.com", true},
		{"Display name", "User <user@example.com>", true},
		{"Empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateEmail(tt.input); (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateNameAndMessage(t *testing.T) {
	if err := ValidateName("Alice"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateName("   "); err == nil {
		t.Error("expected error for blank name")
	}
	if err := ValidateName(strings.Repeat("a", MaxNameLength+1)); err == nil {
		t.Error("expected error for long name")
	}
	if err := ValidateMessage("hi"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateMessage(" \n"); err == nil {
		t.Error("expected error for blank message")
	}
	if err := ValidateMessage(strings.Repeat("x", MaxMessageLength+1)); err == nil {
		t.Error("expected error for long message")
	}
}
