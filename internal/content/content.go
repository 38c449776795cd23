package content

import (
	"bytes"
	"errors"
	"html/template"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const (
	MaxNameLength    = 64
	MaxMessageLength = 4000
)

var (
	policy   = bluemonday.UGCPolicy()
	strict   = bluemonday.StrictPolicy()
	markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Linkify))
)

// Sanitize removes unsafe HTML from the input string.
// It is used for message bodies before they are persisted.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Escape escapes special characters like "<" to become "&lt;".
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// Render converts message markdown to HTML that is safe to embed.
func Render(input string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return "", err
	}
	return policy.Sanitize(buf.String()), nil
}

// CleanName strips all markup from user and chat names.
func CleanName(input string) string {
	return strings.TrimSpace(strict.Sanitize(input))
}

// ValidateName checks a user or chat display name.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name cannot be empty")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return errors.New("name is too long")
	}
	return nil
}

// ValidateEmail accepts a bare address, without a display name.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("email cannot be empty")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errors.New("email is not valid")
	}
	return nil
}

// ValidateMessage checks message content after sanitizing.
func ValidateMessage(body string) error {
	if strings.TrimSpace(body) == "" {
		return errors.New("message cannot be empty")
	}
	if utf8.RuneCountInString(body) > MaxMessageLength {
		return errors.New("message is too long")
	}
	return nil
}
