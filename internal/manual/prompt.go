package manual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/mixelka/codewatch/internal/mailbox"
	"github.com/mixelka/codewatch/internal/parser"
)

var (
	// ErrInvalidCode is returned for input that is not a six digit code
	ErrInvalidCode = errors.New("code must be 6 digits")

	// ErrTimeout matches mailbox.ErrTimeout so callers handle both modes alike
	ErrTimeout = mailbox.ErrTimeout
)

// Prompter asks a human for the code that arrived at the recovery address
type Prompter struct {
	address string
	logger  *slog.Logger
}

// NewPrompter creates a prompter. address is shown to the user and may be empty.
func NewPrompter(address string, logger *slog.Logger) *Prompter {
	return &Prompter{
		address: address,
		logger:  logger.With("component", "manual_prompt"),
	}
}

// WaitForCode blocks on terminal input until a valid code is entered or
// timeout elapses
func (p *Prompter) WaitForCode(ctx context.Context, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	description := "Check the recovery mailbox for the verification email."
	if p.address != "" {
		description = fmt.Sprintf("A code has been sent to %s.", p.address)
	}

	var code string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Verification code").
				Description(description).
				Placeholder("123456").
				CharLimit(parser.CodeLength).
				Value(&code).
				Validate(ValidateCode),
		),
	)

	p.logger.Info("waiting for manual code entry")
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("manual entry: %w", ErrTimeout)
		}
		return "", fmt.Errorf("manual entry: %w", err)
	}

	return strings.TrimSpace(code), nil
}

// ValidateCode accepts exactly six ASCII digits, ignoring surrounding space
func ValidateCode(s string) error {
	s = strings.TrimSpace(s)
	if len(s) != parser.CodeLength {
		return ErrInvalidCode
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ErrInvalidCode
		}
	}
	return nil
}

// PromptSecret reads a password from the terminal without echoing it
func PromptSecret(ctx context.Context, title string) (string, error) {
	var secret string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				EchoMode(huh.EchoModePassword).
				Value(&secret).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("secret cannot be empty")
					}
					return nil
				}),
		),
	)

	if err := form.RunWithContext(ctx); err != nil {
		return "", fmt.Errorf("secret entry: %w", err)
	}
	return secret, nil
}
