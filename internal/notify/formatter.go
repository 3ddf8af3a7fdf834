package notify

import (
	"fmt"
	"strings"
	"time"
)

// Formatter renders relay messages in Telegram HTML
type Formatter struct{}

// NewFormatter creates a new formatter
func NewFormatter() *Formatter {
	return &Formatter{}
}

// FormatCode formats a found verification code
func (f *Formatter) FormatCode(source, code, address string, at time.Time) string {
	var sb strings.Builder

	sb.WriteString("<b>Verification code received</b>\n")
	sb.WriteString(fmt.Sprintf("<b>Code:</b> <code>%s</code>\n", f.escapeHTML(code)))
	sb.WriteString(fmt.Sprintf("<b>Source:</b> %s\n", f.escapeHTML(source)))
	if address != "" {
		sb.WriteString(fmt.Sprintf("<b>Recovery address:</b> %s\n", f.escapeHTML(address)))
	}
	sb.WriteString(fmt.Sprintf("<b>Time:</b> %s", at.Format("02.01.2006 15:04:05")))

	return sb.String()
}

// FormatFailure formats a retrieval error
func (f *Formatter) FormatFailure(err error) string {
	return fmt.Sprintf("<b>Verification code not received</b>\n<code>%s</code>", f.escapeHTML(err.Error()))
}

// escapeHTML escapes HTML special characters for Telegram
func (f *Formatter) escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
