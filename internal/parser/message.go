package parser

import (
	"bytes"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// MessageText converts a raw RFC 5322 message into plain text.
// A text/plain part wins; otherwise the HTML part is flattened.
func (p *HTMLParser) MessageText(raw []byte) string {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Not parseable as MIME, use it as is
		return string(raw)
	}
	defer mr.Close()

	var bodyText, bodyHTML string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		ct, _, _ := h.ContentType()
		if ct == "" {
			ct = "text/plain"
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(ct, "text/plain") && bodyText == "":
			bodyText = string(body)
		case strings.HasPrefix(ct, "text/html") && bodyHTML == "":
			bodyHTML = string(body)
		}
	}

	if strings.TrimSpace(bodyText) != "" {
		return bodyText
	}

	if bodyHTML != "" {
		text, err := p.Parse(bodyHTML)
		if err == nil {
			return text
		}
		return bodyHTML
	}

	return ""
}
