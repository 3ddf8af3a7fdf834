package mailbox

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mixelka/codewatch/pkg/models"
)

// DefaultPort is the implicit-TLS IMAP port
const DefaultPort = 993

// Common IMAP servers for popular email providers
var knownIMAPServers = map[string]string{
	"gmail.com":      "imap.gmail.com",
	"googlemail.com": "imap.gmail.com",
	"outlook.com":    "outlook.office365.com",
	"hotmail.com":    "outlook.office365.com",
	"live.com":       "outlook.office365.com",
	"msn.com":        "outlook.office365.com",
	"yahoo.com":      "imap.mail.yahoo.com",
	"icloud.com":     "imap.mail.me.com",
	"me.com":         "imap.mail.me.com",
	"aol.com":        "imap.aol.com",
	"zoho.com":       "imap.zoho.com",
	"fastmail.com":   "imap.fastmail.com",
	"gmx.com":        "imap.gmx.com",
	"gmx.de":         "imap.gmx.net",
	"web.de":         "imap.web.de",
	"yandex.com":     "imap.yandex.com",
	"proton.me":      "127.0.0.1:1143", // ProtonMail Bridge, STARTTLS only
	"protonmail.com": "127.0.0.1:1143",
}

// probe reports whether host:port accepts TCP connections. Replaced in tests.
var probe = func(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), 3*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// lookupMX is replaced in tests
var lookupMX = net.LookupMX

// ResolveIMAPServer guesses the IMAP server for a mailbox username.
// Only port 993 is reached over implicit TLS; any other port uses STARTTLS.
func ResolveIMAPServer(username string) (models.Server, error) {
	domain := DomainOf(username)
	if domain == "" {
		return models.Server{}, fmt.Errorf("invalid email address")
	}

	if server, ok := knownIMAPServers[domain]; ok {
		return splitServer(server)
	}

	for _, host := range []string{"imap." + domain, "mail." + domain, domain} {
		if probe(host, DefaultPort) {
			return implicitTLS(host), nil
		}
	}

	if host, err := resolveViaMX(domain); err == nil {
		return implicitTLS(host), nil
	}

	return implicitTLS("imap." + domain), nil
}

func implicitTLS(host string) models.Server {
	return models.Server{Host: host, Port: DefaultPort, UseTLS: true}
}

// resolveViaMX derives imap.<base> or mail.<base> from the primary MX host
func resolveViaMX(domain string) (string, error) {
	mxRecords, err := lookupMX(domain)
	if err != nil || len(mxRecords) == 0 {
		return "", fmt.Errorf("no MX records found")
	}

	mxHost := strings.TrimSuffix(mxRecords[0].Host, ".")

	// mx.example.com -> imap.example.com
	parts := strings.SplitN(mxHost, ".", 2)
	if len(parts) == 2 {
		for _, host := range []string{"imap." + parts[1], "mail." + parts[1]} {
			if probe(host, DefaultPort) {
				return host, nil
			}
		}
	}

	return "", fmt.Errorf("could not determine IMAP server")
}

func splitServer(server string) (models.Server, error) {
	host, portStr, err := net.SplitHostPort(server)
	if err != nil {
		return implicitTLS(server), nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return models.Server{}, fmt.Errorf("invalid port in %q", server)
	}
	return models.Server{Host: host, Port: port, UseTLS: port == DefaultPort}, nil
}

// DomainOf extracts the lowercased domain from an email address
func DomainOf(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[1] == "" {
		return ""
	}
	return strings.ToLower(parts[1])
}
