package dialer

import (
	"regexp"
	"strings"

	"github.com/birchvoice/dialer/pkg/platform"
)

// ============================================
// CALLER IDENTITY PARSER
// Turns raw SIP identity headers into display-ready identities
// ============================================

// IdentityType classifies the other party of a call.
type IdentityType string

const (
	TypePSTN    IdentityType = "pstn"
	TypeVoIPIP  IdentityType = "voip-ip"
	TypeVoIPURI IdentityType = "voip-uri"
	TypeUnknown IdentityType = "unknown"
)

// Identity is a structured, display-ready rendering of a SIP identity string.
type Identity struct {
	Name    string       `json:"name,omitempty"`
	Number  string       `json:"number,omitempty"`
	IP      string       `json:"ip,omitempty"`
	SIP     string       `json:"sip,omitempty"`
	Display string       `json:"display"`
	Type    IdentityType `json:"type"`
}

var (
	quotedNameRe = regexp.MustCompile(`^\s*"([^"]*)"\s*<sip:([^>@]+)(?:@([^>]+))?>\s*$`)
	bracketedRe  = regexp.MustCompile(`^\s*<sip:([^>@]+)(?:@([^>]+))?>\s*$`)
	bareSIPRe    = regexp.MustCompile(`^\s*sip:([^@\s]+)(?:@(\S+))?\s*$`)
	phoneRe      = regexp.MustCompile(`^\+?\d+$`)
	ipv4Re       = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})$`)
)

// ParseIdentity maps a raw SIP identity string to a structured identity.
// For outgoing calls the other party is the callee, so calledURI is parsed
// instead of the caller header. Deterministic and never fails: anything
// unrecognized comes back verbatim as TypeUnknown.
func ParseIdentity(callerIDRaw string, direction platform.Direction, calledURI string) Identity {
	raw := callerIDRaw
	if direction == platform.DirectionOutgoing && calledURI != "" {
		raw = calledURI
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{Display: "Unknown", Type: TypeUnknown}
	}

	if m := quotedNameRe.FindStringSubmatch(raw); m != nil {
		ident := classifyIdentifier(stripParams(m[2]), m[3])
		ident.Name = m[1]
		if ident.Name != "" {
			ident.Display = ident.Name
		}
		return ident
	}
	if m := bracketedRe.FindStringSubmatch(raw); m != nil {
		return classifyIdentifier(stripParams(m[1]), m[2])
	}
	if m := bareSIPRe.FindStringSubmatch(raw); m != nil {
		return classifyIdentifier(stripParams(m[1]), m[2])
	}
	if phoneRe.MatchString(raw) {
		return classifyIdentifier(raw, "")
	}
	if isIPv4(raw) {
		return classifyIdentifier(raw, "")
	}
	return Identity{Display: raw, Type: TypeUnknown}
}

// classifyIdentifier builds an Identity from a bare identifier and optional domain.
func classifyIdentifier(ident, domain string) Identity {
	switch {
	case phoneRe.MatchString(ident):
		number := ident
		if !strings.HasPrefix(number, "+") {
			number = "+" + number
		}
		return Identity{Number: number, Display: platform.FormatE164(number), Type: TypePSTN}
	case isIPv4(ident):
		return Identity{IP: ident, Display: ident, Type: TypeVoIPIP}
	default:
		sip := ident
		if domain != "" {
			sip = ident + "@" + domain
		}
		return Identity{SIP: sip, Display: ident, Type: TypeVoIPURI}
	}
}

// ExtractCleanIdentifier returns just the identifier substring of a SIP URI
// (number or IP), stripping any angle-bracket wrapping, sip: scheme, domain,
// and ;param suffixes. Used where only a short label is needed.
func ExtractCleanIdentifier(uri string) string {
	s := strings.TrimSpace(uri)
	if i := strings.IndexByte(s, '<'); i >= 0 {
		s = s[i+1:]
		if j := strings.IndexByte(s, '>'); j >= 0 {
			s = s[:j]
		}
	}
	s = strings.TrimPrefix(s, "sip:")
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	return stripParams(s)
}

func stripParams(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		return s[:i]
	}
	return s
}

func isIPv4(s string) bool {
	m := ipv4Re.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	for _, part := range m[1:] {
		if len(part) > 1 && part[0] == '0' {
			return false
		}
		n := 0
		for _, c := range part {
			n = n*10 + int(c-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}
