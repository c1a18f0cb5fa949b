package platform

import "strings"

// ============================================
// E.164 VALIDATION & FORMATTING
// ============================================

// ValidE164 reports whether a number is in E.164 format: a leading '+'
// followed by 2 to 15 digits, with no leading zero.
func ValidE164(number string) bool {
	if len(number) < 3 || len(number) > 16 {
		return false
	}
	if number[0] != '+' {
		return false
	}
	if number[1] == '0' {
		return false
	}
	for _, c := range number[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// NormalizeDigits strips everything except digits and a leading '+', so that
// user input like "(555) 123-4567" can be validated and dialed.
func NormalizeDigits(input string) string {
	var b strings.Builder
	for i, c := range input {
		if c == '+' && i == 0 {
			b.WriteByte('+')
			continue
		}
		if c >= '0' && c <= '9' {
			b.WriteRune(rune(c))
		}
	}
	return b.String()
}

// FormatE164 renders a valid E.164 number for display. NANP numbers get the
// familiar +1 (AAA) BBB-CCCC shape; everything else is grouped loosely.
// Invalid input is returned unchanged.
func FormatE164(number string) string {
	if !ValidE164(number) {
		return number
	}
	digits := number[1:]
	if len(digits) == 11 && digits[0] == '1' {
		return "+1 (" + digits[1:4] + ") " + digits[4:7] + "-" + digits[7:]
	}
	if len(digits) <= 4 {
		return number
	}
	// Group foreign numbers as +CC NNN NNN...
	var parts []string
	rest := digits
	cc := rest[:len(rest)%3]
	if cc != "" {
		parts = append(parts, cc)
		rest = rest[len(cc):]
	}
	for len(rest) > 0 {
		n := 3
		if len(rest) < n {
			n = len(rest)
		}
		parts = append(parts, rest[:n])
		rest = rest[n:]
	}
	return "+" + strings.Join(parts, " ")
}
