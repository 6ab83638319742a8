package parser

import "strings"

const defaultPhoneStripCharset = " ()-./ "

const (
	minPhoneDigits = 6
	maxPhoneDigits = 15
)

// NormalizePhone reduces a raw phone string to digits plus an optional
// leading "+". A leading international "00" is rewritten to "+". The
// result is accepted only when it carries between 6 and 15 digits;
// anything else yields "".
func (p *Parser) NormalizePhone(raw string) string {
	return normalizePhone(raw, p.cfg.PhoneStripCharset)
}

func normalizePhone(raw, stripCharset string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case strings.ContainsRune(stripCharset, r):
			// configured separator, drop silently
		default:
			// every other character is stripped as well
		}
	}

	normalized := b.String()
	if strings.HasPrefix(normalized, "00") {
		normalized = "+" + normalized[2:]
	}

	digits := len(strings.TrimPrefix(normalized, "+"))
	if digits < minPhoneDigits || digits > maxPhoneDigits {
		return ""
	}
	return normalized
}
