package notification

import (
	"strings"
)

// bodyFields collects "Key: value" lines from a report body. Keys are
// lowercased, folded continuation lines are joined, and the first
// occurrence of a key wins, which for multi-recipient reports is the
// first recipient block.
func bodyFields(body string) map[string]string {
	fields := make(map[string]string)
	var current string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			current = ""
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if current != "" {
				fields[current] += " " + strings.TrimSpace(line)
			}
			continue
		}
		current = ""
		key, val, ok := strings.Cut(line, ":")
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			continue
		}
		key = strings.ToLower(key)
		if _, exists := fields[key]; exists {
			continue
		}
		fields[key] = strings.TrimSpace(val)
		current = key
	}
	return fields
}

// lookup returns the first non-empty value for any key, checking headers
// before body fields.
func lookup(h *Headers, fields map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
		if v := fields[strings.ToLower(k)]; v != "" {
			return v
		}
	}
	return ""
}

// StripAddressType removes an RFC 3464 address-type prefix ("rfc822;")
// and surrounding angle brackets.
func StripAddressType(addr string) string {
	addr = strings.TrimSpace(addr)
	if typ, rest, ok := strings.Cut(addr, ";"); ok && !strings.Contains(typ, "@") {
		addr = strings.TrimSpace(rest)
	}
	return strings.Trim(addr, "<>")
}
