package honeypot

import (
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// Decode renders a received chunk for the log. Valid UTF-8 is returned with
// surrounding whitespace trimmed; anything else becomes lowercase hex of the
// raw bytes, so no byte is ever lost.
func Decode(chunk []byte) string {
	if utf8.Valid(chunk) {
		return strings.TrimSpace(string(chunk))
	}
	return hex.EncodeToString(chunk)
}
