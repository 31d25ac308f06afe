// Package encoding decodes legacy Shift-JIS (CP932) chart text to UTF-8.
package encoding

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
)

// ShiftJISToUTF8 decodes a Shift-JIS byte string to UTF-8. Returns false
// when the input is not valid Shift-JIS.
func ShiftJISToUTF8(s string) (string, bool) {
	if s == "" {
		return "", true
	}
	decoded, err := japanese.ShiftJIS.NewDecoder().String(s)
	if err != nil {
		// The platform decoder is unavailable or the input is broken; fall
		// back to passing through when the bytes already form valid UTF-8.
		if utf8.ValidString(s) {
			return s, true
		}
		return "", false
	}
	return decoded, true
}
