package script

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Checksum returns the hex sha256 of text after stripping a UTF-8 BOM and
// normalising CRLF and CR line endings to LF, so checkouts on different
// platforms agree.
func Checksum(text string) string {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
