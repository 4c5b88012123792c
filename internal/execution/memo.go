package execution

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Digest folds an arbitrary sequence of printable parts into a stable hex
// key for the memoization cache. Containers compose their own identity
// rules on top of it: file handles contribute their path, configurations
// contribute numbers plus coordinates rounded to four decimals, parameter
// records contribute their key-value form.
func Digest(parts ...any) string {
	h := sha256.New()
	for _, part := range parts {
		switch v := part.(type) {
		case File:
			fmt.Fprintf(h, "file:%s;", v.Path())
		case float64:
			// Round so that bitwise-noise on identical structures does
			// not defeat memoization.
			fmt.Fprintf(h, "%.4f;", v)
		default:
			fmt.Fprintf(h, "%v;", v)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
