package dataset

import (
	"fmt"
	"strings"
)

// ConcatLogs aggregates the reference logs of a list of configurations
// into one report, prefixing every line with the configuration's index.
func ConcatLogs(configs []*Configuration) string {
	var sb strings.Builder
	for i, c := range configs {
		prefix := fmt.Sprintf("INDEX %05d - ", i)
		for _, line := range strings.Split(c.ReferenceLog, "\n") {
			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
