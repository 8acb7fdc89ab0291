package storage

import "strings"

// ParseLabels splits comma separated label text, trimming every label and
// dropping the empty ones. Duplicates are kept.
func ParseLabels(text string) []string {
	res := make([]string, 0)
	for _, part := range strings.Split(text, ",") {
		if label := strings.TrimSpace(part); label != "" {
			res = append(res, label)
		}
	}
	return res
}
