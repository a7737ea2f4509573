package middleware

import (
	"regexp"
	"strings"
)

var (
	numericSegment = regexp.MustCompile(`^\d+$`)
	uuidSegment    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// NormalizeRoute collapses parameterized path segments to stable
// placeholders so metrics aggregate per logical route instead of
// fragmenting per concrete URL: purely numeric segments become :id,
// 36-character hyphenated hex segments become :uuid, and any query
// string is stripped. Normalizing an already-normalized route returns
// it unchanged.
func NormalizeRoute(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}

	segments := strings.Split(path, "/")
	for i, segment := range segments {
		switch {
		case numericSegment.MatchString(segment):
			segments[i] = ":id"
		case uuidSegment.MatchString(segment):
			segments[i] = ":uuid"
		}
	}
	return strings.Join(segments, "/")
}
