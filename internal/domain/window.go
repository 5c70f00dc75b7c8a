package domain

import "time"

// InServiceWindow reports whether occurred falls in the request's service
// window. Both edges are inclusive; a nil completion leaves the window open.
func InServiceWindow(occurred, creation time.Time, completion *time.Time) bool {
	if occurred.Before(creation) {
		return false
	}
	return completion == nil || !occurred.After(*completion)
}

// FilterServiceWindow keeps matches whose crime occurred during the
// request's service window. Input order is preserved.
func FilterServiceWindow(matches []Match) []Match {
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		req := m.Buffer.Request
		if InServiceWindow(m.Crime.OccurredAt, req.CreationTime, req.CompletionTime) {
			out = append(out, m)
		}
	}
	return out
}
