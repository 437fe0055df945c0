package probe

// SessionID identifies the physical server session behind a logical connection.
// Backends normalize whatever the server reports into its string form.
type SessionID string

// Verdict is the outcome of a probe run.
type Verdict int

const (
	NotPooled Verdict = iota
	Pooled
)

func (v Verdict) String() string {
	if v == Pooled {
		return "Pooled"
	}
	return "Not Pooled"
}

// VerdictOf compares two captured session ids.
func VerdictOf(a, b SessionID) Verdict {
	if a == b {
		return Pooled
	}
	return NotPooled
}

// Consistent reports whether every result carries the same verdict.
// An empty slice is consistent.
func Consistent(results []Result) bool {
	for i := 1; i < len(results); i++ {
		if results[i].Verdict != results[0].Verdict {
			return false
		}
	}
	return true
}
