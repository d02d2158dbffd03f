package poll

// Tally counts votes per option or party id. Every id of a vote's selection
// gets one increment, so a multiple choice vote touches several buckets.
// Ids with no votes are absent from the result.
func Tally(rows [][]string) map[string]int {
	counts := make(map[string]int)
	for _, optionIDs := range rows {
		for _, id := range optionIDs {
			counts[id]++
		}
	}
	return counts
}

// SameTally reports whether two tallies hold identical counts.
func SameTally(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for id, n := range a {
		if b[id] != n {
			return false
		}
	}
	return true
}
