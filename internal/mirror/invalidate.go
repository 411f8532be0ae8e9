package mirror

// DatesNeedingSummary returns the dates that have an original artifact but no
// live summary artifact, ascending. Invalidated (.bak) summaries do not count
// as live, so an invalidated date re-enters this set.
func (s *Store) DatesNeedingSummary(room string) ([]string, error) {
	originals, err := s.OriginalDates(room)
	if err != nil {
		return nil, err
	}
	summarized, err := s.SummaryDates(room)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(summarized))
	for _, d := range summarized {
		have[d] = true
	}
	var pending []string
	for _, d := range originals {
		if !have[d] {
			pending = append(pending, d)
		}
	}
	return pending, nil
}

// OnContentChanged applies the invalidation rule after an ingest touched a
// date: when the original body's fingerprint changed and a summary exists for
// that exact date, the summary artifact is renamed aside. Returns true when a
// summary was invalidated. Other dates are never touched.
func (s *Store) OnContentChanged(room, date string, before, after Fingerprint) (bool, error) {
	if before == after {
		return false, nil
	}
	return s.InvalidateSummary(room, date)
}
