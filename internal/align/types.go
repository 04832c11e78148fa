package align

// Word is a single timestamped word returned by the alignment service.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Timing is the matched time range of one line within its batch audio.
type Timing struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// TimingMap holds timings keyed by line index. Only matched lines are present.
type TimingMap map[int]Timing

// Merge returns a new map holding the entries of m overlaid with other.
func (m TimingMap) Merge(other TimingMap) TimingMap {
	out := make(TimingMap, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}
