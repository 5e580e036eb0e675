package cache

// Stats is a snapshot of the store counters.
//
// KeyCount, KeySize and ValueSize describe what is currently stored.
// Hits and Misses are cumulative: they survive Flush and are only cleared by ResetStats.
type Stats struct {
	KeyCount  int
	Hits      uint64
	Misses    uint64
	KeySize   int64
	ValueSize int64
}

// HitRatio returns hits / (hits + misses), or 0 before any read.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
