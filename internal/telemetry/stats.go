package telemetry

import (
	"sort"
	"time"
)

// CategoryStats aggregates completions for one file category.
type CategoryStats struct {
	Count       int     `json:"count"`
	MeanSeconds float64 `json:"mean_seconds"`
	TotalTokens int64   `json:"total_tokens"`
}

// Stats is a summary of completion records for reporting.
type Stats struct {
	Count       int                      `json:"count"`
	MeanSeconds float64                  `json:"mean_seconds"`
	P95Seconds  float64                  `json:"p95_seconds"`
	TotalTokens int64                    `json:"total_tokens"`
	ByCategory  map[string]CategoryStats `json:"by_category"`
	First       time.Time                `json:"first,omitempty"`
	Last        time.Time                `json:"last,omitempty"`
}

// Aggregate folds records into summary statistics. No records produce
// zero stats, never nil.
func Aggregate(records []Record) *Stats {
	s := &Stats{ByCategory: map[string]CategoryStats{}}
	if len(records) == 0 {
		return s
	}

	secs := make([]float64, 0, len(records))
	catSecs := map[string]float64{}
	var total float64
	for _, rec := range records {
		s.Count++
		total += rec.Seconds
		s.TotalTokens += int64(rec.Tokens)
		secs = append(secs, rec.Seconds)

		cs := s.ByCategory[rec.Category]
		cs.Count++
		cs.TotalTokens += int64(rec.Tokens)
		s.ByCategory[rec.Category] = cs
		catSecs[rec.Category] += rec.Seconds

		if s.First.IsZero() || rec.CompletedAt.Before(s.First) {
			s.First = rec.CompletedAt
		}
		if rec.CompletedAt.After(s.Last) {
			s.Last = rec.CompletedAt
		}
	}

	s.MeanSeconds = total / float64(s.Count)
	for cat, cs := range s.ByCategory {
		cs.MeanSeconds = catSecs[cat] / float64(cs.Count)
		s.ByCategory[cat] = cs
	}

	sort.Float64s(secs)
	s.P95Seconds = percentileFromSorted(secs, 95)
	return s
}

// Stats loads and aggregates records completed at or after since; a
// zero since covers all recorded history.
func (r *Recorder) Stats(since time.Time) (*Stats, error) {
	records, err := r.Load(since)
	if err != nil {
		return nil, err
	}
	return Aggregate(records), nil
}

// HistoricalAverage returns the mean seconds per completed item across
// all recorded history and the sample count behind it. No usable
// history, including a read failure, reports as zero samples.
func (r *Recorder) HistoricalAverage() (float64, int) {
	records, err := r.Load(time.Time{})
	if err != nil || len(records) == 0 {
		return 0, 0
	}

	var total float64
	for _, rec := range records {
		total += rec.Seconds
	}
	return total / float64(len(records)), len(records)
}

// percentileFromSorted reads the value at offset floor(n*(100-pct)/100)
// from the top of an ascending sort; for small n that is the maximum.
func percentileFromSorted(sorted []float64, pct int) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	offset := n * (100 - pct) / 100
	return sorted[n-1-offset]
}
