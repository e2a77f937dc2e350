package dashboard

import "time"

// Period is the bucket length for aggregation.
type Period int

const (
	PeriodWeek Period = iota
	PeriodMonth
)

// next returns the exclusive end of the period beginning at start.
func (p Period) next(start time.Time) time.Time {
	if p == PeriodMonth {
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(0, 0, 7)
}

// BucketByPeriod groups activities into one bucket per period start,
// aligned positionally with starts. An activity lands in the bucket
// whose [start, next) range contains its local start time; identifiers
// in excluded are left out entirely. Averages are computed over the
// activities that actually carry the field and are nil when none do.
func BucketByPeriod(acts []*Activity, starts []time.Time, period Period, excluded map[int64]bool) []Bucket {
	buckets := make([]Bucket, len(starts))
	for i, start := range starts {
		end := period.next(start)
		b := Bucket{Start: start, Activities: []*Activity{}}
		var hrSum, cadSum float64
		var hrN, cadN int
		for _, a := range acts {
			if excluded[a.ID] {
				continue
			}
			t := a.StartDateLocal
			if t.Before(start) || !t.Before(end) {
				continue
			}
			b.Activities = append(b.Activities, a)
			b.Count++
			b.Miles += MetersToMiles(a.Distance)
			if a.AverageHeartrate > 0 {
				hrSum += a.AverageHeartrate
				hrN++
			}
			if a.AverageCadence > 0 {
				cadSum += a.AverageCadence
				cadN++
			}
		}
		if hrN > 0 {
			avg := hrSum / float64(hrN)
			b.AverageHeartrate = &avg
		}
		if cadN > 0 {
			avg := cadSum / float64(cadN)
			b.AverageCadence = &avg
		}
		buckets[i] = b
	}
	return buckets
}
