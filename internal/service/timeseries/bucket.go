package timeseries

import (
	"fmt"
	"time"

	"github.com/jai-vignesh007/EcoDev/internal/model"
)

// StartOfDay returns local midnight of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// BucketStart floors t to the start of its bucket in loc. Weeks start on
// Monday, matching ISO 8601.
func BucketStart(t time.Time, b model.Bucket, loc *time.Location) time.Time {
	day := StartOfDay(t, loc)
	switch b {
	case model.BucketWeek:
		offset := (int(day.Weekday()) + 6) % 7
		y, m, d := day.Date()
		return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
	case model.BucketMonth:
		y, m, _ := day.Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	default:
		return day
	}
}

// NextBucket returns the start of the bucket after the one starting at start.
// Steps are calendar steps, so a DST transition yields a 23 or 25 hour day.
func NextBucket(start time.Time, b model.Bucket, loc *time.Location) time.Time {
	y, m, d := start.In(loc).Date()
	switch b {
	case model.BucketWeek:
		d += 7
	case model.BucketMonth:
		m++
		d = 1
	default:
		d++
	}
	return BucketStart(time.Date(y, m, d, 12, 0, 0, 0, loc), b, loc)
}

// BucketLabel formats the bucket containing t: YYYY-MM-DD for days,
// YYYY-Www (ISO week-numbering year) for weeks, YYYY-MM for months.
func BucketLabel(t time.Time, b model.Bucket, loc *time.Location) string {
	t = t.In(loc)
	switch b {
	case model.BucketWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case model.BucketMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}
