package timeseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jai-vignesh007/EcoDev/internal/model"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestBucketLabel(t *testing.T) {
	ts := time.Date(2024, 12, 30, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-12-30", BucketLabel(ts, model.BucketDay, time.UTC))
	assert.Equal(t, "2025-W01", BucketLabel(ts, model.BucketWeek, time.UTC))
	assert.Equal(t, "2024-12", BucketLabel(ts, model.BucketMonth, time.UTC))
}

func TestBucketLabelUsesLocalTime(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	ts := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC) // 22:00 on Jan 1 in New York
	assert.Equal(t, "2024-01-01", BucketLabel(ts, model.BucketDay, ny))
	assert.Equal(t, "2024-01-02", BucketLabel(ts, model.BucketDay, time.UTC))
}

func TestBucketStart(t *testing.T) {
	ts := time.Date(2024, 1, 4, 18, 30, 0, 0, time.UTC) // Thursday
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), BucketStart(ts, model.BucketDay, time.UTC))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), BucketStart(ts, model.BucketWeek, time.UTC))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), BucketStart(ts, model.BucketMonth, time.UTC))

	sunday := time.Date(2024, 1, 7, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), BucketStart(sunday, model.BucketWeek, time.UTC))
}

func TestNextBucketAcrossDST(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, ny)
	next := NextBucket(start, model.BucketDay, ny)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, ny), next)
	assert.Equal(t, 23*time.Hour, next.Sub(start))
}

func TestNextBucketMonthFromLongMonth(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var labels []string
	for cur := start; len(labels) < 3; cur = NextBucket(cur, model.BucketMonth, time.UTC) {
		labels = append(labels, BucketLabel(cur, model.BucketMonth, time.UTC))
	}
	assert.Equal(t, []string{"2024-01", "2024-02", "2024-03"}, labels)
}
