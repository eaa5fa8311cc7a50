package timeseries

import (
	"time"

	"github.com/jai-vignesh007/EcoDev/internal/emissions"
	"github.com/jai-vignesh007/EcoDev/internal/model"
)

type accumulator struct {
	runs      int
	completed int
	minutes   float64
	mg        int64
}

func (a *accumulator) add(r model.WorkflowRun) {
	a.runs++
	if !r.HasEmissions() {
		return
	}
	a.completed++
	a.mg += *r.EmissionsMg
	if r.Minutes != nil {
		a.minutes += *r.Minutes
	}
}

func (a *accumulator) merge(o accumulator) {
	a.runs += o.runs
	a.completed += o.completed
	a.minutes += o.minutes
	a.mg += o.mg
}

// Aggregate rolls runs into a zero-filled series over w.
//
// A run is placed by its completion time; runs without one, or whose
// completion falls outside w, are skipped. Every placed run counts toward
// Runs. Completed counts runs that finished with an estimate, and only
// those contribute minutes and grams. Sums are kept exact and rounded when
// the points are built.
func Aggregate(runs []model.WorkflowRun, w model.Window, b model.Bucket, f model.Filters) model.Series {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}

	var labels []string
	buckets := make(map[string]*accumulator)
	for cur := BucketStart(w.From, b, loc); cur.Before(w.To); cur = NextBucket(cur, b, loc) {
		label := BucketLabel(cur, b, loc)
		if _, ok := buckets[label]; ok {
			continue
		}
		labels = append(labels, label)
		buckets[label] = &accumulator{}
	}

	for _, r := range runs {
		if r.CompletedAt == nil || !w.Contains(*r.CompletedAt) || !f.Match(r) {
			continue
		}
		if acc, ok := buckets[BucketLabel(*r.CompletedAt, b, loc)]; ok {
			acc.add(r)
		}
	}

	series := model.Series{Points: make([]model.BucketPoint, 0, len(labels))}
	var total accumulator
	for _, label := range labels {
		acc := buckets[label]
		total.merge(*acc)
		series.Points = append(series.Points, model.BucketPoint{
			Date:       label,
			Runs:       acc.runs,
			Completed:  acc.completed,
			Minutes:    emissions.Round(acc.minutes, 2),
			EmissionsG: milligramsToGrams(acc.mg),
		})
	}
	series.Totals = model.Totals{
		Runs:       total.runs,
		Completed:  total.completed,
		Minutes:    emissions.Round(total.minutes, 2),
		EmissionsG: milligramsToGrams(total.mg),
	}
	return series
}

// Anchors returns the completion times of runs that finished with an
// estimate and pass f. The window resolver falls back onto these.
func Anchors(runs []model.WorkflowRun, f model.Filters) []time.Time {
	var out []time.Time
	for _, r := range runs {
		if r.HasEmissions() && r.CompletedAt != nil && f.Match(r) {
			out = append(out, *r.CompletedAt)
		}
	}
	return out
}

func milligramsToGrams(mg int64) float64 {
	return emissions.Round(float64(mg)/1000, 3)
}
