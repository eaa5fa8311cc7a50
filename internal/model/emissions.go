package model

import (
	"strings"
	"time"
)

// Bucket is the granularity of an emissions series.
type Bucket string

const (
	BucketDay   Bucket = "day"
	BucketWeek  Bucket = "week"
	BucketMonth Bucket = "month"
)

// ParseBucket accepts day, week or month. Empty input means day.
func ParseBucket(s string) (Bucket, error) {
	switch Bucket(strings.ToLower(strings.TrimSpace(s))) {
	case "", BucketDay:
		return BucketDay, nil
	case BucketWeek:
		return BucketWeek, nil
	case BucketMonth:
		return BucketMonth, nil
	default:
		return "", &ValidationError{Field: "bucket", Message: "must be one of day, week, month"}
	}
}

// Filters narrow a query to exact branch, event and workflow matches.
// Empty fields do not filter.
type Filters struct {
	Branch   string `json:"branch,omitempty"`
	Event    string `json:"event,omitempty"`
	Workflow string `json:"workflow,omitempty"`
}

// Match reports whether r passes every non-empty filter.
func (f Filters) Match(r WorkflowRun) bool {
	return matchOptional(f.Branch, r.Branch) &&
		matchOptional(f.Event, r.Event) &&
		matchOptional(f.Workflow, r.WorkflowName)
}

func matchOptional(want string, got *string) bool {
	if want == "" {
		return true
	}
	return got != nil && *got == want
}

// Window is a half-open interval [From, To) in a specific time zone.
type Window struct {
	From     time.Time
	To       time.Time
	Location *time.Location
	// Adjusted is true when the resolver moved an empty default window onto
	// the caller's earliest data.
	Adjusted bool
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// BucketPoint is one entry of a zero-filled series.
type BucketPoint struct {
	Date       string  `json:"date"`
	Runs       int     `json:"runs"`
	Completed  int     `json:"completed"`
	Minutes    float64 `json:"minutes"`
	EmissionsG float64 `json:"emissions_g"`
}

// Totals sums a series.
type Totals struct {
	Runs       int     `json:"runs"`
	Completed  int     `json:"completed"`
	Minutes    float64 `json:"minutes"`
	EmissionsG float64 `json:"emissions_g"`
}

// Series is the output of bucketed aggregation.
type Series struct {
	Points []BucketPoint
	Totals Totals
}

// WindowView is the serialized form of a resolved window.
type WindowView struct {
	From   string `json:"from"`
	To     string `json:"to"`
	TZ     string `json:"tz"`
	Bucket Bucket `json:"bucket"`
}

// EmissionsReport is the response of a repository or owner emissions query.
type EmissionsReport struct {
	Owner          string        `json:"owner"`
	Repo           string        `json:"repo,omitempty"`
	Repositories   []string      `json:"repositories,omitempty"`
	Filters        Filters       `json:"filters"`
	Window         WindowView    `json:"window"`
	WindowAdjusted bool          `json:"windowAdjusted"`
	Totals         Totals        `json:"totals"`
	Series         []BucketPoint `json:"series"`
}
