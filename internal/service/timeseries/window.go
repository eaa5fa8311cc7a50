package timeseries

import (
	"fmt"
	"strings"
	"time"

	"github.com/jai-vignesh007/EcoDev/internal/model"
)

// DefaultLookbackDays is the width of the default query window.
const DefaultLookbackDays = 365

// DefaultMaxWindowDays caps the width of any resolved window. The series is
// zero-filled, so the cap bounds the work a single query can request.
const DefaultMaxWindowDays = 3700

const dateLayout = "2006-01-02"

// WindowInput carries the raw window parameters of a query.
type WindowInput struct {
	// From and To are ISO dates (YYYY-MM-DD) or RFC 3339 timestamps. Empty
	// means not supplied.
	From string
	To   string

	Location     *time.Location
	Now          time.Time
	LookbackDays int
	MaxDays      int
}

// ResolveWindow computes the half-open query window.
//
// Explicit bounds are used as given. A missing bound defaults relative to
// today: To is tomorrow's midnight and From is To minus the lookback when
// only To was given, else today minus the lookback. When neither bound is
// explicit and none of anchors falls inside the default window, the window
// moves to start at the day of the earliest anchor and Adjusted is set.
// Windows wider than MaxDays are rejected.
func ResolveWindow(in WindowInput, anchors []time.Time) (model.Window, error) {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	lookback := in.LookbackDays
	if lookback <= 0 {
		lookback = DefaultLookbackDays
	}
	maxDays := in.MaxDays
	if maxDays <= 0 {
		maxDays = DefaultMaxWindowDays
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	from, err := parseBound("from", in.From, loc)
	if err != nil {
		return model.Window{}, err
	}
	to, err := parseBound("to", in.To, loc)
	if err != nil {
		return model.Window{}, err
	}

	today := StartOfDay(now, loc)
	tomorrow := today.AddDate(0, 0, 1)

	w := model.Window{Location: loc}
	switch {
	case from != nil && to != nil:
		w.From, w.To = *from, *to
	case from != nil:
		w.From, w.To = *from, tomorrow
	case to != nil:
		w.From, w.To = to.AddDate(0, 0, -lookback), *to
	default:
		w.From, w.To = today.AddDate(0, 0, -lookback), tomorrow
	}
	if !w.From.Before(w.To) {
		return model.Window{}, &model.ValidationError{Field: "from", Message: "must be before to"}
	}
	if w.To.After(w.From.AddDate(0, 0, maxDays)) {
		return model.Window{}, &model.ValidationError{Field: "from", Message: fmt.Sprintf("must be at most %d days before to", maxDays)}
	}

	if from == nil && to == nil {
		w = fallback(w, anchors, lookback, tomorrow)
	}
	return w, nil
}

// fallback shifts an empty default window onto the earliest anchor. Anchors
// later than the window (clock skew) never move it.
func fallback(w model.Window, anchors []time.Time, lookback int, tomorrow time.Time) model.Window {
	var earliest time.Time
	for _, a := range anchors {
		if w.Contains(a) {
			return w
		}
		if earliest.IsZero() || a.Before(earliest) {
			earliest = a
		}
	}
	if earliest.IsZero() || !earliest.Before(w.From) {
		return w
	}

	from := StartOfDay(earliest, w.Location)
	to := from.AddDate(0, 0, lookback)
	if tomorrow.Before(to) {
		to = tomorrow
	}
	return model.Window{From: from, To: to, Location: w.Location, Adjusted: true}
}

func parseBound(field, s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.In(loc)
		return &t, nil
	}
	return nil, &model.ValidationError{Field: field, Message: "must be a date (YYYY-MM-DD) or RFC 3339 timestamp"}
}

// View renders w for a response. Midnight bounds print as dates.
func View(w model.Window, b model.Bucket) model.WindowView {
	return model.WindowView{
		From:   formatBound(w.From, w.Location),
		To:     formatBound(w.To, w.Location),
		TZ:     w.Location.String(),
		Bucket: b,
	}
}

func formatBound(t time.Time, loc *time.Location) string {
	t = t.In(loc)
	if t.Equal(StartOfDay(t, loc)) {
		return t.Format(dateLayout)
	}
	return t.Format(time.RFC3339)
}

// LoadLocation resolves an IANA zone name, falling back to def when name is
// empty.
func LoadLocation(name string, def *time.Location) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		if def == nil {
			return time.UTC, nil
		}
		return def, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, &model.ValidationError{Field: "tz", Message: "is not a known IANA time zone"}
	}
	return loc, nil
}
