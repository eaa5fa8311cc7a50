package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// Policy controls how a patched field merges with the stored value.
type Policy int

const (
	// Overwrite replaces the stored value (last writer wins, subject to the
	// patch's lifecycle guard).
	Overwrite Policy = iota
	// SetIfAbsent writes the value only when the stored column is NULL.
	SetIfAbsent
)

// Field is one column assignment in a Patch.
type Field struct {
	Column string
	Value  any
	Policy Policy
}

// Lifecycle orders the values of a status column. When a Patch carries a
// Lifecycle, Overwrite fields apply only if the incoming status ranks at or
// above the stored one, so stale deliveries cannot move a record backwards.
type Lifecycle struct {
	Column   string
	Order    []string
	Incoming string
}

func (l Lifecycle) rank(v string) int {
	for i, s := range l.Order {
		if s == v {
			return i
		}
	}
	return 0
}

// rankExpr renders a SQL expression computing the stored status rank.
func (l Lifecycle) rankExpr() string {
	var b strings.Builder
	b.WriteString("CASE ")
	b.WriteString(l.Column)
	for i, s := range l.Order {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", s, i)
	}
	b.WriteString(" ELSE 0 END")
	return b.String()
}

// Patch is a typed, store-neutral description of a conditional update.
// Each adapter renders it into a single atomic UPDATE statement.
type Patch struct {
	Fields    []Field
	Lifecycle *Lifecycle
}

// Set adds an Overwrite field.
func (p *Patch) Set(column string, value any) *Patch {
	p.Fields = append(p.Fields, Field{Column: column, Value: value, Policy: Overwrite})
	return p
}

// SetIfAbsent adds a SetIfAbsent field.
func (p *Patch) SetIfAbsent(column string, value any) *Patch {
	p.Fields = append(p.Fields, Field{Column: column, Value: value, Policy: SetIfAbsent})
	return p
}

// Guard attaches a lifecycle guard.
func (p *Patch) Guard(l Lifecycle) *Patch {
	p.Lifecycle = &l
	return p
}

// Empty reports whether the patch has no fields.
func (p Patch) Empty() bool { return len(p.Fields) == 0 }

// render builds the SET clause for the given columns whitelist. Parameters
// are numbered from firstArg; placeholder formats one parameter reference.
func (p Patch) render(allowed map[string]bool, firstArg int, placeholder func(int) string, value func(any) any) (string, []any, error) {
	if p.Empty() {
		return "", nil, fmt.Errorf("storage: empty patch")
	}

	guard := ""
	if p.Lifecycle != nil {
		if !allowed[p.Lifecycle.Column] {
			return "", nil, fmt.Errorf("storage: patch guard on unknown column %q", p.Lifecycle.Column)
		}
		guard = p.Lifecycle.rankExpr() + " <= " + strconv.Itoa(p.Lifecycle.rank(p.Lifecycle.Incoming))
	}

	sets := make([]string, 0, len(p.Fields))
	args := make([]any, 0, len(p.Fields))
	seen := make(map[string]bool, len(p.Fields))
	for _, f := range p.Fields {
		if !allowed[f.Column] {
			return "", nil, fmt.Errorf("storage: patch on unknown column %q", f.Column)
		}
		if seen[f.Column] {
			return "", nil, fmt.Errorf("storage: column %q patched twice", f.Column)
		}
		seen[f.Column] = true

		ph := placeholder(firstArg + len(args))
		args = append(args, value(f.Value))

		switch f.Policy {
		case SetIfAbsent:
			sets = append(sets, fmt.Sprintf("%s = COALESCE(%s, %s)", f.Column, f.Column, ph))
		case Overwrite:
			if guard != "" {
				sets = append(sets, fmt.Sprintf("%s = CASE WHEN %s THEN %s ELSE %s END", f.Column, guard, ph, f.Column))
			} else {
				sets = append(sets, fmt.Sprintf("%s = %s", f.Column, ph))
			}
		default:
			return "", nil, fmt.Errorf("storage: unknown merge policy %d", f.Policy)
		}
	}
	return strings.Join(sets, ", "), args, nil
}

// runColumns is the whitelist of patchable workflow_runs columns.
var runColumns = map[string]bool{
	ColObservedAt:         true,
	ColStatus:             true,
	ColConclusion:         true,
	ColStartedAt:          true,
	ColCompletedAt:        true,
	ColBranch:             true,
	ColEvent:              true,
	ColWorkflowName:       true,
	ColCommitSHA:          true,
	ColAssumedVCPUs:       true,
	ColWattsPerVCPU:       true,
	ColPUE:                true,
	ColGridGramsPerKWh:    true,
	ColAssumptionsVersion: true,
	ColMinutes:            true,
	ColEnergyKWh:          true,
	ColEmissionsMg:        true,
	ColCarbonComputedAt:   true,
}

// workflow_runs column names.
const (
	ColObservedAt         = "observed_at"
	ColStatus             = "status"
	ColConclusion         = "conclusion"
	ColStartedAt          = "started_at"
	ColCompletedAt        = "completed_at"
	ColBranch             = "branch"
	ColEvent              = "event"
	ColWorkflowName       = "workflow_name"
	ColCommitSHA          = "commit_sha"
	ColAssumedVCPUs       = "assumed_vcpus"
	ColWattsPerVCPU       = "watts_per_vcpu"
	ColPUE                = "pue"
	ColGridGramsPerKWh    = "grid_g_per_kwh"
	ColAssumptionsVersion = "assumptions_version"
	ColMinutes            = "minutes"
	ColEnergyKWh          = "energy_kwh"
	ColEmissionsMg        = "emissions_mg"
	ColCarbonComputedAt   = "carbon_computed_at"
)

const runSelectColumns = `repo_full_name, run_id, observed_at, status, conclusion, started_at, completed_at,
	branch, event, workflow_name, commit_sha,
	assumed_vcpus, watts_per_vcpu, pue, grid_g_per_kwh, assumptions_version,
	minutes, energy_kwh, emissions_mg, carbon_computed_at, backfill_batch`

// listPageSize bounds each keyset page when draining a partition.
const listPageSize = 500
