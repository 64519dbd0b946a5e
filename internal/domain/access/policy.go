// Package access decides how the caller's department restricts search results.
package access

import (
	"fmt"
	"slices"

	"github.com/kailas-cloud/docsearch/internal/domain"
)

// Mode selects the query-time access policy.
type Mode string

const (
	// ModeFilter returns only documents of the caller's department.
	ModeFilter Mode = "filter"
	// ModeRerank searches everything but ranks the caller's department first.
	ModeRerank Mode = "rerank"
	// ModeOpen applies no restriction.
	ModeOpen Mode = "open"
)

// ParseMode validates a configured mode. Empty selects ModeFilter.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeFilter, nil
	case ModeFilter, ModeRerank, ModeOpen:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown access mode %q", s)
	}
}

// Plan is what the search service asks from the index.
type Plan struct {
	// Department is the pre-filter; zero means unfiltered.
	Department domain.Department
	// Fetch is the number of neighbours to request.
	Fetch int
}

// Policy is an immutable access policy.
type Policy struct {
	mode       Mode
	candidates int
}

// NewPolicy creates a policy. candidates is the oversampling size for ModeRerank.
func NewPolicy(mode Mode, candidates int) Policy {
	return Policy{mode: mode, candidates: candidates}
}

// Mode returns the policy mode.
func (p Policy) Mode() Mode { return p.mode }

// Plan builds the index request for a caller asking for k hits.
func (p Policy) Plan(caller domain.Department, k int) (Plan, error) {
	switch p.mode {
	case ModeRerank:
		return Plan{Fetch: max(k, p.candidates)}, nil
	case ModeOpen:
		return Plan{Fetch: k}, nil
	default:
		if caller.IsZero() {
			return Plan{}, domain.ErrScopeRequired
		}
		return Plan{Department: caller, Fetch: k}, nil
	}
}

// Apply post-processes index hits already sorted by descending score.
// Under ModeRerank hits of the caller's department move to the front, keeping relative order.
func (p Policy) Apply(caller domain.Department, hits []domain.Hit, k int) []domain.Hit {
	out := slices.Clone(hits)
	if p.mode == ModeRerank && !caller.IsZero() {
		slices.SortStableFunc(out, func(a, b domain.Hit) int {
			return rank(a, caller) - rank(b, caller)
		})
	}
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func rank(h domain.Hit, caller domain.Department) int {
	if h.Department == caller {
		return 0
	}
	return 1
}
