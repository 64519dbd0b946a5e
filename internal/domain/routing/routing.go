// Package routing maps object store creation events to pipeline stages.
package routing

import (
	"errors"
	"fmt"
	"strings"
)

// Route names the pipeline stage an object event is dispatched to.
type Route string

const (
	// RouteNone means the event is ignored.
	RouteNone Route = ""
	// RouteUpload sends a raw upload to the ingestion queue.
	RouteUpload Route = "upload"
	// RouteArtifact sends a transformed artifact to the index worker.
	RouteArtifact Route = "artifact"
)

// Rule matches objects by bucket, key prefix and key suffix.
// Empty Prefix or Suffix matches any key.
type Rule struct {
	Bucket string
	Prefix string
	Suffix string
	Route  Route
}

func (r Rule) matches(bucket, key string) bool {
	return r.Bucket == bucket &&
		strings.HasPrefix(key, r.Prefix) &&
		strings.HasSuffix(key, r.Suffix)
}

// Table is an ordered list of rules. The first matching rule wins.
type Table struct {
	rules []Rule
}

// NewTable validates rules and builds a table.
func NewTable(rules []Rule) (*Table, error) {
	if len(rules) == 0 {
		return nil, errors.New("routing table needs at least one rule")
	}
	for i, r := range rules {
		if r.Bucket == "" {
			return nil, fmt.Errorf("rule %d: bucket is required", i)
		}
		switch r.Route {
		case RouteUpload, RouteArtifact:
		default:
			return nil, fmt.Errorf("rule %d: unknown route %q", i, r.Route)
		}
	}
	return &Table{rules: append([]Rule(nil), rules...)}, nil
}

// Resolve returns the route for an object event.
func (t *Table) Resolve(bucket, key string) Route {
	for _, r := range t.rules {
		if r.matches(bucket, key) {
			return r.Route
		}
	}
	return RouteNone
}

// Rules returns a copy of the configured rules.
func (t *Table) Rules() []Rule { return append([]Rule(nil), t.rules...) }

// DefaultRules builds the cross product of department prefixes and accepted suffixes
// on the raw bucket, plus the artifact rule on the transformed bucket.
func DefaultRules(rawBucket, transformedBucket string, prefixes, suffixes []string, artifactSuffix string) []Rule {
	rules := make([]Rule, 0, len(prefixes)*len(suffixes)+1)
	for _, p := range prefixes {
		for _, s := range suffixes {
			rules = append(rules, Rule{Bucket: rawBucket, Prefix: p, Suffix: s, Route: RouteUpload})
		}
	}
	return append(rules, Rule{Bucket: transformedBucket, Suffix: artifactSuffix, Route: RouteArtifact})
}
