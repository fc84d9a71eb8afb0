package classify

import (
	"regexp"
	"strings"
)

// fastPattern pairs an anchored, case-insensitive pattern with the query type
// it proves. Order matters: the first match wins.
type fastPattern struct {
	re        *regexp.Regexp
	queryType QueryType
	tag       string
}

// FastPath recognizes queries answerable from live ground truth: greetings,
// time/date requests, and repository state requests. Matching is constant
// time over a fixed in-memory pattern table; no embedding, network, or disk.
//
// A fast-path match takes precedence over every other classification stage.
// Routing these through a model or the cache risks stale or fabricated
// answers, so they short-circuit to the truth snapshot.
type FastPath struct {
	patterns []fastPattern
}

// NewFastPath builds the pattern table once. The table is immutable after
// construction and safe for concurrent use.
func NewFastPath() *FastPath {
	return &FastPath{patterns: []fastPattern{
		{
			re:        regexp.MustCompile(`(?i)^(hi|hello|hey|yo|good (morning|afternoon|evening))\b`),
			queryType: TypeGeneral,
			tag:       "skip_rag:greeting",
		},
		{
			re:        regexp.MustCompile(`(?i)^(what('?s| is) the (time|date)|what time is it|what day is (it|today)|current (time|date)|today'?s date)`),
			queryType: TypeTimeDate,
			tag:       "skip_rag:time_date",
		},
		{
			re:        regexp.MustCompile(`(?i)^(what branch|which branch|current branch|git status|repo status|is the (repo|tree|working tree) (dirty|clean)|what('?s| is) (head|the head commit))`),
			queryType: TypeRepo,
			tag:       "skip_rag:repo",
		},
	}}
}

// Match returns a truth_only Classification for fast-path queries, or nil
// when the query is not a fast-path case.
func (f *FastPath) Match(query string) *Classification {
	q := Normalize(query)
	if q == "" {
		return nil
	}
	for _, p := range f.patterns {
		if p.re.MatchString(q) {
			return &Classification{
				QueryType:  p.queryType,
				RoutedMode: ModeTruthOnly,
				Confidence: confidenceFastPath,
				Reason:     p.tag,
			}
		}
	}
	return nil
}

// Normalize lowercases and collapses whitespace so pattern matching and
// cache fingerprinting see the same canonical form of a query.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(query))), " ")
}
