package classify

import "strings"

// Rule pairs a predicate with the query type it assigns. Rules are held in an
// explicit ordered list so precedence lives in data, not in code layout.
type Rule struct {
	QueryType QueryType
	Match     func(normalized string) bool
}

// Classifier assigns a query type using a fixed precedence order:
//
//	summary > code > ops > technical > creative > general
//
// If a query matches several rule sets, the earliest in that order wins.
// Unmatched queries fall back to general. The classifier is pure: identical
// input always yields an identical Classification.
type Classifier struct {
	rules []Rule
}

// NewClassifier constructs the default rule list. The returned Classifier is
// immutable and safe for concurrent use.
func NewClassifier() *Classifier {
	return &Classifier{rules: defaultRules()}
}

// NewClassifierWithRules builds a Classifier from an explicit ordered rule
// list. Used by tests to assert precedence independently of the default set.
func NewClassifierWithRules(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the Classification for a query that did not match the
// fast path. It never fails: malformed or unmatched input classifies as
// general with a fallback reason.
func (c *Classifier) Classify(query string) Classification {
	q := Normalize(query)
	for _, r := range c.rules {
		if r.Match(q) {
			return Classification{
				QueryType:  r.QueryType,
				RoutedMode: modeFor(r.QueryType),
				Confidence: confidenceRule,
				Reason:     "classified:" + string(r.QueryType),
			}
		}
	}
	return Classification{
		QueryType:  TypeGeneral,
		RoutedMode: ModeRAG,
		Confidence: confidenceFallback,
		Reason:     "fallback:general",
	}
}

// modeFor maps a query type to its routed mode. Ops queries are commands
// answered without retrieval context; everything else the rule classifier
// emits goes through the RAG path.
func modeFor(t QueryType) RoutedMode {
	if t == TypeOps {
		return ModeCommand
	}
	return ModeRAG
}

func defaultRules() []Rule {
	return []Rule{
		{TypeSummary, containsAny("summarize", "summary", "tl;dr", "tldr", "recap", "condense")},
		{TypeCode, containsAny("code", "function", "implement", "refactor", "compile", "debug", "bug in", "stack trace", "unit test", "snippet", "regex")},
		{TypeOps, containsAny("restart", "deploy", "install", "uninstall", "start the", "stop the", "shut down", "launch", "kill the", "service status")},
		{TypeTechnical, containsAny("explain", "how does", "how do", "what is", "why does", "difference between", "architecture", "protocol", "algorithm")},
		{TypeCreative, containsAny("write a story", "write a poem", "brainstorm", "imagine", "creative", "slogan", "name ideas", "make up")},
	}
}

func containsAny(substrs ...string) func(string) bool {
	return func(q string) bool {
		for _, s := range substrs {
			if strings.Contains(q, s) {
				return true
			}
		}
		return false
	}
}
