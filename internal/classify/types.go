package classify

// QueryType is the closed taxonomy of query categories. Adding a type means
// touching the routing table in the route package, which switches exhaustively
// over these values.
type QueryType string

const (
	TypeTimeDate  QueryType = "time_date"
	TypeRepo      QueryType = "repo"
	TypeOps       QueryType = "ops"
	TypeCode      QueryType = "code"
	TypeTechnical QueryType = "technical"
	TypeCreative  QueryType = "creative"
	TypeSummary   QueryType = "summary"
	TypeGeneral   QueryType = "general"
)

// RoutedMode says which downstream path a classified query takes.
type RoutedMode string

const (
	// ModeTruthOnly answers from the live truth snapshot; cache and
	// retrieval are both bypassed.
	ModeTruthOnly RoutedMode = "truth_only"
	// ModeRAG goes through cache lookup and, on miss, retrieval.
	ModeRAG RoutedMode = "rag"
	// ModeCommand is for operational queries answered without retrieval
	// context but still via a model call.
	ModeCommand RoutedMode = "command"
)

// Classification is produced exactly once per request and never mutated.
type Classification struct {
	QueryType  QueryType  `json:"query_type"`
	RoutedMode RoutedMode `json:"routed_mode"`
	Confidence float64    `json:"confidence"`
	// Reason is a tagged string (skip_rag:*, classified:*, fallback:*)
	// surfaced in routing_meta and asserted by tests.
	Reason string `json:"reason"`
}

// Confidence levels for the deterministic classifier. Fast-path matches are
// certain, rule matches are strong, the general fallback is weak.
const (
	confidenceFastPath = 1.0
	confidenceRule     = 0.9
	confidenceFallback = 0.4
)
