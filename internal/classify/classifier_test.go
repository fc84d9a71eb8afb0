package classify

import "testing"

func TestClassify_Taxonomy(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		query    string
		wantType QueryType
		wantMode RoutedMode
	}{
		{"summarize this document for me", TypeSummary, ModeRAG},
		{"refactor this function to avoid the bug in the loop", TypeCode, ModeRAG},
		{"restart the indexer service", TypeOps, ModeCommand},
		{"explain recursion", TypeTechnical, ModeRAG},
		{"write a poem about compilers", TypeCreative, ModeRAG},
		{"tell me about cheese", TypeGeneral, ModeRAG},
	}

	for _, tt := range tests {
		got := c.Classify(tt.query)
		if got.QueryType != tt.wantType {
			t.Errorf("Classify(%q).QueryType = %s, want %s", tt.query, got.QueryType, tt.wantType)
		}
		if got.RoutedMode != tt.wantMode {
			t.Errorf("Classify(%q).RoutedMode = %s, want %s", tt.query, got.RoutedMode, tt.wantMode)
		}
	}
}

func TestClassify_PrecedenceOrder(t *testing.T) {
	c := NewClassifier()

	// Matches both summary ("summarize") and code ("function"): summary wins.
	got := c.Classify("summarize this function")
	if got.QueryType != TypeSummary {
		t.Errorf("QueryType = %s, want %s (summary outranks code)", got.QueryType, TypeSummary)
	}

	// Matches both code ("debug") and ops ("restart"): code wins.
	got = c.Classify("debug why restart fails")
	if got.QueryType != TypeCode {
		t.Errorf("QueryType = %s, want %s (code outranks ops)", got.QueryType, TypeCode)
	}

	// Matches both ops ("deploy") and technical ("explain"): ops wins.
	got = c.Classify("explain then deploy the new build")
	if got.QueryType != TypeOps {
		t.Errorf("QueryType = %s, want %s (ops outranks technical)", got.QueryType, TypeOps)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := NewClassifier()
	queries := []string{"explain recursion", "summarize the meeting", "", "what about turtles"}
	for _, q := range queries {
		first := c.Classify(q)
		second := c.Classify(q)
		if first != second {
			t.Errorf("Classify(%q) not deterministic: %+v vs %+v", q, first, second)
		}
	}
}

func TestClassify_FallbackReason(t *testing.T) {
	got := NewClassifier().Classify("blorp")
	if got.QueryType != TypeGeneral {
		t.Errorf("QueryType = %s, want general", got.QueryType)
	}
	if got.Reason != "fallback:general" {
		t.Errorf("Reason = %q, want fallback:general", got.Reason)
	}
	if got.Confidence >= confidenceRule {
		t.Errorf("fallback confidence %f should be below rule confidence %f", got.Confidence, confidenceRule)
	}
}

func TestClassify_CustomRuleOrder(t *testing.T) {
	always := func(string) bool { return true }
	c := NewClassifierWithRules([]Rule{
		{TypeCreative, always},
		{TypeCode, always},
	})
	if got := c.Classify("anything"); got.QueryType != TypeCreative {
		t.Errorf("QueryType = %s, want creative (first rule in list wins)", got.QueryType)
	}
}
