package policy

import "testing"

func TestResolveForPath_LongestLiteralPrefixWins(t *testing.T) {
	r := NewRegistry()
	r.RegisterRoute("/admin/*", "strict")
	r.RegisterRoute("/admin/reports/*", "relaxed")
	r.RegisterRoute("/*", "allowVerifiedBots")

	got := r.ResolveForPath("/admin/reports/q3")
	if got.Name != "relaxed" {
		t.Fatalf("expected the more specific /admin/reports/* route to win, got %q", got.Name)
	}

	got = r.ResolveForPath("/admin/users")
	if got.Name != "strict" {
		t.Fatalf("expected /admin/* route, got %q", got.Name)
	}
}

func TestResolveForPath_FallsBackToDefaultWhenNoRouteMatches(t *testing.T) {
	r := NewRegistry()
	r.RegisterRoute("/api/*", "strict")

	got := r.ResolveForPath("/static/logo.png")
	if got.Name != "default" {
		t.Fatalf("expected default policy, got %q", got.Name)
	}
}

func TestResolveForPath_RespectsConfiguredDefault(t *testing.T) {
	r := NewRegistry()
	r.SetDefault("relaxed")

	got := r.ResolveForPath("/anything")
	if got.Name != "relaxed" {
		t.Fatalf("expected configured default %q, got %q", "relaxed", got.Name)
	}
}

func TestResolveForPath_IsPure(t *testing.T) {
	r := NewRegistry()
	r.RegisterRoute("/api/*", "strict")

	first := r.ResolveForPath("/api/widgets")
	second := r.ResolveForPath("/api/widgets")
	if first.Name != second.Name {
		t.Fatalf("expected repeated resolution of the same path to be stable, got %q then %q", first.Name, second.Name)
	}
}

func TestValidateTransitions_FailsClosedOnNilCondition(t *testing.T) {
	r := NewRegistry()
	r.Register(Policy{
		Name:        "broken",
		Transitions: []Transition{{ThenAction: ActionBlock}},
	})

	if err := r.ValidateTransitions(); err == nil {
		t.Fatal("expected a nil transition condition to fail validation")
	}
}

func TestValidateTransitions_BuiltinsAreValid(t *testing.T) {
	r := NewRegistry()
	if err := r.ValidateTransitions(); err != nil {
		t.Fatalf("expected builtin policies to validate cleanly, got %v", err)
	}
}

func TestBuiltinPolicies_StrictIsMoreAggressiveThanRelaxed(t *testing.T) {
	r := NewRegistry()
	strict, _ := r.Get("strict")
	relaxed, _ := r.Get("relaxed")

	if strict.ImmediateBlockThreshold >= relaxed.ImmediateBlockThreshold {
		t.Fatalf("expected strict's immediate-block threshold (%v) below relaxed's (%v)",
			strict.ImmediateBlockThreshold, relaxed.ImmediateBlockThreshold)
	}
	if strict.MinConfidence >= relaxed.MinConfidence {
		t.Fatalf("expected strict to require less confidence than relaxed before acting")
	}
}

func TestBuiltinPolicies_AllowVerifiedBotsShortCircuitsOnConfirmedGood(t *testing.T) {
	r := NewRegistry()
	p, ok := r.Get("allowVerifiedBots")
	if !ok {
		t.Fatal("expected allowVerifiedBots to be registered")
	}

	ctx := EvalContext{BotProbability: 0.95, Confidence: 0.9, ReputationState: "ConfirmedGood"}
	transition, matched := Evaluate(p.Transitions, ctx)
	if !matched {
		t.Fatal("expected a transition to match")
	}
	if transition.ThenAction != ActionAllow {
		t.Fatalf("expected ConfirmedGood reputation to force Allow even at high bot probability, got %q", transition.ThenAction)
	}
}

func TestPolicy_WeightForDefaultsToOne(t *testing.T) {
	p := Policy{}
	if w := p.WeightFor("reputation"); w != 1.0 {
		t.Fatalf("expected default weight 1.0, got %v", w)
	}

	p.PerDetectorWeight = map[string]float64{"reputation": 0.5}
	if w := p.WeightFor("reputation"); w != 0.5 {
		t.Fatalf("expected configured weight 0.5, got %v", w)
	}
}

func TestPolicy_AllDetectorNamesUnionsFastAndSlowPath(t *testing.T) {
	p := Policy{FastPath: []string{"honeypot", "ua"}, SlowPath: []string{"reputation-bias"}}
	names := p.AllDetectorNames()
	if len(names) != 3 {
		t.Fatalf("expected 3 detector names, got %v", names)
	}
}
