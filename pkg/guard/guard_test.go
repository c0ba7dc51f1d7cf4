package guard

import (
	"context"
	"errors"
	"testing"
)

func TestNew_CompileErrorIsFatal(t *testing.T) {
	_, err := New([]string{`replicas >=`})
	if err == nil {
		t.Fatal("expected compile error for malformed rule")
	}
}

func TestAdmit_AllRulesPass(t *testing.T) {
	g, err := New([]string{
		`replicas >= 1 && replicas <= 10`,
		`params.size() < 1000`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Admit(context.Background(), "question", 3, []string{"strict"}); err != nil {
		t.Fatalf("expected admission, got %v", err)
	}
}

func TestAdmit_DenialNamesRule(t *testing.T) {
	g, err := New([]string{`replicas <= 5`})
	if err != nil {
		t.Fatal(err)
	}

	err = g.Admit(context.Background(), "q", 9, []string{"strict"})
	var denial *DenialError
	if !errors.As(err, &denial) {
		t.Fatalf("expected DenialError, got %v", err)
	}
	if denial.Rule != `replicas <= 5` {
		t.Fatalf("unexpected rule in denial: %q", denial.Rule)
	}
}

func TestAdmit_PoliciesVariable(t *testing.T) {
	g, err := New([]string{`policies.size() >= 1 && policies[0] == "strict"`})
	if err != nil {
		t.Fatal(err)
	}

	if err := g.Admit(context.Background(), "q", 2, []string{"strict", "comparative"}); err != nil {
		t.Fatalf("expected admission, got %v", err)
	}
	if err := g.Admit(context.Background(), "q", 2, []string{"comparative"}); err == nil {
		t.Fatal("expected denial when the ladder does not start strict")
	}
}

func TestAdmit_FailsClosedOnEvaluationError(t *testing.T) {
	g, err := New([]string{`100 / (replicas - replicas) > 0`})
	if err != nil {
		t.Fatal(err)
	}

	err = g.Admit(context.Background(), "q", 2, nil)
	if err == nil {
		t.Fatal("expected fail-closed error")
	}
	var denial *DenialError
	if errors.As(err, &denial) {
		t.Fatal("evaluation errors are not rule denials")
	}
}

func TestAdmit_NoRulesAdmitsEverything(t *testing.T) {
	g, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Admit(context.Background(), "anything", 100, nil); err != nil {
		t.Fatalf("empty guard must admit, got %v", err)
	}
}
