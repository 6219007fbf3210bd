package qpsolve

import (
	"context"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// boxPlusSumProblem builds minimize 0.5(x0^2+x1^2) s.t. 0<=x0<=1, 0<=x1<=1,
// x0+x1>=1. The unconstrained minimum (0,0) violates the sum constraint, so
// the true optimum sits on that boundary at (0.5, 0.5).
func boxPlusSumProblem() *Problem {
	p := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	a := mat.NewDense(3, 2, []float64{
		1, 0,
		0, 1,
		1, 1,
	})
	return &Problem{
		N: 2,
		P: p,
		Q: []float64{0, 0},
		A: a,
		L: []float64{0, 0, 1},
		U: []float64{1, 1, 2},
	}
}

func TestPGDBackendSolvesBoxPlusSum(t *testing.T) {
	b := NewPGDBackend()
	res, err := b.Solve(context.Background(), boxPlusSumProblem(), nil)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Status != Optimal {
		t.Fatalf("status = %v, reason = %q", res.Status, res.Reason)
	}
	if math.Abs(res.X[0]-0.5) > 5e-2 || math.Abs(res.X[1]-0.5) > 5e-2 {
		t.Fatalf("x = %v, want approx (0.5, 0.5)", res.X)
	}
}

func TestADMMBackendSolvesBoxPlusSum(t *testing.T) {
	b := NewADMMBackend()
	res, err := b.Solve(context.Background(), boxPlusSumProblem(), nil)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Status != Optimal {
		t.Fatalf("status = %v, reason = %q", res.Status, res.Reason)
	}
	if math.Abs(res.X[0]-0.5) > 1e-3 || math.Abs(res.X[1]-0.5) > 1e-3 {
		t.Fatalf("x = %v, want approx (0.5, 0.5)", res.X)
	}
}

func TestADMMBackendRespectsBoxWithoutGeneralRows(t *testing.T) {
	// minimize 0.5*x^2 - x subject to 0<=x<=1: unconstrained minimizer is
	// x=1, sitting exactly on the upper box edge.
	p := mat.NewSymDense(1, []float64{1})
	a := mat.NewDense(1, 1, []float64{1})
	prob := &Problem{N: 1, P: p, Q: []float64{-1}, A: a, L: []float64{0}, U: []float64{1}}

	b := NewADMMBackend()
	res, err := b.Solve(context.Background(), prob, nil)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Status != Optimal {
		t.Fatalf("status = %v, reason = %q", res.Status, res.Reason)
	}
	if math.Abs(res.X[0]-1) > 1e-3 {
		t.Fatalf("x = %v, want approx 1", res.X)
	}
}

func TestADMMBackendWarmStartConvergesFaster(t *testing.T) {
	prob := boxPlusSumProblem()
	b := NewADMMBackend()

	cold, err := b.Solve(context.Background(), prob, nil)
	if err != nil {
		t.Fatalf("cold solve: %v", err)
	}
	warm, err := b.Solve(context.Background(), prob, cold.X)
	if err != nil {
		t.Fatalf("warm solve: %v", err)
	}
	if warm.Iterations > cold.Iterations {
		t.Fatalf("warm-started solve took more iterations (%d) than cold (%d)", warm.Iterations, cold.Iterations)
	}
}

func TestADMMBackendHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewADMMBackend()
	res, err := b.Solve(ctx, boxPlusSumProblem(), nil)
	if err == nil {
		t.Fatalf("expected context cancellation error")
	}
	if res.Status != SolverFail {
		t.Fatalf("status = %v, want SolverFail", res.Status)
	}
}

func TestPGDBackendFlagsInfeasiblePenaltyBreach(t *testing.T) {
	// A constraint the box can never satisfy: x in [0,1] but row requires
	// x >= 5. The penalty term pulls toward feasibility but can't reach it.
	p := mat.NewSymDense(1, []float64{1})
	a := mat.NewDense(2, 1, []float64{1, 1})
	prob := &Problem{N: 1, P: p, Q: []float64{0}, A: a, L: []float64{0, 5}, U: []float64{1, 10}}

	b := NewPGDBackend()
	b.MaxIterations = 200
	res, err := b.Solve(context.Background(), prob, nil)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Status != SolverFail {
		t.Fatalf("status = %v, want SolverFail for an infeasible box/row combination", res.Status)
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		Optimal:          "Optimal",
		InfeasibleStatus: "Infeasible",
		Unbounded:        "Unbounded",
		SolverFail:       "SolverFail",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", s, got, want)
		}
	}
}
