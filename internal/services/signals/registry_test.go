package signals

import (
	"context"
	"errors"
	"testing"
	"time"

	"PolyPaper/internal/domain/models"
)

// stubSignal scripts Ready/Compute behavior for registry tests.
type stubSignal struct {
	base
	ready bool
	out   *models.SignalOutput
	err   error
	calls int
}

func newStub(name string, ready bool, out *models.SignalOutput, err error) *stubSignal {
	return &stubSignal{base: newBase(name, time.Minute, nil), ready: ready, out: out, err: err}
}

func (s *stubSignal) RequiredLookback() int            { return 0 }
func (s *stubSignal) Ready(*models.SignalContext) bool { return s.ready }

func (s *stubSignal) Compute(context.Context, *models.SignalContext) (*models.SignalOutput, error) {
	s.calls++
	return s.out, s.err
}

func stubOutput(name string) *models.SignalOutput {
	return &models.SignalOutput{
		Signal:     name,
		TokenID:    "tok-yes",
		Direction:  models.DirectionLong,
		Strength:   0.5,
		Confidence: 0.5,
		Timestamp:  testNow,
		TTL:        time.Minute,
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry(testLogger(t))
	if err := r.Register(newStub("alpha", true, nil, nil), 1); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(newStub("alpha", true, nil, nil), 1); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestRegistryComputeOrderAndSkips(t *testing.T) {
	r := NewRegistry(testLogger(t))

	first := newStub("first", true, stubOutput("first"), nil)
	unready := newStub("unready", false, stubOutput("unready"), nil)
	failing := newStub("failing", true, nil, errors.New("boom"))
	gap := newStub("gap", true, nil, nil)
	last := newStub("last", true, stubOutput("last"), nil)

	for _, s := range []*stubSignal{first, unready, failing, gap, last} {
		if err := r.Register(s, 1); err != nil {
			t.Fatalf("register %s: %v", s.Name(), err)
		}
	}

	outputs := r.ComputeAll(context.Background(), testContext(nil))
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}
	if outputs[0].Signal != "first" || outputs[1].Signal != "last" {
		t.Errorf("registration order not preserved: %s, %s", outputs[0].Signal, outputs[1].Signal)
	}
	if unready.calls != 0 {
		t.Error("unready signal must be skipped, not computed")
	}
	if failing.calls != 1 || gap.calls != 1 {
		t.Error("ready signals must each be computed once")
	}
}

func TestRegistryDisabledSkipped(t *testing.T) {
	r := NewRegistry(testLogger(t))
	s := newStub("alpha", true, stubOutput("alpha"), nil)
	if err := r.Register(s, 1); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !r.SetEnabled("alpha", false) {
		t.Fatal("SetEnabled should find registered signal")
	}
	if r.SetEnabled("ghost", false) {
		t.Error("SetEnabled must report unknown names")
	}

	outputs := r.ComputeAll(context.Background(), testContext(nil))
	if len(outputs) != 0 {
		t.Fatalf("disabled signal must not contribute, got %d outputs", len(outputs))
	}
	if s.calls != 0 {
		t.Error("disabled signal must not be computed")
	}
}

func TestRegistryBaseWeights(t *testing.T) {
	r := NewRegistry(testLogger(t))
	if err := r.Register(newStub("alpha", true, nil, nil), 2.5); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(newStub("beta", true, nil, nil), 0); err != nil {
		t.Fatalf("register: %v", err)
	}

	weights := r.BaseWeights()
	if weights["alpha"] != 2.5 {
		t.Errorf("expected alpha weight 2.5, got %f", weights["alpha"])
	}
	if weights["beta"] != 1 {
		t.Errorf("non-positive seed must default to 1, got %f", weights["beta"])
	}
}
