package optimizer

import (
	"testing"

	"github.com/tsawler/go-trainloop/layers"
)

func TestAdamConfig(t *testing.T) {
	config := DefaultAdamConfig()

	if config.LearningRate != 0.001 {
		t.Errorf("Expected learning rate 0.001, got %f", config.LearningRate)
	}
	if config.Beta1 != 0.9 {
		t.Errorf("Expected beta1 0.9, got %f", config.Beta1)
	}
	if config.Beta2 != 0.999 {
		t.Errorf("Expected beta2 0.999, got %f", config.Beta2)
	}
	if config.Epsilon != 1e-8 {
		t.Errorf("Expected epsilon 1e-8, got %e", config.Epsilon)
	}
}

func TestAdamConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*AdamConfig)
	}{
		{"beta1 of one", func(c *AdamConfig) { c.Beta1 = 1 }},
		{"negative beta2", func(c *AdamConfig) { c.Beta2 = -0.5 }},
		{"zero epsilon", func(c *AdamConfig) { c.Epsilon = 0 }},
		{"negative weight decay", func(c *AdamConfig) { c.WeightDecay = -0.01 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAdamConfig()
			tt.modify(&cfg)
			if _, err := NewAdam([]*layers.Parameter{scalarParam("w", 1, 0)}, cfg); err == nil {
				t.Error("expected configuration error")
			}
		})
	}
}

// The first bias-corrected Adam step moves each weight by almost exactly lr
// against the sign of its gradient.
func TestAdamFirstStep(t *testing.T) {
	pos := scalarParam("a", 1, 0.5)
	neg := scalarParam("b", 1, -2)
	adam, err := NewAdam([]*layers.Parameter{pos, neg}, DefaultAdamConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := adam.Step(); err != nil {
		t.Fatal(err)
	}

	assertClose(t, "positive gradient", 0.999, pos.Value.At(0, 0), 1e-9)
	assertClose(t, "negative gradient", 1.001, neg.Value.At(0, 0), 1e-9)
	if adam.GetStepCount() != 1 {
		t.Errorf("expected step count 1, got %d", adam.GetStepCount())
	}
}

func TestAdamZeroGradientLeavesWeights(t *testing.T) {
	p := scalarParam("w", 2, 0)
	adam, err := NewAdam([]*layers.Parameter{p}, DefaultAdamConfig())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := adam.Step(); err != nil {
			t.Fatal(err)
		}
	}
	assertClose(t, "weight", 2, p.Value.At(0, 0), 0)
}
