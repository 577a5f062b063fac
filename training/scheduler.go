package training

import (
	"fmt"
	"math"
)

// LRScheduler is a learning rate schedule: a pure function of the number of
// completed epochs and the starting rate.
type LRScheduler interface {
	LearningRate(epoch int, baseLR float64) float64
	Name() string
}

// SchedulerConfig selects and parameterises an LRScheduler. A zero Gamma
// picks the schedule's usual decay.
type SchedulerConfig struct {
	Name     string  // "step", "exponential", "cosine" or "constant"
	StepSize int     // step: epochs between decays
	Gamma    float64 // step, exponential: decay factor in (0, 1)
	TMax     int     // cosine: epochs to reach EtaMin
	EtaMin   float64 // cosine: floor rate
}

// NewLRScheduler builds the schedule named in config.
func NewLRScheduler(config SchedulerConfig) (LRScheduler, error) {
	var (
		s   LRScheduler
		err error
	)
	switch config.Name {
	case "step":
		s, err = NewStepLRScheduler(config.StepSize, config.Gamma)
	case "exponential":
		s, err = NewExponentialLRScheduler(config.Gamma)
	case "cosine":
		s, err = NewCosineAnnealingLRScheduler(config.TMax, config.EtaMin)
	case "", "constant":
		s = ConstantLR{}
	default:
		err = fmt.Errorf("unknown scheduler %q", config.Name)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func decayFactor(gamma, fallback float64) (float64, error) {
	if gamma == 0 {
		return fallback, nil
	}
	if gamma < 0 || gamma >= 1 {
		return 0, fmt.Errorf("gamma must be in (0, 1), got %v", gamma)
	}
	return gamma, nil
}

// StepLRScheduler multiplies the rate by Gamma every StepSize epochs.
type StepLRScheduler struct {
	StepSize int
	Gamma    float64
}

func NewStepLRScheduler(stepSize int, gamma float64) (*StepLRScheduler, error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("step_size must be positive, got %d", stepSize)
	}
	gamma, err := decayFactor(gamma, 0.1)
	if err != nil {
		return nil, err
	}
	return &StepLRScheduler{StepSize: stepSize, Gamma: gamma}, nil
}

func (s *StepLRScheduler) LearningRate(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s *StepLRScheduler) Name() string { return "StepLR" }

// ExponentialLRScheduler multiplies the rate by Gamma after every epoch.
type ExponentialLRScheduler struct {
	Gamma float64
}

func NewExponentialLRScheduler(gamma float64) (*ExponentialLRScheduler, error) {
	gamma, err := decayFactor(gamma, 0.95)
	if err != nil {
		return nil, err
	}
	return &ExponentialLRScheduler{Gamma: gamma}, nil
}

func (s *ExponentialLRScheduler) LearningRate(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRScheduler) Name() string { return "ExponentialLR" }

// CosineAnnealingLRScheduler follows half a cosine from the base rate down to
// EtaMin over TMax epochs and stays at EtaMin afterwards.
type CosineAnnealingLRScheduler struct {
	TMax   int
	EtaMin float64
}

func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) (*CosineAnnealingLRScheduler, error) {
	if tMax <= 0 {
		return nil, fmt.Errorf("t_max must be positive, got %d", tMax)
	}
	if etaMin < 0 {
		return nil, fmt.Errorf("eta_min cannot be negative, got %v", etaMin)
	}
	return &CosineAnnealingLRScheduler{TMax: tMax, EtaMin: etaMin}, nil
}

func (s *CosineAnnealingLRScheduler) LearningRate(epoch int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	progress := float64(epoch) / float64(s.TMax)
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*progress))/2
}

func (s *CosineAnnealingLRScheduler) Name() string { return "CosineAnnealingLR" }

// ConstantLR keeps the base rate.
type ConstantLR struct{}

func (ConstantLR) LearningRate(_ int, baseLR float64) float64 { return baseLR }
func (ConstantLR) Name() string                               { return "ConstantLR" }

// EpochScheduler drives an optimizer's learning rate from an LRScheduler.
// The base rate is the optimizer's rate when the EpochScheduler is created.
// After the k-th Advance the rate is strategy.LearningRate(k, base).
type EpochScheduler struct {
	strategy  LRScheduler
	optimizer Optimizer
	baseLR    float64
	epochs    int
}

// NewEpochScheduler binds strategy to optimizer.
func NewEpochScheduler(strategy LRScheduler, optimizer Optimizer) (*EpochScheduler, error) {
	if strategy == nil || optimizer == nil {
		return nil, fmt.Errorf("scheduler strategy and optimizer are required")
	}
	return &EpochScheduler{
		strategy:  strategy,
		optimizer: optimizer,
		baseLR:    optimizer.LearningRate(),
	}, nil
}

// Advance records one completed epoch and updates the optimizer.
func (s *EpochScheduler) Advance() error {
	s.epochs++
	lr := s.strategy.LearningRate(s.epochs, s.baseLR)
	if math.IsNaN(lr) || lr < 0 {
		return fmt.Errorf("%s produced invalid learning rate %v at epoch %d", s.strategy.Name(), lr, s.epochs)
	}
	s.optimizer.SetLearningRate(lr)
	return nil
}

// Resume continues the schedule after completed epochs of an earlier run, as
// if Advance had been called completed times, and sets the optimizer's rate
// to match.
func (s *EpochScheduler) Resume(completed int) error {
	if completed < 0 {
		return fmt.Errorf("completed epochs cannot be negative, got %d", completed)
	}
	s.epochs = completed
	lr := s.strategy.LearningRate(completed, s.baseLR)
	if math.IsNaN(lr) || lr < 0 {
		return fmt.Errorf("%s produced invalid learning rate %v at epoch %d", s.strategy.Name(), lr, completed)
	}
	s.optimizer.SetLearningRate(lr)
	return nil
}

// Epochs returns how many epochs the schedule has covered.
func (s *EpochScheduler) Epochs() int {
	return s.epochs
}

// Name returns the strategy name.
func (s *EpochScheduler) Name() string {
	return s.strategy.Name()
}
