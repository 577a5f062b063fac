package checkpoints

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/tsawler/go-trainloop/layers"
	"github.com/tsawler/go-trainloop/optimizer"
	"github.com/tsawler/go-trainloop/training"
)

// ManagerConfig configures checkpoint saving behavior
type ManagerConfig struct {
	SaveDirectory   string           // Directory to save checkpoints
	FilenamePattern string           // fmt pattern taking the epoch number
	Format          CheckpointFormat // JSON, Proto or Msgpack
	MaxCheckpoints  int              // Maximum number of periodic checkpoints to keep (0 = unlimited)
	SaveBest        bool             // Also write best.<ext> when BestMetric improves
	BestMetric      string           // Stats key compared for SaveBest
	HigherIsBetter  bool             // Whether a larger BestMetric is an improvement
	Description     string
	Tags            []string
	RunID           string // Generated when empty
}

// DefaultManagerConfig returns a sensible default configuration
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		SaveDirectory:   "./checkpoints",
		FilenamePattern: "checkpoint_epoch_%d",
		Format:          FormatJSON,
		MaxCheckpoints:  5,
		SaveBest:        true,
		BestMetric:      "loss",
	}
}

// Manager writes checkpoints for a training run. It implements
// training.Checkpointer.
type Manager struct {
	config ManagerConfig
	saver  *CheckpointSaver
	runID  string
	host   HostInfo
	logger *slog.Logger

	optimizer optimizer.Optimizer
	history   func() []float64

	// Set by Restore: epochs and losses of the run being continued.
	epochOffset  int
	priorHistory []float64

	savedFiles []string // periodic checkpoints, oldest first
	best       float64
	hasBest    bool
}

var _ training.Checkpointer = (*Manager)(nil)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithOptimizer stores opt's state in every checkpoint so a run can resume exactly.
func WithOptimizer(opt optimizer.Optimizer) ManagerOption {
	return func(m *Manager) {
		m.optimizer = opt
	}
}

// WithLossHistory stores the loss history returned by fn in every checkpoint.
func WithLossHistory(fn func() []float64) ManagerOption {
	return func(m *Manager) {
		m.history = fn
	}
}

// WithManagerLogger sets the logger used for retention warnings.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates the save directory. Without a configured run ID a fresh
// one is generated.
func NewManager(config ManagerConfig, opts ...ManagerOption) (*Manager, error) {
	if config.SaveDirectory == "" {
		return nil, fmt.Errorf("save directory is required")
	}
	if config.FilenamePattern == "" {
		config.FilenamePattern = DefaultManagerConfig().FilenamePattern
	}
	if config.MaxCheckpoints < 0 {
		return nil, fmt.Errorf("max checkpoints cannot be negative: %d", config.MaxCheckpoints)
	}
	if config.SaveBest && config.BestMetric == "" {
		config.BestMetric = "loss"
	}
	if err := os.MkdirAll(config.SaveDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	runID := config.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	m := &Manager{
		config: config,
		saver:  NewCheckpointSaver(config.Format),
		runID:  runID,
		host:   CurrentHost(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RunID identifies every checkpoint written by this manager.
func (m *Manager) RunID() string {
	return m.runID
}

// SavedFiles returns the periodic checkpoints currently kept, oldest first.
func (m *Manager) SavedFiles() []string {
	out := make([]string, len(m.savedFiles))
	copy(out, m.savedFiles)
	return out
}

// BestPath is where the best checkpoint is written when SaveBest is set.
func (m *Manager) BestPath() string {
	return filepath.Join(m.config.SaveDirectory, "best."+m.config.Format.Extension())
}

// EpochOffset is the number of epochs completed by the restored checkpoint, 0
// for a fresh run.
func (m *Manager) EpochOffset() int {
	return m.epochOffset
}

// Save writes the checkpoint for epoch, prunes old ones beyond MaxCheckpoints
// and, when stats improve on BestMetric, refreshes the best checkpoint. After
// Restore, epoch counts from the restored checkpoint, so a resumed run's first
// epoch is saved as EpochOffset()+1.
func (m *Manager) Save(epoch int, model layers.Module, stats training.Stats) error {
	epoch += m.epochOffset
	checkpoint, err := m.build(epoch, model, stats)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}

	path := filepath.Join(m.config.SaveDirectory, m.filename(epoch))
	if err := m.saver.SaveCheckpoint(checkpoint, path); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	m.savedFiles = append(m.savedFiles, path)

	if err := m.cleanupOldCheckpoints(); err != nil {
		m.logger.Warn("failed to clean up old checkpoints", "error", err)
	}

	if m.isBest(stats) {
		checkpoint.Metadata.Description = fmt.Sprintf("Best checkpoint - %s: %.6f", m.config.BestMetric, m.best)
		if err := m.saver.SaveCheckpoint(checkpoint, m.BestPath()); err != nil {
			return fmt.Errorf("failed to save best checkpoint: %w", err)
		}
	}
	return nil
}

// Load reads a checkpoint written in the manager's format.
func (m *Manager) Load(path string) (*Checkpoint, error) {
	checkpoint, err := m.saver.LoadCheckpoint(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return checkpoint, nil
}

// Restore loads checkpoint weights into model and, when both are present,
// optimizer state into the configured optimizer. Later saves continue the
// checkpoint's epoch numbering and loss history.
func (m *Manager) Restore(checkpoint *Checkpoint, model layers.Module) error {
	if err := LoadWeights(model, checkpoint.Weights); err != nil {
		return fmt.Errorf("failed to restore weights: %w", err)
	}
	if m.optimizer != nil && checkpoint.OptimizerState != nil {
		if err := m.optimizer.LoadState(checkpoint.OptimizerState); err != nil {
			return fmt.Errorf("failed to restore optimizer state: %w", err)
		}
	}
	m.epochOffset = checkpoint.TrainingState.Epoch
	m.priorHistory = append([]float64(nil), checkpoint.TrainingState.LossHistory...)
	return nil
}

func (m *Manager) build(epoch int, model layers.Module, stats training.Stats) (*Checkpoint, error) {
	checkpoint := &Checkpoint{
		Weights: ExtractWeights(model),
		TrainingState: TrainingState{
			Epoch: epoch,
			Stats: stats,
		},
		Metadata: CheckpointMetadata{
			Version:     formatVersion,
			Framework:   frameworkName,
			RunID:       m.runID,
			Host:        m.host,
			Description: m.config.Description,
			Tags:        m.config.Tags,
		},
	}
	if m.history != nil || len(m.priorHistory) > 0 {
		history := append([]float64(nil), m.priorHistory...)
		if m.history != nil {
			history = append(history, m.history()...)
		}
		checkpoint.TrainingState.LossHistory = history
	}
	if m.optimizer != nil {
		checkpoint.TrainingState.LearningRate = m.optimizer.LearningRate()
		state, err := m.optimizer.GetState()
		if err != nil {
			return nil, fmt.Errorf("failed to capture optimizer state: %w", err)
		}
		checkpoint.OptimizerState = state
	}
	return checkpoint, nil
}

func (m *Manager) isBest(stats training.Stats) bool {
	if !m.config.SaveBest {
		return false
	}
	v, ok := stats[m.config.BestMetric]
	if !ok || math.IsNaN(v) {
		return false
	}
	better := !m.hasBest ||
		(m.config.HigherIsBetter && v > m.best) ||
		(!m.config.HigherIsBetter && v < m.best)
	if better {
		m.best, m.hasBest = v, true
	}
	return better
}

func (m *Manager) filename(epoch int) string {
	return fmt.Sprintf(m.config.FilenamePattern, epoch) + "." + m.config.Format.Extension()
}

func (m *Manager) cleanupOldCheckpoints() error {
	if m.config.MaxCheckpoints <= 0 {
		return nil // No limit
	}
	if len(m.savedFiles) <= m.config.MaxCheckpoints {
		return nil // Under limit
	}

	// Remove oldest checkpoints
	toRemove := len(m.savedFiles) - m.config.MaxCheckpoints
	for i := 0; i < toRemove; i++ {
		if err := os.Remove(m.savedFiles[i]); err != nil && !os.IsNotExist(err) {
			m.savedFiles = m.savedFiles[i:]
			return fmt.Errorf("failed to remove old checkpoint %s: %w", m.savedFiles[0], err)
		}
	}
	m.savedFiles = m.savedFiles[toRemove:]
	return nil
}
