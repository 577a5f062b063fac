package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/tsawler/go-trainloop/layers"
	"github.com/tsawler/go-trainloop/optimizer"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	formatVersion = "1.0.0"
	frameworkName = "go-trainloop"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatProto
	FormatMsgpack
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	case FormatMsgpack:
		return "Msgpack"
	default:
		return "Unknown"
	}
}

// Extension returns the file extension used for the format, without the dot.
func (cf CheckpointFormat) Extension() string {
	switch cf {
	case FormatProto:
		return "pb"
	case FormatMsgpack:
		return "msgpack"
	default:
		return "json"
	}
}

// ParseFormat maps "json", "proto" and "msgpack" to formats.
func ParseFormat(s string) (CheckpointFormat, error) {
	switch s {
	case "", "json":
		return FormatJSON, nil
	case "proto", "protobuf":
		return FormatProto, nil
	case "msgpack":
		return FormatMsgpack, nil
	default:
		return FormatJSON, fmt.Errorf("unknown checkpoint format %q", s)
	}
}

// Checkpoint represents a complete model state including weights, optimizer state, and training metadata
type Checkpoint struct {
	// Model weights
	Weights []WeightTensor `json:"weights" msgpack:"weights"`

	// Training state
	TrainingState TrainingState `json:"training_state" msgpack:"training_state"`

	// Optimizer state (if available)
	OptimizerState *optimizer.OptimizerState `json:"optimizer_state,omitempty" msgpack:"optimizer_state,omitempty"`

	// Metadata
	Metadata CheckpointMetadata `json:"metadata" msgpack:"metadata"`
}

// WeightTensor represents a model parameter with its data in row-major order
type WeightTensor struct {
	Name  string    `json:"name" msgpack:"name"`
	Shape []int     `json:"shape" msgpack:"shape"`
	Data  []float64 `json:"data" msgpack:"data"`
}

// TrainingState captures the training progress at the time of the checkpoint.
// Stats is empty when no evaluation ran in the checkpoint's epoch.
type TrainingState struct {
	Epoch        int                `json:"epoch" msgpack:"epoch"`
	LearningRate float64            `json:"learning_rate" msgpack:"learning_rate"`
	LossHistory  []float64          `json:"loss_history,omitempty" msgpack:"loss_history,omitempty"`
	Stats        map[string]float64 `json:"stats,omitempty" msgpack:"stats,omitempty"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version" msgpack:"version"`
	Framework   string    `json:"framework" msgpack:"framework"`
	RunID       string    `json:"run_id" msgpack:"run_id"`
	CreatedAt   time.Time `json:"created_at" msgpack:"created_at"`
	Host        HostInfo  `json:"host" msgpack:"host"`
	Description string    `json:"description,omitempty" msgpack:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty" msgpack:"tags,omitempty"`
}

// HostInfo records the machine that wrote the checkpoint.
type HostInfo struct {
	CPU           string `json:"cpu" msgpack:"cpu"`
	PhysicalCores int    `json:"physical_cores" msgpack:"physical_cores"`
	LogicalCores  int    `json:"logical_cores" msgpack:"logical_cores"`
}

// CurrentHost describes the CPU this process runs on.
func CurrentHost() HostInfo {
	return HostInfo{
		CPU:           cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
	}
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// Format returns the saver's serialization format.
func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// SaveCheckpoint writes checkpoint to path. The file is written under a
// temporary name and renamed, so a crash never leaves a truncated checkpoint.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = frameworkName
		checkpoint.Metadata.Version = formatVersion
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now().UTC()
	}

	data, err := cs.Marshal(checkpoint)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move checkpoint into place: %w", err)
	}
	return nil
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	return cs.Unmarshal(data)
}

// Marshal encodes checkpoint in the saver's format.
func (cs *CheckpointSaver) Marshal(checkpoint *Checkpoint) ([]byte, error) {
	switch cs.format {
	case FormatJSON:
		data, err := json.MarshalIndent(checkpoint, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
		}
		return data, nil
	case FormatProto:
		return marshalProto(checkpoint)
	case FormatMsgpack:
		data, err := msgpack.Marshal(checkpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format)
	}
}

// Unmarshal decodes a checkpoint in the saver's format.
func (cs *CheckpointSaver) Unmarshal(data []byte) (*Checkpoint, error) {
	var checkpoint Checkpoint
	switch cs.format {
	case FormatJSON:
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
	case FormatProto:
		if err := unmarshalProto(data, &checkpoint); err != nil {
			return nil, err
		}
	case FormatMsgpack:
		if err := msgpack.Unmarshal(data, &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format)
	}
	return &checkpoint, nil
}

// marshalProto stores the checkpoint as a google.protobuf.Struct, going
// through its JSON form so field names match the JSON format.
func marshalProto(checkpoint *Checkpoint) ([]byte, error) {
	raw, err := json.Marshal(checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build checkpoint struct: %w", err)
	}
	data, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint proto: %w", err)
	}
	return data, nil
}

func unmarshalProto(data []byte, checkpoint *Checkpoint) error {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to unmarshal checkpoint proto: %w", err)
	}
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if err := json.Unmarshal(raw, checkpoint); err != nil {
		return fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return nil
}

// ExtractWeights copies every parameter of model into weight tensors.
func ExtractWeights(model layers.Module) []WeightTensor {
	snaps := layers.Snapshot(model)
	weights := make([]WeightTensor, 0, len(snaps))
	for _, s := range snaps {
		weights = append(weights, WeightTensor{
			Name:  s.Name,
			Shape: []int{s.Rows, s.Cols},
			Data:  s.Data,
		})
	}
	return weights
}

// LoadWeights copies weights into the matching parameters of model. Every
// parameter must be present with the same shape; nothing is written unless
// all of them match.
func LoadWeights(model layers.Module, weights []WeightTensor) error {
	byName := make(map[string]WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}

	params := model.Parameters()
	if len(params) != len(weights) {
		return fmt.Errorf("weight count mismatch: model has %d parameters, checkpoint has %d", len(params), len(weights))
	}
	for _, p := range params {
		w, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint has no weights for parameter %s", p.Name)
		}
		r, c := p.Value.Dims()
		if len(w.Shape) != 2 || w.Shape[0] != r || w.Shape[1] != c {
			return fmt.Errorf("shape mismatch for weight %s: model [%d %d] vs checkpoint %v", p.Name, r, c, w.Shape)
		}
		if len(w.Data) != r*c {
			return fmt.Errorf("data size mismatch for weight %s: expected %d elements, got %d", p.Name, r*c, len(w.Data))
		}
	}

	for _, p := range params {
		w := byName[p.Name]
		r, c := p.Value.Dims()
		for i := 0; i < r; i++ {
			copy(p.Value.RawRowView(i), w.Data[i*c:(i+1)*c])
		}
	}
	return nil
}
