package optimizer

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Common helper functions for optimizer state management

// newBuffers allocates one zeroed buffer shaped like each parameter.
func (b *base) newBuffers() []*mat.Dense {
	buffers := make([]*mat.Dense, len(b.params))
	for i, p := range b.params {
		r, c := p.Value.Dims()
		buffers[i] = mat.NewDense(r, c, nil)
	}
	return buffers
}

// extractBufferStates copies buffers into state tensors named prefix_<index>.
func extractBufferStates(buffers []*mat.Dense, prefix string) []StateTensor {
	out := make([]StateTensor, 0, len(buffers))
	for i, buf := range buffers {
		if buf == nil {
			continue
		}
		r, c := buf.Dims()
		data := make([]float64, 0, r*c)
		for row := 0; row < r; row++ {
			data = append(data, buf.RawRowView(row)...)
		}
		out = append(out, StateTensor{
			Name:      fmt.Sprintf("%s_%d", prefix, i),
			Shape:     []int{r, c},
			Data:      data,
			StateType: prefix,
		})
	}
	return out
}

// restoreBufferStates writes every state tensor of stateType back into buffers.
func restoreBufferStates(buffers []*mat.Dense, state *OptimizerState, stateType string) error {
	for _, st := range state.StateData {
		if st.StateType != stateType {
			continue
		}
		idx := extractBufferIndex(st.Name)
		if idx < 0 || idx >= len(buffers) {
			return fmt.Errorf("invalid buffer index in state tensor %q", st.Name)
		}
		r, c := buffers[idx].Dims()
		if len(st.Data) != r*c {
			return fmt.Errorf("data size mismatch for %s: expected %d elements, got %d", st.Name, r*c, len(st.Data))
		}
		for row := 0; row < r; row++ {
			copy(buffers[idx].RawRowView(row), st.Data[row*c:(row+1)*c])
		}
	}
	return nil
}

// extractBufferIndex extracts the buffer index from state tensor names like "momentum_0", "variance_1", "squared_grad_avg_0"
func extractBufferIndex(name string) int {
	i := strings.LastIndex(name, "_")
	if i < 0 {
		return -1
	}
	idx, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return -1
	}
	return idx
}

// extractFloatParam safely extracts a float parameter from the state map.
// Decoders differ in the numeric types they produce, so every width is accepted.
func extractFloatParam(params map[string]interface{}, key string, defaultValue float64) float64 {
	if v, ok := numeric(params[key]); ok {
		return v
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter from the state map
func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := params[key].(bool); ok {
		return val
	}
	return defaultValue
}

// extractUint64Param safely extracts a step counter from the state map
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	if v, ok := params[key].(uint64); ok {
		return v
	}
	if v, ok := numeric(params[key]); ok && v >= 0 {
		return uint64(v)
	}
	return defaultValue
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
