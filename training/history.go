package training

import "math"

// LossHistory is an append-only record of per-epoch average training losses.
// Entry i belongs to the (i+1)-th epoch completed by the owning engine,
// counted across every Train call.
type LossHistory struct {
	losses []float64
}

func (h *LossHistory) append(loss float64) {
	h.losses = append(h.losses, loss)
}

// Len returns the number of recorded epochs.
func (h *LossHistory) Len() int {
	return len(h.losses)
}

// Values returns a copy of the recorded losses.
func (h *LossHistory) Values() []float64 {
	out := make([]float64, len(h.losses))
	copy(out, h.losses)
	return out
}

// Last returns the most recent loss and false when nothing has been recorded.
func (h *LossHistory) Last() (float64, bool) {
	if len(h.losses) == 0 {
		return 0, false
	}
	return h.losses[len(h.losses)-1], true
}

// Best returns the lowest recorded loss and its 1-based position. NaN
// entries, which NonFiniteIgnore lets through, never count as best; ok is
// false when there is no other entry.
func (h *LossHistory) Best() (best float64, at int, ok bool) {
	for i, l := range h.losses {
		if math.IsNaN(l) {
			continue
		}
		if !ok || l < best {
			best, at, ok = l, i+1, true
		}
	}
	return best, at, ok
}
