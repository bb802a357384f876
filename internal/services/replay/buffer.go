package replay

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"PolyPaper/internal/domain/models"
)

const (
	defaultAlpha    = 0.6
	defaultBeta     = 0.4
	defaultEpsilon  = 1e-3
	defaultPriority = 1.0
)

// Config tunes the buffer. Zero values fall back to defaults.
type Config struct {
	Capacity    int
	Prioritized bool
	Alpha       float64 // priority exponent
	Beta        float64 // importance-sampling exponent
	Epsilon     float64 // positive priority floor
	Seed        int64   // 0 draws a random seed
}

// Buffer is a fixed-capacity circular store of experiences. Writing past
// capacity overwrites the oldest slot. When prioritized, sampling probability
// follows priority^alpha and sampled items carry importance weights
// normalized so the batch maximum is exactly 1.
type Buffer struct {
	mu          sync.Mutex
	capacity    int
	data        []models.Experience
	priorities  []float64
	pos         int
	size        int
	prioritized bool
	alpha       float64
	beta        float64
	epsilon     float64
	maxPriority float64
	rng         *rand.Rand
}

func NewBuffer(cfg Config) (*Buffer, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("replay: capacity %d must be positive", cfg.Capacity)
	}
	alpha := cfg.Alpha
	if alpha <= 0 {
		alpha = defaultAlpha
	}
	beta := cfg.Beta
	if beta <= 0 || beta > 1 {
		beta = defaultBeta
	}
	epsilon := cfg.Epsilon
	if epsilon <= 0 {
		epsilon = defaultEpsilon
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	return &Buffer{
		capacity:    cfg.Capacity,
		data:        make([]models.Experience, cfg.Capacity),
		priorities:  make([]float64, cfg.Capacity),
		prioritized: cfg.Prioritized,
		alpha:       alpha,
		beta:        beta,
		epsilon:     epsilon,
		maxPriority: defaultPriority,
		rng:         rand.New(rand.NewSource(seed)),
	}, nil
}

// Add stores an experience, overwriting the oldest slot once full. New
// entries take the running maximum priority so they are sampled at least
// once before decaying.
func (b *Buffer) Add(exp models.Experience) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[b.pos] = exp
	b.priorities[b.pos] = b.maxPriority
	b.pos = (b.pos + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Size reports held experiences; it saturates at capacity.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Buffer) Capacity() int { return b.capacity }

// CanSample reports whether a batch of n can be drawn.
func (b *Buffer) CanSample(n int) bool {
	if n <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size >= n
}

// GetAll returns currently held experiences in insertion order, oldest first.
func (b *Buffer) GetAll() []models.Experience {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Experience, 0, b.size)
	if b.size < b.capacity {
		out = append(out, b.data[:b.size]...)
		return out
	}
	out = append(out, b.data[b.pos:]...)
	out = append(out, b.data[:b.pos]...)
	return out
}

// Sample draws a batch. Returned indices address storage slots for a later
// UpdatePriorities call. Importance weights are all exactly 1 in uniform
// mode; in prioritized mode they lie in (0,1] with the batch maximum at 1.
func (b *Buffer) Sample(n int) ([]models.Experience, []int, []float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || b.size < n {
		return nil, nil, nil, fmt.Errorf("replay: cannot sample %d of %d", n, b.size)
	}

	batch := make([]models.Experience, n)
	indices := make([]int, n)
	weights := make([]float64, n)

	if !b.prioritized {
		for i := 0; i < n; i++ {
			idx := b.rng.Intn(b.size)
			batch[i] = b.data[idx]
			indices[i] = idx
			weights[i] = 1
		}
		return batch, indices, weights, nil
	}

	scaled := make([]float64, b.size)
	var total float64
	for i := 0; i < b.size; i++ {
		scaled[i] = math.Pow(b.priorities[i], b.alpha)
		total += scaled[i]
	}
	if total <= 0 {
		return nil, nil, nil, fmt.Errorf("replay: degenerate priorities")
	}

	maxW := 0.0
	for i := 0; i < n; i++ {
		idx := b.pickLocked(scaled, total)
		prob := scaled[idx] / total
		w := math.Pow(float64(b.size)*prob, -b.beta)
		batch[i] = b.data[idx]
		indices[i] = idx
		weights[i] = w
		if w > maxW {
			maxW = w
		}
	}
	for i := range weights {
		weights[i] /= maxW
	}
	return batch, indices, weights, nil
}

// pickLocked draws one index proportional to the scaled priorities.
func (b *Buffer) pickLocked(scaled []float64, total float64) int {
	target := b.rng.Float64() * total
	var cum float64
	for i, s := range scaled {
		cum += s
		if target < cum {
			return i
		}
	}
	return len(scaled) - 1
}

// UpdatePriorities rewrites priorities for exactly the sampled slots using
// the corresponding absolute TD error plus the positive floor.
func (b *Buffer) UpdatePriorities(indices []int, tdErrors []float64) error {
	if len(indices) != len(tdErrors) {
		return fmt.Errorf("replay: %d indices but %d td errors", len(indices), len(tdErrors))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, idx := range indices {
		if idx < 0 || idx >= b.size {
			return fmt.Errorf("replay: index %d out of range [0,%d)", idx, b.size)
		}
		p := math.Abs(tdErrors[i]) + b.epsilon
		b.priorities[idx] = p
		if p > b.maxPriority {
			b.maxPriority = p
		}
	}
	return nil
}

// Clear empties the buffer and resets priority bookkeeping in one step.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = make([]models.Experience, b.capacity)
	b.priorities = make([]float64, b.capacity)
	b.pos = 0
	b.size = 0
	b.maxPriority = defaultPriority
}
