// Package mock provides a deterministic in-memory embeddings provider for tests.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/dispatchd/dispatch/internal/embeddings"
)

// Ensure Provider implements the embeddings.Provider interface at compile time.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a fake embeddings backend.
//
// Unless Fixed vectors are registered for a text, Embed derives a unit
// vector from an FNV hash of the input, so equal texts always embed
// identically and distinct texts almost never collide. Every call is
// counted, which lets tests assert that cached or layered code paths made
// zero backend calls.
type Provider struct {
	Model string
	Dims  int

	// Err, when set, is returned by every Embed call.
	Err error

	mu    sync.Mutex
	fixed map[string][]float32
	calls int
}

// New returns a mock provider producing vectors of the given dimension.
func New(dims int) *Provider {
	return &Provider{Model: "mock-embed", Dims: dims, fixed: map[string][]float32{}}
}

func (p *Provider) ModelID() string { return "mock:" + p.Model }

func (p *Provider) Dim() int { return p.Dims }

// SetFixed registers an exact vector to return for text. The vector is
// returned as-is, without normalization.
func (p *Provider) SetFixed(text string, vec []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fixed[text] = vec
}

// Calls reports how many Embed calls were made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Err != nil {
		return nil, p.Err
	}
	if v, ok := p.fixed[text]; ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out, nil
	}
	return hashVector(text, p.Dims), nil
}

// hashVector produces a unit-norm pseudo-random vector seeded by text.
func hashVector(text string, dims int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	out := make([]float32, dims)
	var sum float64
	for i := range out {
		// xorshift64 keeps the sequence deterministic per seed.
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		v := float64(int64(seed%2000)-1000) / 1000.0
		out[i] = float32(v)
		sum += v * v
	}
	n := math.Sqrt(sum)
	if n == 0 {
		out[0] = 1
		return out
	}
	inv := float32(1 / n)
	for i := range out {
		out[i] *= inv
	}
	return out
}
