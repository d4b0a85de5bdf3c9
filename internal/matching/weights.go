package matching

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

const weightSumTolerance = 0.001

// WeightConfig is a versioned factor->weight mapping plus the tenant's
// publication settings. Values are passed explicitly into every scoring call.
type WeightConfig struct {
	TenantID       string             `json:"tenantId"`
	Version        int64              `json:"version"`
	Weights        map[string]float64 `json:"weights"`
	BrokerApproval bool               `json:"brokerApprovalEnabled"`
	MinScore       float64            `json:"minScore"`
	HotThreshold   float64            `json:"hotThreshold"`
	MaxDistanceKm  float64            `json:"maxDistanceKm"`
	UpdatedAt      time.Time          `json:"updatedAt"`
	UpdatedBy      string             `json:"updatedBy,omitempty"`
}

// DefaultWeightConfig returns the built-in distribution used when a tenant
// has never stored its own.
func DefaultWeightConfig() WeightConfig {
	return WeightConfig{
		Version: 1,
		Weights: map[string]float64{
			FactorSkills:      0.20,
			FactorLocation:    0.20,
			FactorRecency:     0.10,
			FactorHistory:     0.05,
			FactorReviews:     0.10,
			FactorNexus:       0.05,
			FactorCategory:    0.15,
			FactorReciprocity: 0.15,
		},
		MinScore:      40,
		HotThreshold:  80,
		MaxDistanceKm: 50,
	}
}

// Validate rejects empty, negative, unknown or non-normalized weights.
func (c WeightConfig) Validate() error {
	if len(c.Weights) == 0 {
		return fmt.Errorf("%w: no weights", ErrInvalidWeightConfig)
	}
	sum := 0.0
	for _, name := range sortedNames(c.Weights) {
		w := c.Weights[name]
		if !isKnownFactor(name) {
			return fmt.Errorf("%w: unknown factor %q", ErrInvalidWeightConfig, name)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: invalid weight %v for %q", ErrInvalidWeightConfig, w, name)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("%w: weights sum to %.4f, must sum to 1.0", ErrInvalidWeightConfig, sum)
	}
	if c.MinScore < 0 || c.MinScore > 100 {
		return fmt.Errorf("%w: minScore %v outside [0,100]", ErrInvalidWeightConfig, c.MinScore)
	}
	if c.HotThreshold < 0 || c.HotThreshold > 100 {
		return fmt.Errorf("%w: hotThreshold %v outside [0,100]", ErrInvalidWeightConfig, c.HotThreshold)
	}
	if c.MaxDistanceKm < 0 {
		return fmt.Errorf("%w: maxDistanceKm must not be negative", ErrInvalidWeightConfig)
	}
	return nil
}

func (c WeightConfig) Clone() WeightConfig {
	out := c
	out.Weights = make(map[string]float64, len(c.Weights))
	for k, v := range c.Weights {
		out.Weights[k] = v
	}
	return out
}

// ConfigProvider is the versioned source of per-tenant weight configuration.
type ConfigProvider interface {
	Current(ctx context.Context, tenantID string) (WeightConfig, error)
	// Replace validates next and activates it under a new version. When
	// next.Version is non-zero it must equal the active version.
	Replace(ctx context.Context, tenantID string, next WeightConfig) (WeightConfig, error)
}

// PrepareReplacement validates next against the active config and stamps
// the successor version. Stores share it so the rules stay identical.
func PrepareReplacement(active, next WeightConfig, tenantID string, now time.Time) (WeightConfig, error) {
	if next.Version != 0 && next.Version != active.Version {
		return WeightConfig{}, fmt.Errorf("%w: expected version %d, active is %d",
			ErrConfigVersionMismatch, next.Version, active.Version)
	}
	if err := next.Validate(); err != nil {
		return WeightConfig{}, err
	}
	out := next.Clone()
	out.TenantID = tenantID
	out.Version = active.Version + 1
	out.UpdatedAt = now
	return out, nil
}

// MemoryConfigStore keeps configs in process memory.
type MemoryConfigStore struct {
	mu       sync.RWMutex
	defaults WeightConfig
	configs  map[string]WeightConfig
	now      Clock
}

func NewMemoryConfigStore(defaults WeightConfig) *MemoryConfigStore {
	if defaults.Version == 0 {
		defaults.Version = 1
	}
	return &MemoryConfigStore{
		defaults: defaults.Clone(),
		configs:  make(map[string]WeightConfig),
		now:      systemClock,
	}
}

func (s *MemoryConfigStore) Current(_ context.Context, tenantID string) (WeightConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cfg, ok := s.configs[tenantID]; ok {
		return cfg.Clone(), nil
	}
	cfg := s.defaults.Clone()
	cfg.TenantID = tenantID
	return cfg, nil
}

func (s *MemoryConfigStore) Replace(_ context.Context, tenantID string, next WeightConfig) (WeightConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active, ok := s.configs[tenantID]
	if !ok {
		active = s.defaults.Clone()
	}
	out, err := PrepareReplacement(active, next, tenantID, s.now())
	if err != nil {
		return WeightConfig{}, err
	}
	s.configs[tenantID] = out
	return out.Clone(), nil
}
