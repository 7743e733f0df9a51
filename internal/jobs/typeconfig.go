package jobs

import (
	"fmt"
	"sync"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/common"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

// ConfigBuilder produces the default processing configuration for a job type
type ConfigBuilder func(defaults common.PipelineConfig) models.JobConfig

// TypeRegistry maps job-type tags to configuration builders.
// Replaces branch-per-type construction so each type's defaults are
// enumerable and testable in isolation.
type TypeRegistry struct {
	mu       sync.RWMutex
	builders map[models.JobType]ConfigBuilder
}

// NewTypeRegistry creates a registry pre-populated with every built-in type
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{builders: make(map[models.JobType]ConfigBuilder)}

	r.Register(models.JobTypeIdentityMatching, func(d common.PipelineConfig) models.JobConfig {
		cfg := baseConfig(d)
		cfg.EnableQuality = true
		cfg.EnableValidation = true
		cfg.EnableSecurity = true
		cfg.EnableTransformation = true
		cfg.EnableMatching = true
		cfg.Algorithms = []string{"deterministic", "probabilistic", "fuzzy"}
		return cfg
	})

	r.Register(models.JobTypeDataValidation, func(d common.PipelineConfig) models.JobConfig {
		cfg := baseConfig(d)
		cfg.EnableValidation = true
		cfg.EnableQuality = true
		return cfg
	})

	r.Register(models.JobTypeDataQuality, func(d common.PipelineConfig) models.JobConfig {
		cfg := baseConfig(d)
		cfg.EnableQuality = true
		cfg.EnableTransformation = true
		return cfg
	})

	r.Register(models.JobTypeDeduplication, func(d common.PipelineConfig) models.JobConfig {
		cfg := baseConfig(d)
		cfg.EnableQuality = true
		cfg.EnableTransformation = true
		cfg.EnableMatching = true
		cfg.Algorithms = []string{"deterministic", "fuzzy"}
		return cfg
	})

	r.Register(models.JobTypeHouseholdDetection, func(d common.PipelineConfig) models.JobConfig {
		cfg := baseConfig(d)
		cfg.EnableTransformation = true
		cfg.EnableMatching = true
		cfg.EnableHousehold = true
		cfg.Algorithms = []string{"probabilistic"}
		return cfg
	})

	r.Register(models.JobTypeBulkExport, func(d common.PipelineConfig) models.JobConfig {
		cfg := baseConfig(d)
		cfg.OutputFormat = "csv"
		return cfg
	})

	return r
}

func baseConfig(d common.PipelineConfig) models.JobConfig {
	batch := d.BatchSize
	if batch <= 0 {
		batch = 50
	}
	quality := d.QualityThreshold
	if quality <= 0 {
		quality = 0.8
	}
	partial := d.PartialMatchThreshold
	if partial <= 0 {
		partial = 0.5
	}
	return models.JobConfig{
		BatchSize:             batch,
		OutputFormat:          "json",
		QualityThreshold:      quality,
		PartialMatchThreshold: partial,
	}
}

// Register adds or replaces a builder for a job type
func (r *TypeRegistry) Register(jobType models.JobType, builder ConfigBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[jobType] = builder
}

// Build returns the default configuration for a job type
func (r *TypeRegistry) Build(jobType models.JobType, defaults common.PipelineConfig) (models.JobConfig, error) {
	r.mu.RLock()
	builder, ok := r.builders[jobType]
	r.mu.RUnlock()

	if !ok {
		return models.JobConfig{}, fmt.Errorf("unknown job type: %s", jobType)
	}
	return builder(defaults), nil
}

// Types returns the registered job types
func (r *TypeRegistry) Types() []models.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.JobType, 0, len(r.builders))
	for t := range r.builders {
		types = append(types, t)
	}
	return types
}
