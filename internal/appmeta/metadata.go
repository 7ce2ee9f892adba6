// Package appmeta loads and validates the metadata an annotation service
// publishes about itself: identity, I/O types, declared parameters, and
// accelerator memory requirements.
package appmeta

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"annotd/internal/params"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// IOType declares an annotation type the service consumes or produces.
type IOType struct {
	Type       string         `json:"@type" yaml:"type" toml:"type" validate:"required"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty" toml:"properties,omitempty"`
	Required   bool           `json:"required" yaml:"required" toml:"required"`
}

// Metadata describes an annotation service. GPU memory figures are in MiB.
type Metadata struct {
	Name             string             `json:"name" yaml:"name" toml:"name" validate:"required"`
	Description      string             `json:"description" yaml:"description" toml:"description" validate:"required"`
	Identifier       string             `json:"identifier" yaml:"identifier" toml:"identifier" validate:"required,url"`
	AppVersion       string             `json:"app_version" yaml:"app_version" toml:"app_version" validate:"required"`
	License          string             `json:"app_license" yaml:"app_license" toml:"app_license" validate:"required"`
	URL              string             `json:"url" yaml:"url" toml:"url" validate:"required,url"`
	AnalyzerVersion  string             `json:"analyzer_version,omitempty" yaml:"analyzer_version,omitempty" toml:"analyzer_version,omitempty"`
	AnalyzerVersions map[string]string  `json:"analyzer_versions,omitempty" yaml:"analyzer_versions,omitempty" toml:"analyzer_versions,omitempty"`
	AnalyzerLicense  string             `json:"analyzer_license,omitempty" yaml:"analyzer_license,omitempty" toml:"analyzer_license,omitempty"`
	Input            []IOType           `json:"input" yaml:"input" toml:"input" validate:"dive"`
	Output           []IOType           `json:"output" yaml:"output" toml:"output" validate:"min=1,dive"`
	Parameters       []params.Parameter `json:"parameters" yaml:"parameters" toml:"parameters"`
	GPUMemMin        uint64             `json:"est_gpu_mem_min" yaml:"est_gpu_mem_min" toml:"est_gpu_mem_min"`
	GPUMemTyp        uint64             `json:"est_gpu_mem_typ" yaml:"est_gpu_mem_typ" toml:"est_gpu_mem_typ"`
	More             map[string]string  `json:"more,omitempty" yaml:"more,omitempty" toml:"more,omitempty"`
}

// GPUMemMinBytes converts the declared minimum to bytes.
func (m *Metadata) GPUMemMinBytes() uint64 { return m.GPUMemMin << 20 }

// Normalize fixes inconsistencies that are not worth rejecting and returns a
// warning for each correction. A typical usage below the minimum is raised to
// the minimum.
func (m *Metadata) Normalize() []string {
	var warns []string
	if m.GPUMemTyp < m.GPUMemMin {
		warns = append(warns, fmt.Sprintf(
			"typical GPU memory usage (%d MiB) is below the minimum (%d MiB); using the minimum",
			m.GPUMemTyp, m.GPUMemMin))
		m.GPUMemTyp = m.GPUMemMin
	}
	if m.Input == nil {
		m.Input = []IOType{}
	}
	if m.Parameters == nil {
		m.Parameters = []params.Parameter{}
	}
	return warns
}

// Validate checks required fields and the parameter declarations.
func (m *Metadata) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	if _, err := m.ParamSet(); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	return nil
}

// ParamSet builds the parameter set declared by m.
func (m *Metadata) ParamSet() (*params.Set, error) {
	return params.NewSet(m.Parameters...)
}

// Clone returns a deep enough copy for callers that append parameters.
func (m *Metadata) Clone() *Metadata {
	c := *m
	c.Parameters = append([]params.Parameter(nil), m.Parameters...)
	c.Input = append([]IOType(nil), m.Input...)
	c.Output = append([]IOType(nil), m.Output...)
	return &c
}

// Load reads metadata from a .yaml/.yml, .json or .toml file, normalizes it,
// and validates it. Normalization warnings go to log.
func Load(path string, log zerolog.Logger) (*Metadata, error) {
	if path == "" {
		return nil, fmt.Errorf("empty metadata path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Metadata
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &m)
	case ".json":
		err = json.Unmarshal(b, &m)
	case ".toml":
		err = toml.Unmarshal(b, &m)
	default:
		return nil, fmt.Errorf("unsupported metadata extension: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for _, w := range m.Normalize() {
		log.Warn().Str("app", m.Identifier).Msg(w)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
