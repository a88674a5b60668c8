// Package prediction implements the claim classification worker reached over
// the model RPC queue, plus the client side used by the orchestrator.
package prediction

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/claimflow/claimflow/internal/errors"
)

// TimestampLayout is the format used for inference timestamps on the wire.
const TimestampLayout = "2006-01-02 15:04:05"

// ModelMetadata describes the model serving predictions. It is loaded from a
// YAML descriptor alongside the model artifact and echoed verbatim in every
// reply so inference rows carry provenance.
type ModelMetadata struct {
	ModelName    string `yaml:"model_name" json:"model_name"`
	ModelVersion string `yaml:"model_version" json:"model_version"`
	ModelPath    string `yaml:"model_path" json:"model_path"`
	CreatedAt    string `yaml:"created_at" json:"created_at"`
}

// LoadMetadata reads a model descriptor file.
func LoadMetadata(path string) (*ModelMetadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("reading model metadata: %w", err)).
			Component("prediction").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}

	var meta ModelMetadata
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return nil, errors.New(fmt.Errorf("parsing model metadata: %w", err)).
			Component("prediction").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}
	if meta.ModelName == "" {
		return nil, errors.Newf("model metadata %s missing model_name", path).
			Component("prediction").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if meta.CreatedAt == "" {
		meta.CreatedAt = time.Now().UTC().Format(TimestampLayout)
	}
	return &meta, nil
}
