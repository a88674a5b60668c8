package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/claimflow/claimflow/internal/errors"
	"github.com/claimflow/claimflow/internal/logging"
)

// Request is the model RPC request body.
type Request struct {
	Claim []string `json:"claim"`
}

// InferenceResult is one per-input label. Label is 0 or 1 on the wire.
type InferenceResult struct {
	Label     int    `json:"label"`
	CreatedAt string `json:"created_at"`
}

// Reply is the model RPC reply body. InferenceResults length and order match
// the request array.
type Reply struct {
	ModelMetadata    ModelMetadata     `json:"model_metadata"`
	InferenceResults []InferenceResult `json:"inference_results"`
}

// Service serves the model RPC queue. It satisfies the worker's message
// handler contract.
type Service struct {
	classifier Classifier
	metadata   ModelMetadata
	logger     *slog.Logger
}

// NewService wraps a classifier and its metadata into an RPC handler.
func NewService(classifier Classifier, metadata ModelMetadata) *Service {
	return &Service{
		classifier: classifier,
		metadata:   metadata,
		logger:     logging.ForService("prediction"),
	}
}

// Handle classifies each input sentence and replies with one label per
// input, in input order.
func (s *Service) Handle(ctx context.Context, body []byte) ([]byte, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.New(fmt.Errorf("decoding prediction request: %w", err)).
			Component("prediction").
			Category(errors.CategoryApplication).
			Build()
	}
	if len(req.Claim) == 0 {
		return nil, errors.Newf("prediction request contains no claims").
			Component("prediction").
			Category(errors.CategoryValidation).
			Build()
	}

	now := time.Now().UTC().Format(TimestampLayout)
	results := make([]InferenceResult, 0, len(req.Claim))
	for _, text := range req.Claim {
		label := 0
		if s.classifier.Classify(text) {
			label = 1
		}
		results = append(results, InferenceResult{Label: label, CreatedAt: now})
	}

	s.logger.Debug("classified batch", "count", len(results), "model", s.metadata.ModelName)

	out, err := json.Marshal(Reply{
		ModelMetadata:    s.metadata,
		InferenceResults: results,
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("encoding prediction reply: %w", err)).
			Component("prediction").
			Category(errors.CategoryApplication).
			Build()
	}
	return out, nil
}
