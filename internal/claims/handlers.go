package claims

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/claimflow/claimflow/internal/errors"
	"github.com/claimflow/claimflow/internal/rpc"
)

// NewDispatcher registers the claim pipeline flows on the request queue's
// dispatcher.
func NewDispatcher(detection *DetectionService, annotation *AnnotationService) *rpc.Dispatcher {
	return &rpc.Dispatcher{
		DetectionInsert: func(ctx context.Context, data json.RawMessage) (any, error) {
			req, err := decode[DetectionInsertRequest](data)
			if err != nil {
				return nil, err
			}
			return detection.Insert(ctx, req)
		},
		DetectionUpdate: func(ctx context.Context, data json.RawMessage) (any, error) {
			req, err := decode[DetectionUpdateRequest](data)
			if err != nil {
				return nil, err
			}
			return detection.Update(ctx, req)
		},
		DetectionGet: func(ctx context.Context, data json.RawMessage) (any, error) {
			req, err := decode[DetectionGetRequest](data)
			if err != nil {
				return nil, err
			}
			return detection.Get(ctx, req)
		},
		AnnotationInsert: func(ctx context.Context, data json.RawMessage) (any, error) {
			req, err := decode[AnnotationInsertRequest](data)
			if err != nil {
				return nil, err
			}
			return annotation.Insert(ctx, req)
		},
		AnnotationUpdate: func(ctx context.Context, data json.RawMessage) (any, error) {
			req, err := decode[AnnotationUpdateRequest](data)
			if err != nil {
				return nil, err
			}
			return annotation.Update(ctx, req)
		},
	}
}

func decode[T any](data json.RawMessage) (*T, error) {
	var req T
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.New(fmt.Errorf("decoding request payload: %w", err)).
			Component("claims").
			Category(errors.CategoryValidation).
			Build()
	}
	return &req, nil
}
