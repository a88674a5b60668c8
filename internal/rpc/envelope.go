// Package rpc implements request/reply messaging over the broker's
// fire-and-forget publish/subscribe, correlated by per-call ids.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/claimflow/claimflow/internal/errors"
)

// RequestType tags a request envelope with the operation it addresses.
// The set is closed: adding a type without a Dispatcher field is a compile
// error at the registration site, and dispatch switches over all values.
type RequestType string

const (
	ClaimDetectionInsert  RequestType = "claim_detection_insert"
	ClaimDetectionUpdate  RequestType = "claim_detection_update"
	ClaimDetectionGet     RequestType = "claim_detection_get"
	ClaimAnnotationInsert RequestType = "claim_annotation_insert"
	ClaimAnnotationUpdate RequestType = "claim_annotation_update"
)

// Request is the envelope carried on the claim pipeline request queue.
type Request struct {
	RequestType RequestType     `json:"request_type"`
	Data        json.RawMessage `json:"data"`
}

// ErrorReply is the explicit failure payload a worker publishes when a
// handler fails. Messages are never requeued; the caller owns retry
// decisions.
type ErrorReply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StatusError is the Status value of an ErrorReply.
const StatusError = "error"

// IsErrorReply decodes body as an ErrorReply if it is one.
func IsErrorReply(body []byte) (*ErrorReply, bool) {
	var reply ErrorReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, false
	}
	if reply.Status != StatusError {
		return nil, false
	}
	return &reply, true
}

// HandlerFunc processes one decoded request payload and returns the result
// to serialize into the reply.
type HandlerFunc func(ctx context.Context, data json.RawMessage) (any, error)

// Dispatcher holds one handler per request type. Every field must be set;
// a nil field is a registration error surfaced by Validate.
type Dispatcher struct {
	DetectionInsert  HandlerFunc
	DetectionUpdate  HandlerFunc
	DetectionGet     HandlerFunc
	AnnotationInsert HandlerFunc
	AnnotationUpdate HandlerFunc
}

// Validate reports the first unset handler field.
func (d *Dispatcher) Validate() error {
	missing := ""
	switch {
	case d.DetectionInsert == nil:
		missing = string(ClaimDetectionInsert)
	case d.DetectionUpdate == nil:
		missing = string(ClaimDetectionUpdate)
	case d.DetectionGet == nil:
		missing = string(ClaimDetectionGet)
	case d.AnnotationInsert == nil:
		missing = string(ClaimAnnotationInsert)
	case d.AnnotationUpdate == nil:
		missing = string(ClaimAnnotationUpdate)
	}
	if missing != "" {
		return errors.Newf("no handler registered for %s", missing).
			Component("rpc").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// Handle decodes the {request_type, data} envelope, dispatches to the
// registered handler and serializes its result. An unknown request type is
// an application error, not a transport error.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) ([]byte, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.New(fmt.Errorf("decoding request envelope: %w", err)).
			Component("rpc").
			Category(errors.CategoryApplication).
			Build()
	}

	var handler HandlerFunc
	switch req.RequestType {
	case ClaimDetectionInsert:
		handler = d.DetectionInsert
	case ClaimDetectionUpdate:
		handler = d.DetectionUpdate
	case ClaimDetectionGet:
		handler = d.DetectionGet
	case ClaimAnnotationInsert:
		handler = d.AnnotationInsert
	case ClaimAnnotationUpdate:
		handler = d.AnnotationUpdate
	default:
		return nil, errors.Newf("invalid request type: %s", req.RequestType).
			Component("rpc").
			Category(errors.CategoryApplication).
			Build()
	}

	result, err := handler(ctx, req.Data)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, errors.New(fmt.Errorf("encoding response: %w", err)).
			Component("rpc").
			Category(errors.CategoryApplication).
			Build()
	}
	return out, nil
}
