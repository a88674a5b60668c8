package prediction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/claimflow/claimflow/internal/errors"
	"github.com/claimflow/claimflow/internal/rpc"
)

// Client calls the model RPC queue and decodes its reply.
type Client struct {
	rpc   *rpc.Client
	queue string
}

// NewClient binds an RPC client to the prediction queue name.
func NewClient(rpcClient *rpc.Client, queue string) *Client {
	return &Client{rpc: rpcClient, queue: queue}
}

// Predict classifies a batch of sentences. The reply carries one result per
// input, in input order; a length mismatch is rejected here rather than
// silently misattributing labels.
func (c *Client) Predict(ctx context.Context, texts []string) (*Reply, error) {
	payload, err := json.Marshal(Request{Claim: texts})
	if err != nil {
		return nil, errors.New(fmt.Errorf("encoding prediction request: %w", err)).
			Component("prediction-client").
			Category(errors.CategoryApplication).
			Build()
	}

	body, err := c.rpc.Call(ctx, c.queue, payload)
	if err != nil {
		return nil, err
	}

	if errReply, ok := rpc.IsErrorReply(body); ok {
		return nil, errors.Newf("model prediction failed: %s", errReply.Message).
			Component("prediction-client").
			Category(errors.CategoryApplication).
			Build()
	}

	var reply Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, errors.New(fmt.Errorf("decoding prediction reply: %w", err)).
			Component("prediction-client").
			Category(errors.CategoryApplication).
			Build()
	}
	if len(reply.InferenceResults) != len(texts) {
		return nil, errors.Newf("prediction reply has %d results for %d inputs",
			len(reply.InferenceResults), len(texts)).
			Component("prediction-client").
			Category(errors.CategoryApplication).
			Build()
	}
	return &reply, nil
}
