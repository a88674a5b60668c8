package prediction_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimflow/claimflow/internal/broker"
	"github.com/claimflow/claimflow/internal/broker/brokertest"
	"github.com/claimflow/claimflow/internal/prediction"
	"github.com/claimflow/claimflow/internal/rpc"
)

func testMetadata() prediction.ModelMetadata {
	return prediction.ModelMetadata{
		ModelName:    "keyword-claim-detector",
		ModelVersion: "1",
		ModelPath:    "models/keyword",
		CreatedAt:    "2026-01-01 00:00:00",
	}
}

func TestKeywordClassifier(t *testing.T) {
	c := prediction.NewKeywordClassifier([]string{"is", "according to"})

	assert.True(t, c.Classify("The earth IS round"))
	assert.True(t, c.Classify("according to the report, sales fell"))
	assert.False(t, c.Classify("hello there"))
	assert.False(t, c.Classify("isolated words do not match substrings"))
}

func TestServicePreservesInputOrder(t *testing.T) {
	svc := prediction.NewService(prediction.NewKeywordClassifier([]string{"is"}), testMetadata())

	body, err := json.Marshal(prediction.Request{Claim: []string{
		"water is wet",
		"no keyword here",
		"the sky is blue",
	}})
	require.NoError(t, err)

	out, err := svc.Handle(context.Background(), body)
	require.NoError(t, err)

	var reply prediction.Reply
	require.NoError(t, json.Unmarshal(out, &reply))
	require.Len(t, reply.InferenceResults, 3)
	assert.Equal(t, 1, reply.InferenceResults[0].Label)
	assert.Equal(t, 0, reply.InferenceResults[1].Label)
	assert.Equal(t, 1, reply.InferenceResults[2].Label)
	assert.Equal(t, "keyword-claim-detector", reply.ModelMetadata.ModelName)
}

func TestServiceRejectsEmptyBatch(t *testing.T) {
	svc := prediction.NewService(prediction.NewKeywordClassifier(nil), testMetadata())

	_, err := svc.Handle(context.Background(), []byte(`{"claim":[]}`))
	require.Error(t, err)

	_, err = svc.Handle(context.Background(), []byte(`not json`))
	require.Error(t, err)
}

func TestClientRoundTrip(t *testing.T) {
	b := brokertest.New()
	pool, err := broker.NewPool(broker.Config{MaxConnections: 1, MaxChannels: 4}, b.Dial)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	svc := prediction.NewService(prediction.NewKeywordClassifier([]string{"is"}), testMetadata())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rpc.NewWorker(pool, "rpc_claim_prediction_queue", svc).Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(10 * time.Millisecond)

	client := prediction.NewClient(rpc.NewClient(pool, rpc.WithTimeout(2*time.Second)), "rpc_claim_prediction_queue")
	reply, err := client.Predict(context.Background(), []string{"grass is green", "word salad"})
	require.NoError(t, err)
	require.Len(t, reply.InferenceResults, 2)
	assert.Equal(t, 1, reply.InferenceResults[0].Label)
	assert.Equal(t, 0, reply.InferenceResults[1].Label)
}

func TestClientSurfacesErrorReply(t *testing.T) {
	b := brokertest.New()
	pool, err := broker.NewPool(broker.Config{MaxConnections: 1, MaxChannels: 4}, b.Dial)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	svc := prediction.NewService(prediction.NewKeywordClassifier(nil), testMetadata())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rpc.NewWorker(pool, "rpc_claim_prediction_queue", svc).Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(10 * time.Millisecond)

	client := prediction.NewClient(rpc.NewClient(pool, rpc.WithTimeout(2*time.Second)), "rpc_claim_prediction_queue")
	_, err = client.Predict(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no claims")
}

func TestLoadMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"model_name: claim-detector\nmodel_version: \"3\"\nmodel_path: models/claim-detector\ncreated_at: 2026-01-01 00:00:00\n",
	), 0o644))

	meta, err := prediction.LoadMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, "claim-detector", meta.ModelName)
	assert.Equal(t, "3", meta.ModelVersion)
	assert.Equal(t, "models/claim-detector", meta.ModelPath)
	assert.Equal(t, "2026-01-01 00:00:00", meta.CreatedAt)
}

func TestLoadMetadataErrors(t *testing.T) {
	_, err := prediction.LoadMetadata(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "nameless.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model_version: \"1\"\n"), 0o644))
	_, err = prediction.LoadMetadata(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model_name")
}
