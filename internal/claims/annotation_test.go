package claims_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimflow/claimflow/internal/claims"
	"github.com/claimflow/claimflow/internal/datastore"
	"github.com/claimflow/claimflow/internal/errors"
)

// seedClaims inserts claims with inferences and returns them in order.
func seedClaims(t *testing.T, store datastore.Interface, texts ...string) []datastore.Claim {
	t.Helper()

	rows := make([]*datastore.Claim, 0, len(texts))
	for _, text := range texts {
		rows = append(rows, &datastore.Claim{Text: text})
	}
	persisted, err := store.UpsertClaims(rows)
	require.NoError(t, err)

	model, err := store.GetOrCreateModel(&datastore.ClaimDetectionModel{Name: "claim-detector"}, false)
	require.NoError(t, err)

	inferences := make([]*datastore.ClaimModelInference, 0, len(persisted))
	for i := range persisted {
		inferences = append(inferences, &datastore.ClaimModelInference{
			ClaimID:               persisted[i].ID,
			ClaimDetectionModelID: model.ID,
			Label:                 i%2 == 0,
		})
	}
	_, err = store.UpsertInferences(inferences)
	require.NoError(t, err)

	return persisted
}

func TestAnnotationInsertCreatesSessionAndEvent(t *testing.T) {
	store := newTestStore(t)
	events := &recordingPublisher{}
	svc := claims.NewAnnotationService(store, events)

	seeded := seedClaims(t, store, "first annotated claim", "second annotated claim")

	resp, err := svc.Insert(context.Background(), &claims.AnnotationInsertRequest{
		Annotations: []claims.AnnotationInput{
			{ClaimID: seeded[0].ID, BinaryLabel: true},
			{ClaimID: seeded[1].ID, BinaryLabel: false},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AnnotationSessionID)
	require.Len(t, resp.Annotations, 2)
	for _, record := range resp.Annotations {
		assert.Equal(t, resp.AnnotationSessionID, record.AnnotationSessionID)
	}

	published := events.all()
	require.Len(t, published, 1)
	ev := published[0]
	assert.Equal(t, "created", ev.eventType)
	assert.Equal(t, "claim_annotation", ev.moduleName)

	claimIDs := ev.data["claim_ids"].([]string)
	humanLabels := ev.data["claim_annotations"].([]bool)
	modelLabels := ev.data["claim_model_inferences"].([]bool)
	modelIDs := ev.data["claim_model_ids"].([]string)
	require.Len(t, claimIDs, 2)
	require.Len(t, humanLabels, 2)
	require.Len(t, modelLabels, 2)
	require.Len(t, modelIDs, 2)
	assert.Equal(t, []string{seeded[0].ID, seeded[1].ID}, claimIDs)
	assert.Equal(t, []bool{true, false}, humanLabels)
	assert.Equal(t, []bool{true, false}, modelLabels)
}

func TestAnnotationInsertOmitsClaimsWithoutInference(t *testing.T) {
	store := newTestStore(t)
	events := &recordingPublisher{}
	svc := claims.NewAnnotationService(store, events)

	seeded := seedClaims(t, store, "claim with inference")
	bare, err := store.UpsertClaims([]*datastore.Claim{{Text: "claim without inference"}})
	require.NoError(t, err)

	resp, err := svc.Insert(context.Background(), &claims.AnnotationInsertRequest{
		Annotations: []claims.AnnotationInput{
			{ClaimID: seeded[0].ID, BinaryLabel: true},
			{ClaimID: bare[0].ID, BinaryLabel: true},
		},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Annotations, 2, "both annotations are stored")

	published := events.all()
	require.Len(t, published, 1)
	claimIDs := published[0].data["claim_ids"].([]string)
	assert.Equal(t, []string{seeded[0].ID}, claimIDs, "only claims with an inference enter the metrics event")
}

func TestAnnotationUpdateEmitsNoEvent(t *testing.T) {
	store := newTestStore(t)
	events := &recordingPublisher{}
	svc := claims.NewAnnotationService(store, events)

	seeded := seedClaims(t, store, "claim to relabel")
	resp, err := svc.Insert(context.Background(), &claims.AnnotationInsertRequest{
		Annotations: []claims.AnnotationInput{{ClaimID: seeded[0].ID, BinaryLabel: true}},
	})
	require.NoError(t, err)

	events.mu.Lock()
	events.events = nil
	events.mu.Unlock()

	label := "not checkworthy"
	record, err := svc.Update(context.Background(), &claims.AnnotationUpdateRequest{
		AnnotationSessionID: resp.AnnotationSessionID,
		ClaimID:             seeded[0].ID,
		BinaryLabel:         false,
		TextLabel:           &label,
	})
	require.NoError(t, err)
	assert.False(t, record.BinaryLabel)
	require.NotNil(t, record.TextLabel)
	assert.Equal(t, label, *record.TextLabel)

	assert.Empty(t, events.all(), "annotation updates do not re-emit metric events")
}

func TestAnnotationUpdateUnknownPair(t *testing.T) {
	store := newTestStore(t)
	svc := claims.NewAnnotationService(store, &recordingPublisher{})

	_, err := svc.Update(context.Background(), &claims.AnnotationUpdateRequest{
		AnnotationSessionID: "no-such-session",
		ClaimID:             "no-such-claim",
		BinaryLabel:         true,
	})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestAnnotationInsertValidation(t *testing.T) {
	store := newTestStore(t)
	svc := claims.NewAnnotationService(store, &recordingPublisher{})

	_, err := svc.Insert(context.Background(), &claims.AnnotationInsertRequest{})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))

	_, err = svc.Insert(context.Background(), &claims.AnnotationInsertRequest{
		Annotations: []claims.AnnotationInput{{BinaryLabel: true}},
	})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
}
