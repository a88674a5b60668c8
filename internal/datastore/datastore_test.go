package datastore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimflow/claimflow/internal/conf"
	"github.com/claimflow/claimflow/internal/errors"
)

func newTestStore(t *testing.T) Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "claimflow_test.db")

	store := New(settings)
	require.NotNil(t, store)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestInsertOrGetSourceDocumentIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	first, created, err := store.InsertOrGetSourceDocument(&SourceDocument{Text: "The moon is made of rock."})
	require.NoError(t, err)
	assert.True(t, created)
	require.NotEmpty(t, first.ID)

	second, created, err := store.InsertOrGetSourceDocument(&SourceDocument{Text: "The moon is made of rock."})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestUpsertClaimsRepointsSourceDocument(t *testing.T) {
	store := newTestStore(t)

	docA, _, err := store.InsertOrGetSourceDocument(&SourceDocument{Text: "doc a"})
	require.NoError(t, err)
	docB, _, err := store.InsertOrGetSourceDocument(&SourceDocument{Text: "doc b"})
	require.NoError(t, err)

	first, err := store.UpsertClaims([]*Claim{
		{Text: "Water boils at 100 degrees", SourceDocumentID: &docA.ID},
	})
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Same claim text arriving from a newer document keeps the row but moves
	// its provenance.
	second, err := store.UpsertClaims([]*Claim{
		{Text: "Water boils at 100 degrees", SourceDocumentID: &docB.ID},
	})
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.Equal(t, first[0].ID, second[0].ID)
	require.NotNil(t, second[0].SourceDocumentID)
	assert.Equal(t, docB.ID, *second[0].SourceDocumentID)
}

func TestUpsertClaimsPreservesInputOrder(t *testing.T) {
	store := newTestStore(t)

	texts := []string{"claim one is here", "claim two is here", "claim three is here"}
	rows := make([]*Claim, 0, len(texts))
	for _, text := range texts {
		rows = append(rows, &Claim{Text: text})
	}
	persisted, err := store.UpsertClaims(rows)
	require.NoError(t, err)
	require.Len(t, persisted, len(texts))
	for i, row := range persisted {
		assert.Equal(t, texts[i], row.Text)
		assert.NotEmpty(t, row.ID)
	}
}

func TestUpdateClaimNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.UpdateClaim(&Claim{ID: "missing", Text: "whatever text"})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestDeleteClaims(t *testing.T) {
	store := newTestStore(t)

	persisted, err := store.UpsertClaims([]*Claim{
		{Text: "claim to delete"},
		{Text: "claim to keep"},
	})
	require.NoError(t, err)

	deleted, err := store.DeleteClaims([]string{persisted[0].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = store.DeleteClaims(nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestGetClaimsByCreatedAt(t *testing.T) {
	store := newTestStore(t)

	_, err := store.UpsertClaims([]*Claim{{Text: "claim inside the window"}})
	require.NoError(t, err)

	now := time.Now()
	rows, err := store.GetClaimsByCreatedAt(now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = store.GetClaimsByCreatedAt(now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestGetOrCreateModelKeyedByName(t *testing.T) {
	store := newTestStore(t)

	v1, err := store.GetOrCreateModel(&ClaimDetectionModel{Name: "claim-detector", Version: "1"}, false)
	require.NoError(t, err)

	// Keyed by name alone, a second version resolves to the same row.
	v2, err := store.GetOrCreateModel(&ClaimDetectionModel{Name: "claim-detector", Version: "2"}, false)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, v2.ID)
}

func TestGetOrCreateModelKeyedByNameAndVersion(t *testing.T) {
	store := newTestStore(t)

	v1, err := store.GetOrCreateModel(&ClaimDetectionModel{Name: "claim-detector", Version: "1"}, true)
	require.NoError(t, err)
	v2, err := store.GetOrCreateModel(&ClaimDetectionModel{Name: "claim-detector", Version: "2"}, true)
	require.NoError(t, err)
	assert.NotEqual(t, v1.ID, v2.ID)

	again, err := store.GetOrCreateModel(&ClaimDetectionModel{Name: "claim-detector", Version: "2"}, true)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, again.ID)
}

func TestUpsertInferencesUpdatesExistingLabel(t *testing.T) {
	store := newTestStore(t)

	claims, err := store.UpsertClaims([]*Claim{{Text: "the earth is round"}})
	require.NoError(t, err)
	model, err := store.GetOrCreateModel(&ClaimDetectionModel{Name: "m"}, false)
	require.NoError(t, err)

	first, err := store.UpsertInferences([]*ClaimModelInference{
		{ClaimID: claims[0].ID, ClaimDetectionModelID: model.ID, Label: true},
	})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, first[0].Label)

	second, err := store.UpsertInferences([]*ClaimModelInference{
		{ClaimID: claims[0].ID, ClaimDetectionModelID: model.ID, Label: false},
	})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID, "re-inference must update, not duplicate")
	assert.False(t, second[0].Label)
}

func TestLatestInferenceForClaim(t *testing.T) {
	store := newTestStore(t)

	claims, err := store.UpsertClaims([]*Claim{{Text: "the sky is blue"}})
	require.NoError(t, err)

	_, err = store.LatestInferenceForClaim(claims[0].ID)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))

	model, err := store.GetOrCreateModel(&ClaimDetectionModel{Name: "m"}, false)
	require.NoError(t, err)
	_, err = store.UpsertInferences([]*ClaimModelInference{
		{ClaimID: claims[0].ID, ClaimDetectionModelID: model.ID, Label: true},
	})
	require.NoError(t, err)

	latest, err := store.LatestInferenceForClaim(claims[0].ID)
	require.NoError(t, err)
	assert.True(t, latest.Label)
}

func TestAnnotationSessionAndUpdate(t *testing.T) {
	store := newTestStore(t)

	claims, err := store.UpsertClaims([]*Claim{{Text: "annotated claim text"}})
	require.NoError(t, err)
	session, err := store.CreateAnnotationSession()
	require.NoError(t, err)

	label := "checkworthy"
	rows, err := store.InsertClaimAnnotations([]*ClaimAnnotation{
		{ClaimID: claims[0].ID, AnnotationSessionID: session.ID, BinaryLabel: true, TextLabel: &label},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	updated, err := store.UpdateClaimAnnotation(session.ID, claims[0].ID, false, nil)
	require.NoError(t, err)
	assert.False(t, updated.BinaryLabel)
	assert.Nil(t, updated.TextLabel)

	_, err = store.UpdateClaimAnnotation(session.ID, "missing", false, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestTransactionRollsBackOnError(t *testing.T) {
	store := newTestStore(t)

	sentinel := errors.NewStd("boom")
	err := store.Transaction(func(tx Interface) error {
		_, _, err := tx.InsertOrGetSourceDocument(&SourceDocument{Text: "rolled back"})
		require.NoError(t, err)
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, created, err := store.InsertOrGetSourceDocument(&SourceDocument{Text: "rolled back"})
	require.NoError(t, err)
	assert.True(t, created, "the document from the aborted transaction must not exist")
}

func TestMetricInserts(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.InsertClaimMetrics([]*ClaimMetric{
		{ClaimID: "c1", ClaimModelID: "m1", Annotation: true, Prediction: false},
		{ClaimID: "c2", ClaimModelID: "m1", Annotation: false, Prediction: false},
	}))
	require.NoError(t, store.InsertClaimMetrics(nil))

	require.NoError(t, store.InsertEvidenceMetric(&EvidenceMetric{
		EventType:  "complete",
		ModuleName: "evidence_retrieval",
		Payload:    `{"document_count":3}`,
	}))
}
