package claims

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/claimflow/claimflow/internal/conf"
	"github.com/claimflow/claimflow/internal/datastore"
	"github.com/claimflow/claimflow/internal/errors"
	"github.com/claimflow/claimflow/internal/logging"
	"github.com/claimflow/claimflow/internal/monitoring"
	"github.com/claimflow/claimflow/internal/prediction"
)

// Predictor is the slice of the model client the orchestrator needs.
type Predictor interface {
	Predict(ctx context.Context, texts []string) (*prediction.Reply, error)
}

// DetectionService runs the claim detection flows. The remote model call
// happens before the persistence transaction opens, so no database lock is
// held across a network round trip and a classification failure leaves
// nothing half-written.
type DetectionService struct {
	store      datastore.Interface
	predictor  Predictor
	events     monitoring.EventPublisher
	settings   conf.ClaimsSettings
	modelCache *gocache.Cache
	logger     *slog.Logger
}

// NewDetectionService wires the orchestrator's collaborators together.
func NewDetectionService(store datastore.Interface, predictor Predictor, events monitoring.EventPublisher, settings conf.ClaimsSettings) *DetectionService {
	if settings.MinSentenceLength <= 0 {
		settings.MinSentenceLength = DefaultMinSentenceLength
	}
	return &DetectionService{
		store:      store,
		predictor:  predictor,
		events:     events,
		settings:   settings,
		modelCache: gocache.New(12*time.Hour, time.Hour),
		logger:     logging.ForService("claim-detection"),
	}
}

// Insert runs the full detection flow for one document: sentencize and
// de-duplicate, classify the batch remotely, then persist document, claims,
// model registration and inferences in a single transaction.
func (s *DetectionService) Insert(ctx context.Context, req *DetectionInsertRequest) (*DetectionInsertResponse, error) {
	if req.Text == "" {
		return nil, errors.Newf("document text is empty").
			Component("claim-detection").
			Category(errors.CategoryValidation).
			Build()
	}

	candidates := CandidateClaims(req.Text, s.settings.MinSentenceLength)
	if len(candidates) == 0 {
		return nil, errors.Newf("document contains no claim candidates").
			Component("claim-detection").
			Category(errors.CategoryValidation).
			Build()
	}

	reply, err := s.predictor.Predict(ctx, candidates)
	if err != nil {
		return nil, err
	}

	var (
		docID   string
		results []ClaimResult
	)
	model, cachedModel := s.cachedModel(reply.ModelMetadata)

	err = s.store.Transaction(func(tx datastore.Interface) error {
		doc, created, err := tx.InsertOrGetSourceDocument(&datastore.SourceDocument{Text: req.Text})
		if err != nil {
			return err
		}
		docID = doc.ID

		rows := make([]*datastore.Claim, 0, len(candidates))
		for _, text := range candidates {
			rows = append(rows, &datastore.Claim{
				Text:             text,
				NormHash:         datastore.HashText(Normalize(text)),
				SourceDocumentID: &doc.ID,
			})
		}
		persisted, err := tx.UpsertClaims(rows)
		if err != nil {
			return err
		}

		if !cachedModel {
			model, err = s.registerModel(tx, reply.ModelMetadata)
			if err != nil {
				return err
			}
		}

		results, err = s.persistInferences(tx, persisted, reply, model)
		if err != nil {
			return err
		}

		s.logger.Debug("persisted detection batch",
			"source_document_id", doc.ID,
			"new_document", created,
			"claims", len(persisted),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cacheModel(reply.ModelMetadata, model)
	s.events.Publish(ctx, monitoring.EventCreated, monitoring.ModuleClaimDetection, map[string]any{
		"source_document_id": docID,
		"claim_count":        len(results),
	})

	return &DetectionInsertResponse{SourceDocumentID: docID, Claims: results}, nil
}

// Update partitions the patches into deletions (blank text) and updates,
// re-classifies only the updated subset, and applies all changes in one
// transaction. Deleted and updated monitoring events are emitted with their
// counts regardless of the other subset being empty.
func (s *DetectionService) Update(ctx context.Context, req *DetectionUpdateRequest) (*DetectionUpdateResponse, error) {
	if len(req.Claims) == 0 {
		return nil, errors.Newf("update request contains no claims").
			Component("claim-detection").
			Category(errors.CategoryValidation).
			Build()
	}

	var toDelete []string
	var toUpdate []ClaimPatch
	for _, patch := range req.Claims {
		if patch.ClaimID == "" {
			return nil, errors.Newf("update request contains a claim without an id").
				Component("claim-detection").
				Category(errors.CategoryValidation).
				Build()
		}
		if significantLength(patch.Text) == 0 {
			toDelete = append(toDelete, patch.ClaimID)
		} else {
			toUpdate = append(toUpdate, patch)
		}
	}

	var reply *prediction.Reply
	var model *datastore.ClaimDetectionModel
	cachedModel := false
	if len(toUpdate) > 0 {
		texts := make([]string, 0, len(toUpdate))
		for _, patch := range toUpdate {
			texts = append(texts, patch.Text)
		}
		var err error
		reply, err = s.predictor.Predict(ctx, texts)
		if err != nil {
			return nil, err
		}
		model, cachedModel = s.cachedModel(reply.ModelMetadata)
	}

	var deleted int64
	var results []ClaimResult

	err := s.store.Transaction(func(tx datastore.Interface) error {
		var err error
		deleted, err = tx.DeleteClaims(toDelete)
		if err != nil {
			return err
		}
		if len(toUpdate) == 0 {
			return nil
		}

		updated := make([]datastore.Claim, 0, len(toUpdate))
		for _, patch := range toUpdate {
			row, err := tx.UpdateClaim(&datastore.Claim{
				ID:       patch.ClaimID,
				Text:     patch.Text,
				NormHash: datastore.HashText(Normalize(patch.Text)),
			})
			if err != nil {
				return err
			}
			updated = append(updated, *row)
		}

		if !cachedModel {
			model, err = s.registerModel(tx, reply.ModelMetadata)
			if err != nil {
				return err
			}
		}

		results, err = s.persistInferences(tx, updated, reply, model)
		return err
	})
	if err != nil {
		return nil, err
	}

	if reply != nil {
		s.cacheModel(reply.ModelMetadata, model)
	}
	s.events.Publish(ctx, monitoring.EventDeleted, monitoring.ModuleClaimDetection, map[string]any{
		"claim_count": deleted,
	})
	s.events.Publish(ctx, monitoring.EventUpdated, monitoring.ModuleClaimDetection, map[string]any{
		"claim_count": len(results),
	})

	return &DetectionUpdateResponse{DeletedCount: deleted, Updated: results}, nil
}

// Get returns stored claims by creation-time range. Pure read, no RPC, no
// events.
func (s *DetectionService) Get(ctx context.Context, req *DetectionGetRequest) ([]ClaimRecord, error) {
	if req.Start.IsZero() || req.End.IsZero() || req.End.Before(req.Start) {
		return nil, errors.Newf("invalid time range: start %s end %s", req.Start, req.End).
			Component("claim-detection").
			Category(errors.CategoryValidation).
			Build()
	}

	rows, err := s.store.GetClaimsByCreatedAt(req.Start, req.End)
	if err != nil {
		return nil, err
	}

	records := make([]ClaimRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, ClaimRecord{
			ClaimID:          row.ID,
			Text:             row.Text,
			SourceDocumentID: row.SourceDocumentID,
			CreatedAt:        row.CreatedAt,
			UpdatedAt:        row.UpdatedAt,
		})
	}
	return records, nil
}

// registerModel gets or creates the registry row for the replying model. The
// key is the model name, widened to (name, version) when configured.
func (s *DetectionService) registerModel(tx datastore.Interface, meta prediction.ModelMetadata) (*datastore.ClaimDetectionModel, error) {
	return tx.GetOrCreateModel(&datastore.ClaimDetectionModel{
		Name:      meta.ModelName,
		Version:   meta.ModelVersion,
		ModelPath: meta.ModelPath,
	}, s.settings.ModelKeyIncludesVersion)
}

// persistInferences upserts one inference per claim and zips the response in
// input order.
func (s *DetectionService) persistInferences(tx datastore.Interface, rows []datastore.Claim, reply *prediction.Reply, model *datastore.ClaimDetectionModel) ([]ClaimResult, error) {
	if len(rows) != len(reply.InferenceResults) {
		return nil, errors.Newf("classified %d claims but persisted %d", len(reply.InferenceResults), len(rows)).
			Component("claim-detection").
			Category(errors.CategoryApplication).
			Build()
	}

	inferences := make([]*datastore.ClaimModelInference, 0, len(rows))
	for i, row := range rows {
		inferences = append(inferences, &datastore.ClaimModelInference{
			ClaimID:               row.ID,
			ClaimDetectionModelID: model.ID,
			Label:                 reply.InferenceResults[i].Label != 0,
		})
	}
	persisted, err := tx.UpsertInferences(inferences)
	if err != nil {
		return nil, err
	}

	results := make([]ClaimResult, 0, len(rows))
	for i, row := range rows {
		results = append(results, ClaimResult{
			ClaimID:      row.ID,
			Text:         row.Text,
			Label:        persisted[i].Label,
			ModelID:      model.ID,
			ModelName:    model.Name,
			ModelVersion: model.Version,
			CreatedAt:    persisted[i].CreatedAt,
			UpdatedAt:    persisted[i].UpdatedAt,
		})
	}
	return results, nil
}

func modelCacheKey(meta prediction.ModelMetadata, includeVersion bool) string {
	if includeVersion {
		return meta.ModelName + "|" + meta.ModelVersion
	}
	return meta.ModelName
}

// cachedModel returns the registry row for the metadata if a previous flow
// already resolved it. Registry rows are immutable once created.
func (s *DetectionService) cachedModel(meta prediction.ModelMetadata) (*datastore.ClaimDetectionModel, bool) {
	key := modelCacheKey(meta, s.settings.ModelKeyIncludesVersion)
	if v, ok := s.modelCache.Get(key); ok {
		return v.(*datastore.ClaimDetectionModel), true
	}
	return nil, false
}

// cacheModel records a resolved registry row after its transaction commits.
func (s *DetectionService) cacheModel(meta prediction.ModelMetadata, model *datastore.ClaimDetectionModel) {
	if model == nil {
		return
	}
	key := modelCacheKey(meta, s.settings.ModelKeyIncludesVersion)
	s.modelCache.Set(key, model, gocache.DefaultExpiration)
}
