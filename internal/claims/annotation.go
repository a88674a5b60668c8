package claims

import (
	"context"
	"log/slog"

	"github.com/claimflow/claimflow/internal/datastore"
	"github.com/claimflow/claimflow/internal/errors"
	"github.com/claimflow/claimflow/internal/logging"
	"github.com/claimflow/claimflow/internal/monitoring"
)

// AnnotationService records human labels for stored claims and emits the
// metric events the monitoring aggregator consumes.
type AnnotationService struct {
	store  datastore.Interface
	events monitoring.EventPublisher
	logger *slog.Logger
}

// NewAnnotationService wires the annotation flows.
func NewAnnotationService(store datastore.Interface, events monitoring.EventPublisher) *AnnotationService {
	return &AnnotationService{
		store:  store,
		events: events,
		logger: logging.ForService("claim-annotation"),
	}
}

// Insert creates one session for the batch and records one annotation per
// input. After the transaction commits it emits one monitoring event with
// parallel arrays of claim ids, human labels, model labels and model ids for
// metric aggregation; claims without a stored inference are left out of the
// event.
func (s *AnnotationService) Insert(ctx context.Context, req *AnnotationInsertRequest) (*AnnotationInsertResponse, error) {
	if len(req.Annotations) == 0 {
		return nil, errors.Newf("annotation request contains no annotations").
			Component("claim-annotation").
			Category(errors.CategoryValidation).
			Build()
	}
	for _, in := range req.Annotations {
		if in.ClaimID == "" {
			return nil, errors.Newf("annotation request contains a row without a claim id").
				Component("claim-annotation").
				Category(errors.CategoryValidation).
				Build()
		}
	}

	var (
		sessionID string
		records   []AnnotationRecord

		claimIDs    []string
		annotations []bool
		predictions []bool
		modelIDs    []string
	)

	err := s.store.Transaction(func(tx datastore.Interface) error {
		session, err := tx.CreateAnnotationSession()
		if err != nil {
			return err
		}
		sessionID = session.ID

		rows := make([]*datastore.ClaimAnnotation, 0, len(req.Annotations))
		for _, in := range req.Annotations {
			rows = append(rows, &datastore.ClaimAnnotation{
				SourceDocumentID:    in.SourceDocumentID,
				ClaimID:             in.ClaimID,
				AnnotationSessionID: session.ID,
				BinaryLabel:         in.BinaryLabel,
				TextLabel:           in.TextLabel,
			})
		}
		persisted, err := tx.InsertClaimAnnotations(rows)
		if err != nil {
			return err
		}

		records = make([]AnnotationRecord, 0, len(persisted))
		for _, row := range persisted {
			records = append(records, annotationRecord(&row))
		}

		for _, row := range persisted {
			inference, err := tx.LatestInferenceForClaim(row.ClaimID)
			if err != nil {
				if errors.HasCategory(err, errors.CategoryNotFound) {
					s.logger.Debug("claim has no stored inference, omitting from metrics",
						"claim_id", row.ClaimID,
					)
					continue
				}
				return err
			}
			claimIDs = append(claimIDs, row.ClaimID)
			annotations = append(annotations, row.BinaryLabel)
			predictions = append(predictions, inference.Label)
			modelIDs = append(modelIDs, inference.ClaimDetectionModelID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(claimIDs) > 0 {
		s.events.Publish(ctx, monitoring.EventCreated, monitoring.ModuleClaimAnnotation, map[string]any{
			"annotation_session_id":  sessionID,
			"claim_ids":              claimIDs,
			"claim_annotations":      annotations,
			"claim_model_inferences": predictions,
			"claim_model_ids":        modelIDs,
		})
	}

	return &AnnotationInsertResponse{
		AnnotationSessionID: sessionID,
		Annotations:         records,
	}, nil
}

// Update is a point update keyed by (session, claim). Unlike Insert it emits
// no monitoring event.
func (s *AnnotationService) Update(ctx context.Context, req *AnnotationUpdateRequest) (*AnnotationRecord, error) {
	if req.AnnotationSessionID == "" || req.ClaimID == "" {
		return nil, errors.Newf("annotation update requires a session id and a claim id").
			Component("claim-annotation").
			Category(errors.CategoryValidation).
			Build()
	}

	row, err := s.store.UpdateClaimAnnotation(req.AnnotationSessionID, req.ClaimID, req.BinaryLabel, req.TextLabel)
	if err != nil {
		return nil, err
	}
	record := annotationRecord(row)
	return &record, nil
}

func annotationRecord(row *datastore.ClaimAnnotation) AnnotationRecord {
	return AnnotationRecord{
		AnnotationID:        row.ID,
		AnnotationSessionID: row.AnnotationSessionID,
		ClaimID:             row.ClaimID,
		BinaryLabel:         row.BinaryLabel,
		TextLabel:           row.TextLabel,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
}
