// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/claimflow/claimflow/internal/conf"
	"github.com/claimflow/claimflow/internal/errors"
)

// Interface abstracts the underlying database implementation and defines
// the operations the claim pipeline needs.
type Interface interface {
	Open() error
	Close() error

	// Transaction runs fn against a transaction-scoped store. A returned
	// error rolls the whole scope back.
	Transaction(fn func(tx Interface) error) error

	InsertOrGetSourceDocument(doc *SourceDocument) (*SourceDocument, bool, error)

	UpsertClaims(claims []*Claim) ([]Claim, error)
	UpdateClaim(claim *Claim) (*Claim, error)
	DeleteClaims(ids []string) (int64, error)
	GetClaimsByCreatedAt(start, end time.Time) ([]Claim, error)

	GetOrCreateModel(model *ClaimDetectionModel, matchVersion bool) (*ClaimDetectionModel, error)
	UpsertInferences(inferences []*ClaimModelInference) ([]ClaimModelInference, error)
	LatestInferenceForClaim(claimID string) (*ClaimModelInference, error)

	CreateAnnotationSession() (*AnnotationSession, error)
	InsertClaimAnnotations(rows []*ClaimAnnotation) ([]ClaimAnnotation, error)
	UpdateClaimAnnotation(sessionID, claimID string, binaryLabel bool, textLabel *string) (*ClaimAnnotation, error)

	InsertClaimMetrics(rows []*ClaimMetric) error
	InsertEvidenceMetric(row *EvidenceMetric) error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB
}

// New creates a new store instance based on the configured output backend.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// createGormLogger returns a gorm logger that stays quiet except for slow
// queries and real errors.
func createGormLogger() gormlogger.Interface {
	return gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// performAutoMigration migrates all pipeline tables.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&SourceDocument{},
		&Claim{},
		&ClaimDetectionModel{},
		&ClaimModelInference{},
		&AnnotationSession{},
		&ClaimAnnotation{},
		&ClaimMetric{},
		&EvidenceMetric{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}
	if debug {
		log.Printf("%s database connection initialized: %s", dbType, connectionInfo)
	}
	return nil
}

// Open and Close are owned by the backend-specific stores; on a bare
// DataStore (e.g. a transaction scope) they are no-ops.
func (ds *DataStore) Open() error { return nil }

func (ds *DataStore) Close() error { return nil }

// Transaction runs fn in a database transaction scope.
func (ds *DataStore) Transaction(fn func(tx Interface) error) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		return fn(&DataStore{DB: tx})
	})
}

// InsertOrGetSourceDocument upserts a document by content. The bool result
// reports whether a new row was created.
func (ds *DataStore) InsertOrGetSourceDocument(doc *SourceDocument) (*SourceDocument, bool, error) {
	hash := doc.TextHash
	if hash == "" {
		hash = HashText(doc.Text)
		doc.TextHash = hash
	}

	var existing SourceDocument
	err := ds.DB.Where("text_hash = ?", hash).First(&existing).Error
	switch {
	case err == nil:
		return &existing, false, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, dbErr("looking up source document", err)
	}

	if err := ds.DB.Create(doc).Error; err != nil {
		// Lost a race with a concurrent insert of the same content.
		if ds.DB.Where("text_hash = ?", hash).First(&existing).Error == nil {
			return &existing, false, nil
		}
		return nil, false, dbErr("inserting source document", err)
	}
	return doc, true, nil
}

// UpsertClaims batch-inserts claims; on a normalized-text conflict the
// existing row is re-pointed at the new source document and its UpdatedAt
// bumped. Rows are returned in input order with canonical ids.
func (ds *DataStore) UpsertClaims(claims []*Claim) ([]Claim, error) {
	if len(claims) == 0 {
		return nil, nil
	}

	hashes := make([]string, 0, len(claims))
	rows := make([]Claim, 0, len(claims))
	for _, c := range claims {
		if c.NormHash == "" {
			c.NormHash = HashText(c.Text)
		}
		hashes = append(hashes, c.NormHash)
		rows = append(rows, *c)
	}

	err := ds.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "norm_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"source_document_id", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return nil, dbErr("upserting claims", err)
	}

	// Conflicting rows keep their original ids, so fetch the canonical rows
	// and return them in input order.
	var persisted []Claim
	if err := ds.DB.Where("norm_hash IN ?", hashes).Find(&persisted).Error; err != nil {
		return nil, dbErr("fetching upserted claims", err)
	}
	byHash := make(map[string]Claim, len(persisted))
	for _, c := range persisted {
		byHash[c.NormHash] = c
	}

	ordered := make([]Claim, 0, len(claims))
	for _, c := range claims {
		row, ok := byHash[c.NormHash]
		if !ok {
			return nil, errors.Newf("claim missing after upsert: %s", c.ID).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Build()
		}
		ordered = append(ordered, row)
	}
	return ordered, nil
}

// UpdateClaim rewrites a claim's text and normalized hash by id. Callers
// set NormHash; it falls back to hashing the surface text.
func (ds *DataStore) UpdateClaim(claim *Claim) (*Claim, error) {
	if claim.NormHash == "" {
		claim.NormHash = HashText(claim.Text)
	}
	updates := map[string]any{
		"text":      claim.Text,
		"norm_hash": claim.NormHash,
	}
	res := ds.DB.Model(&Claim{}).Where("id = ?", claim.ID).Updates(updates)
	if res.Error != nil {
		return nil, dbErr("updating claim", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errors.Newf("claim not found: %s", claim.ID).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Build()
	}

	var updated Claim
	if err := ds.DB.Where("id = ?", claim.ID).First(&updated).Error; err != nil {
		return nil, dbErr("fetching updated claim", err)
	}
	return &updated, nil
}

// DeleteClaims removes claims by id; inferences and annotations cascade.
func (ds *DataStore) DeleteClaims(ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := ds.DB.Where("id IN ?", ids).Delete(&Claim{})
	if res.Error != nil {
		return 0, dbErr("deleting claims", res.Error)
	}
	return res.RowsAffected, nil
}

// GetClaimsByCreatedAt returns claims created within [start, end].
func (ds *DataStore) GetClaimsByCreatedAt(start, end time.Time) ([]Claim, error) {
	var claims []Claim
	err := ds.DB.
		Where("created_at >= ? AND created_at <= ?", start, end).
		Order("created_at").
		Find(&claims).Error
	if err != nil {
		return nil, dbErr("fetching claims by time range", err)
	}
	return claims, nil
}

// GetOrCreateModel returns the registry row for the model, creating it on
// first sight. matchVersion widens the lookup key from name to
// (name, version).
func (ds *DataStore) GetOrCreateModel(model *ClaimDetectionModel, matchVersion bool) (*ClaimDetectionModel, error) {
	query := ds.DB.Where("name = ?", model.Name)
	if matchVersion {
		query = query.Where("version = ?", model.Version)
	}

	var existing ClaimDetectionModel
	err := query.First(&existing).Error
	switch {
	case err == nil:
		return &existing, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, dbErr("looking up model", err)
	}

	if err := ds.DB.Create(model).Error; err != nil {
		return nil, dbErr("inserting model", err)
	}
	return model, nil
}

// UpsertInferences writes one row per (claim, model) pair; re-inference
// updates the label rather than duplicating.
func (ds *DataStore) UpsertInferences(inferences []*ClaimModelInference) ([]ClaimModelInference, error) {
	if len(inferences) == 0 {
		return nil, nil
	}

	rows := make([]ClaimModelInference, 0, len(inferences))
	claimIDs := make([]string, 0, len(inferences))
	modelIDs := make([]string, 0, len(inferences))
	for _, inf := range inferences {
		rows = append(rows, *inf)
		claimIDs = append(claimIDs, inf.ClaimID)
		modelIDs = append(modelIDs, inf.ClaimDetectionModelID)
	}

	err := ds.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "claim_id"}, {Name: "claim_detection_model_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"label", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return nil, dbErr("upserting inferences", err)
	}

	var persisted []ClaimModelInference
	err = ds.DB.
		Where("claim_id IN ? AND claim_detection_model_id IN ?", claimIDs, modelIDs).
		Find(&persisted).Error
	if err != nil {
		return nil, dbErr("fetching upserted inferences", err)
	}

	type pair struct{ claim, model string }
	byPair := make(map[pair]ClaimModelInference, len(persisted))
	for _, inf := range persisted {
		byPair[pair{inf.ClaimID, inf.ClaimDetectionModelID}] = inf
	}

	ordered := make([]ClaimModelInference, 0, len(inferences))
	for _, inf := range inferences {
		row, ok := byPair[pair{inf.ClaimID, inf.ClaimDetectionModelID}]
		if !ok {
			return nil, errors.Newf("inference missing after upsert for claim %s", inf.ClaimID).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Build()
		}
		ordered = append(ordered, row)
	}
	return ordered, nil
}

// LatestInferenceForClaim returns the most recent stored inference for the
// claim.
func (ds *DataStore) LatestInferenceForClaim(claimID string) (*ClaimModelInference, error) {
	var inference ClaimModelInference
	err := ds.DB.
		Where("claim_id = ?", claimID).
		Order("updated_at DESC").
		First(&inference).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("no inference for claim %s", claimID).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, dbErr("fetching latest inference", err)
	}
	return &inference, nil
}

// CreateAnnotationSession inserts a fresh session row.
func (ds *DataStore) CreateAnnotationSession() (*AnnotationSession, error) {
	session := &AnnotationSession{}
	if err := ds.DB.Create(session).Error; err != nil {
		return nil, dbErr("inserting annotation session", err)
	}
	return session, nil
}

// InsertClaimAnnotations bulk-inserts annotation rows.
func (ds *DataStore) InsertClaimAnnotations(rows []*ClaimAnnotation) ([]ClaimAnnotation, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	values := make([]ClaimAnnotation, 0, len(rows))
	for _, r := range rows {
		values = append(values, *r)
	}
	if err := ds.DB.Create(&values).Error; err != nil {
		return nil, dbErr("inserting claim annotations", err)
	}
	return values, nil
}

// UpdateClaimAnnotation is a point update keyed by (session, claim).
func (ds *DataStore) UpdateClaimAnnotation(sessionID, claimID string, binaryLabel bool, textLabel *string) (*ClaimAnnotation, error) {
	updates := map[string]any{
		"binary_label": binaryLabel,
		"text_label":   textLabel,
	}
	res := ds.DB.Model(&ClaimAnnotation{}).
		Where("annotation_session_id = ? AND claim_id = ?", sessionID, claimID).
		Updates(updates)
	if res.Error != nil {
		return nil, dbErr("updating claim annotation", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errors.Newf("annotation not found for session %s claim %s", sessionID, claimID).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Build()
	}

	var updated ClaimAnnotation
	err := ds.DB.
		Where("annotation_session_id = ? AND claim_id = ?", sessionID, claimID).
		First(&updated).Error
	if err != nil {
		return nil, dbErr("fetching updated annotation", err)
	}
	return &updated, nil
}

// InsertClaimMetrics stores fanned-out per-claim monitoring records.
func (ds *DataStore) InsertClaimMetrics(rows []*ClaimMetric) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([]ClaimMetric, 0, len(rows))
	for _, r := range rows {
		values = append(values, *r)
	}
	if err := ds.DB.Create(&values).Error; err != nil {
		return dbErr("inserting claim metrics", err)
	}
	return nil
}

// InsertEvidenceMetric stores one evidence-retrieval monitoring record.
func (ds *DataStore) InsertEvidenceMetric(row *EvidenceMetric) error {
	if err := ds.DB.Create(row).Error; err != nil {
		return dbErr("inserting evidence metric", err)
	}
	return nil
}

func dbErr(op string, err error) error {
	return errors.New(fmt.Errorf("%s: %w", op, err)).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Build()
}
