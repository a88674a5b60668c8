// model.go this code defines the data model for the application
package datastore

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HashText returns the content-address hash used for document and claim
// uniqueness.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// SourceDocument is one distinct normalized input text. Content-addressed:
// the unique index on TextHash prevents duplicate documents. Never mutated
// after creation except UpdatedAt.
type SourceDocument struct {
	ID        string `gorm:"primaryKey;size:36"`
	Text      string `gorm:"type:text;not null"`
	TextHash  string `gorm:"uniqueIndex;size:64;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeCreate assigns the id and content hash.
func (d *SourceDocument) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.TextHash == "" {
		d.TextHash = HashText(d.Text)
	}
	return nil
}

// Claim is one extracted sentence. Claim text is globally unique by its
// normalized form (NormHash); inserting an existing text re-points
// SourceDocumentID to the newest document and bumps UpdatedAt.
type Claim struct {
	ID               string          `gorm:"primaryKey;size:36"`
	Text             string          `gorm:"type:text;not null"`
	NormHash         string          `gorm:"uniqueIndex;size:64;not null"`
	SourceDocumentID *string         `gorm:"size:36;index"`
	SourceDocument   *SourceDocument `gorm:"foreignKey:SourceDocumentID;constraint:OnDelete:SET NULL"`
	CreatedAt        time.Time       `gorm:"index"`
	UpdatedAt        time.Time
}

func (c *Claim) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.NormHash == "" {
		c.NormHash = HashText(c.Text)
	}
	return nil
}

// ClaimDetectionModel is a registry row created lazily the first time a
// model name is observed in an inference response. It anchors inference
// provenance.
type ClaimDetectionModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"index:idx_model_name_version,unique;size:191;not null"`
	Version   string `gorm:"index:idx_model_name_version,unique;size:64"`
	ModelPath string
	CreatedAt time.Time
}

func (m *ClaimDetectionModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// ClaimModelInference stores at most one label per (claim, model) pair;
// re-inference updates the label rather than duplicating.
type ClaimModelInference struct {
	ID                    string `gorm:"primaryKey;size:36"`
	ClaimID               string `gorm:"size:36;index:idx_inference_claim_model,unique;not null"`
	Claim                 *Claim `gorm:"foreignKey:ClaimID;constraint:OnDelete:CASCADE"`
	ClaimDetectionModelID string `gorm:"size:36;index:idx_inference_claim_model,unique;not null"`
	Label                 bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (i *ClaimModelInference) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// AnnotationSession groups the annotations of one submitted batch for later
// majority-vote aggregation.
type AnnotationSession struct {
	ID        string `gorm:"primaryKey;size:36"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *AnnotationSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// ClaimAnnotation is one human label; at most one per (claim, session).
type ClaimAnnotation struct {
	ID                  string             `gorm:"primaryKey;size:36"`
	SourceDocumentID    *string            `gorm:"size:36;index"`
	ClaimID             string             `gorm:"size:36;index:idx_annotation_claim_session,unique;not null"`
	Claim               *Claim             `gorm:"foreignKey:ClaimID;constraint:OnDelete:CASCADE"`
	AnnotationSessionID string             `gorm:"size:36;index:idx_annotation_claim_session,unique;not null"`
	AnnotationSession   *AnnotationSession `gorm:"foreignKey:AnnotationSessionID;constraint:OnDelete:CASCADE"`
	BinaryLabel         bool
	TextLabel           *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (a *ClaimAnnotation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// ClaimMetric is one fanned-out monitoring record per annotated claim,
// carrying enough to recompute classification metrics over a time window.
type ClaimMetric struct {
	ID           uint      `gorm:"primaryKey"`
	CreatedAt    time.Time `gorm:"index"`
	ClaimID      string    `gorm:"size:36;index"`
	ClaimModelID string    `gorm:"size:36;index"`
	Annotation   bool
	Prediction   bool
}

// EvidenceMetric stores one evidence-retrieval monitoring event verbatim.
type EvidenceMetric struct {
	ID         uint      `gorm:"primaryKey"`
	CreatedAt  time.Time `gorm:"index"`
	EventType  string    `gorm:"size:64"`
	ModuleName string    `gorm:"size:64"`
	Payload    string    `gorm:"type:text"`
}
