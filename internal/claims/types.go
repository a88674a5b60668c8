package claims

import "time"

// DetectionInsertRequest carries one document to sentencize, classify and
// persist.
type DetectionInsertRequest struct {
	Text string `json:"text"`
}

// ClaimResult is one claim zipped with its inference, returned in the order
// the claims appear in the document.
type ClaimResult struct {
	ClaimID      string    `json:"claim_id"`
	Text         string    `json:"text"`
	Label        bool      `json:"label"`
	ModelID      string    `json:"model_id"`
	ModelName    string    `json:"model_name"`
	ModelVersion string    `json:"model_version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DetectionInsertResponse is the insert flow result.
type DetectionInsertResponse struct {
	SourceDocumentID string        `json:"source_document_id"`
	Claims           []ClaimResult `json:"claims"`
}

// ClaimPatch addresses one existing claim in an update request. Blank text
// means delete.
type ClaimPatch struct {
	ClaimID string `json:"claim_id"`
	Text    string `json:"text"`
}

// DetectionUpdateRequest carries a batch of claim patches.
type DetectionUpdateRequest struct {
	Claims []ClaimPatch `json:"claims"`
}

// DetectionUpdateResponse reports the deleted count and the re-classified
// updated claims.
type DetectionUpdateResponse struct {
	DeletedCount int64         `json:"deleted_count"`
	Updated      []ClaimResult `json:"updated"`
}

// DetectionGetRequest selects claims by creation-time range.
type DetectionGetRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ClaimRecord is one stored claim as returned by the get flow.
type ClaimRecord struct {
	ClaimID          string    `json:"claim_id"`
	Text             string    `json:"text"`
	SourceDocumentID *string   `json:"source_document_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AnnotationInput is one human label to record.
type AnnotationInput struct {
	ClaimID          string  `json:"claim_id"`
	SourceDocumentID *string `json:"source_document_id,omitempty"`
	BinaryLabel      bool    `json:"binary_label"`
	TextLabel        *string `json:"text_label,omitempty"`
}

// AnnotationInsertRequest carries one batch of annotations; a fresh session
// groups them for later aggregation.
type AnnotationInsertRequest struct {
	Annotations []AnnotationInput `json:"annotations"`
}

// AnnotationRecord is one stored annotation.
type AnnotationRecord struct {
	AnnotationID        string    `json:"annotation_id"`
	AnnotationSessionID string    `json:"annotation_session_id"`
	ClaimID             string    `json:"claim_id"`
	BinaryLabel         bool      `json:"binary_label"`
	TextLabel           *string   `json:"text_label,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// AnnotationInsertResponse returns the new session and its annotations.
type AnnotationInsertResponse struct {
	AnnotationSessionID string             `json:"annotation_session_id"`
	Annotations         []AnnotationRecord `json:"annotations"`
}

// AnnotationUpdateRequest is a point update keyed by (session, claim).
type AnnotationUpdateRequest struct {
	AnnotationSessionID string  `json:"annotation_session_id"`
	ClaimID             string  `json:"claim_id"`
	BinaryLabel         bool    `json:"binary_label"`
	TextLabel           *string `json:"text_label,omitempty"`
}
