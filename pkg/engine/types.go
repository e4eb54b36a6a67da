package engine

import "time"

// Detection captures a single piece of PII found in scanned text.
type Detection struct {
	FieldName  string  `json:"field_name"`
	PIIType    string  `json:"pii_type"`
	Confidence float64 `json:"confidence"`
	Sample     string  `json:"sample"`
	Masked     string  `json:"masked"`
}

// MaskMetadata summarises a masking run.
type MaskMetadata struct {
	ProcessingTimeMs uint64 `json:"processing_time"`
	FieldsProcessed  uint32 `json:"fields_processed"`
	PIIItemsFound    uint32 `json:"pii_items_found"`
}

// MaskResult is the outcome of masking a block of text.
type MaskResult struct {
	OriginalText string       `json:"original_text"`
	MaskedText   string       `json:"masked_text"`
	DetectedPII  []Detection  `json:"detected_pii"`
	Metadata     MaskMetadata `json:"metadata"`
}

// FileFinding aggregates the PII found in one audited file.
type FileFinding struct {
	Path     string `json:"path"`
	PIIType  string `json:"pii_type"`
	Count    int    `json:"count"`
	Severity string `json:"severity"`
}

// AuditResult summarises a security audit of the files under a path.
type AuditResult struct {
	Path         string        `json:"path"`
	FilesScanned int           `json:"files_scanned"`
	FilesSkipped int           `json:"files_skipped"`
	Findings     []FileFinding `json:"findings"`
	Violations   int           `json:"violations"`
	CompletedAt  time.Time     `json:"completed_at"`
}
