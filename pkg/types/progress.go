package types

// Pipeline stages
const (
	StageImport   = "import"
	StageEnrich   = "enrich"
	StageEmbed    = "embed"
	StageComplete = "complete"
)

// Progress is a single progress event emitted while a sync runs
type Progress struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Current *int   `json:"current"`
	Total   *int   `json:"total"`
}

// Counted builds a progress event with current/total set
func Counted(stage, message string, current, total int) Progress {
	return Progress{Stage: stage, Message: message, Current: &current, Total: &total}
}

// Note builds a progress event without counts
func Note(stage, message string) Progress {
	return Progress{Stage: stage, Message: message}
}

// Stats summarizes catalog coverage
type Stats struct {
	TotalRecords  int `json:"total_records"`
	EnrichedCount int `json:"enriched_count"`
	EmbeddedCount int `json:"embedded_count"`
	NotFoundCount int `json:"not_found_count"`
}
