package domain

import "time"

// ExamRequest is the POST /parse_enhanced request body.
type ExamRequest struct {
	ExamName     string `json:"exam_name" binding:"required"`
	ModalityCode string `json:"modality_code"`
	DataSource   string `json:"data_source,omitempty"`
	Retriever    string `json:"retriever,omitempty"`
	Reranker     string `json:"reranker,omitempty"`
}

// ExamBatchItem is one entry of a POST /parse_batch request body.
type ExamBatchItem struct {
	ExamName     string `json:"exam_name" binding:"required"`
	ModalityCode string `json:"modality_code"`
	DataSource   string `json:"data_source,omitempty"`
	ExamCode     string `json:"exam_code,omitempty"`
}

// BatchRequest is the POST /parse_batch request body.
type BatchRequest struct {
	Exams     []ExamBatchItem `json:"exams" binding:"required,min=1,dive"`
	Retriever string          `json:"retriever,omitempty"`
	Reranker  string          `json:"reranker,omitempty"`
}

// BatchStatus is the lifecycle state of a batch job.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchDone      BatchStatus = "done"
	BatchCancelled BatchStatus = "cancelled"
	BatchError     BatchStatus = "error"
)

// BatchJob is the persisted record of a batch standardization run,
// tracked by BatchOrchestrator and surfaced via GET /batch_progress/{job_id}.
type BatchJob struct {
	JobID       string      `json:"job_id"`
	CreatedAt   time.Time   `json:"created_at"`
	Retriever   string      `json:"retriever"`
	Reranker    string      `json:"reranker"`
	Total       int         `json:"total"`
	Completed   int         `json:"completed"`
	Status      BatchStatus `json:"status"`
	ResultsURL  string      `json:"results_url,omitempty"`
}

// BatchResultRecord is one element of a persisted batch result set. On
// failure ErrorMessage is populated and Result is nil, per the
// per-request failure isolation contract.
type BatchResultRecord struct {
	Input       ExamBatchItem `json:"input"`
	Result      *MatchResult  `json:"result,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// PersistedBatchResult is the blob stored at batches/{job_id}.json.
type PersistedBatchResult struct {
	JobID     string              `json:"job_id"`
	CreatedAt time.Time           `json:"created_at"`
	Retriever string              `json:"retriever"`
	Reranker  string              `json:"reranker"`
	Results   []BatchResultRecord `json:"results"`
}

// RetrieverDescriptor is one entry of the GET /models response.
type RetrieverDescriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

// RerankerDescriptor is one entry of the GET /models response.
type RerankerDescriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"` // cross_encoder, llm
	Status      string `json:"status"`
	Description string `json:"description"`
}

// ModelsResponse is the GET /models response body.
type ModelsResponse struct {
	Retrievers       []RetrieverDescriptor `json:"retrievers"`
	Rerankers        []RerankerDescriptor  `json:"rerankers"`
	DefaultRetriever string                `json:"default_retriever"`
	DefaultReranker  string                `json:"default_reranker"`
}

// HealthResponse is the GET /health response body.
type HealthResponse struct {
	Status            string `json:"status"`
	ConfigFingerprint string `json:"config_fingerprint"`
	IndexPresent      bool   `json:"index_present"`
}

// WarmupResponse is the POST /warmup response body.
type WarmupResponse struct {
	Components map[string]string `json:"components"`
	ElapsedMs  int64              `json:"elapsed_ms"`
}

// MatchResultResponse is the POST /parse_enhanced response body: a
// MatchResult flattened into the wire shape named in the external
// interfaces design.
type MatchResultResponse struct {
	Input            ParsedExam       `json:"input"`
	CleanName        string           `json:"clean_name"`
	Snomed           SNOMEDRef        `json:"snomed"`
	Components       ComponentsView   `json:"components"`
	AllCandidates    []Candidate      `json:"all_candidates"`
	Confidence       float64          `json:"confidence"`
	ValidationStatus ValidationStatus `json:"validation_status"`
}

// ComponentsView is the flattened, UI-friendly rendering of a ParsedExam's
// structured components embedded in a MatchResultResponse.
type ComponentsView struct {
	Modality        Modality `json:"modality"`
	Anatomy         []string `json:"anatomy"`
	Laterality      Laterality `json:"laterality"`
	Contrast        Contrast `json:"contrast"`
	Technique       []string `json:"technique"`
	GenderContext   GenderContext `json:"gender_context"`
	AgeContext      AgeContext    `json:"age_context"`
	ClinicalContext []string      `json:"clinical_context"`
}

// ToMatchResultResponse projects a MatchResult to its wire shape.
func ToMatchResultResponse(m MatchResult) MatchResultResponse {
	return MatchResultResponse{
		Input:     m.Input,
		CleanName: m.CleanName,
		Snomed:    m.Snomed,
		Components: ComponentsView{
			Modality:        m.Input.Modality,
			Anatomy:         m.Input.Anatomy.Items(),
			Laterality:      m.Input.Laterality,
			Contrast:        m.Input.Contrast,
			Technique:       m.Input.Technique.Items(),
			GenderContext:   m.Input.GenderContext,
			AgeContext:      m.Input.AgeContext,
			ClinicalContext: m.Input.ClinicalContext.Items(),
		},
		AllCandidates:    m.AllCandidates,
		Confidence:       m.Confidence,
		ValidationStatus: m.ValidationStatus,
	}
}

// ConfigCurrentResponse is the GET /config/current response body.
type ConfigCurrentResponse struct {
	ConfigYAML string    `json:"config_yaml"`
	Timestamp  time.Time `json:"timestamp"`
}

// ConfigUpdateRequest is the POST /config/update request body.
type ConfigUpdateRequest struct {
	ConfigYAML string `json:"config_yaml" binding:"required"`
}

// ConfigUpdateResponse is the POST /config/update response body.
type ConfigUpdateResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReloadValidationCacheResponse is the POST /admin/reload-validation-cache
// response body.
type ReloadValidationCacheResponse struct {
	ApprovedCount int `json:"approved_count"`
	RejectedCount int `json:"rejected_count"`
}
