package dto

type CacheBustRequest struct {
	Entity      string                 `json:"entity" validate:"required"`
	Identifiers map[string]interface{} `json:"identifiers"`
	AggParams   map[string]interface{} `json:"agg_params"`
}

type CacheBustResponse struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
}

type QualityPushRequest struct {
	Samples []QualitySample `json:"samples" validate:"required,min=1,max=500,dive"`
}

// QualitySample is one routing, projection or rag check. Only the fields of
// its type are read.
type QualitySample struct {
	Type string `json:"type" validate:"required,oneof=routing projection rag"`

	// routing
	Question       string `json:"question" validate:"required_if=Type routing"`
	ExpectedIntent string `json:"expected_intent"`
	ExpectedEntity string `json:"expected_entity"`

	// projection and rag
	Entity  string   `json:"entity" validate:"required_unless=Type routing"`
	Columns []string `json:"columns"`

	// rag
	Intent          string `json:"intent"`
	ExpectedEnabled *bool  `json:"expected_enabled"`
}

type QualityPushResponse struct {
	Accepted int                     `json:"accepted"`
	Counts   map[string]QualityCount `json:"counts"`
	Failures []QualityFailure        `json:"failures"`
}

type QualityCount struct {
	Pass int `json:"pass"`
	Fail int `json:"fail"`
}

type QualityFailure struct {
	Index  int    `json:"index"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type HealthResponse struct {
	Status        string                 `json:"status"`
	ConfigVersion string                 `json:"config_version"`
	BuildID       string                 `json:"build_id"`
	Checks        map[string]HealthCheck `json:"checks"`
}

type HealthCheck struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}
