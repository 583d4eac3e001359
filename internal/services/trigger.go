package services

// Trigger kinds.
const (
	TriggerAutomatic = "automatic"
	TriggerManual    = "manual"
)

// EngineOverride carries per-call engine settings extracted from webhook
// headers. Empty fields inherit from the next configuration layer. The API
// key survives queue serialization but must never reach logs or responses.
type EngineOverride struct {
	Engine  string `json:"engine,omitempty"`
	Model   string `json:"model,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
}

// ReviewTrigger is one request to review a pull request. It is built by the
// webhook handler, serialized onto the task queue, and consumed exactly once
// by the review engine.
type ReviewTrigger struct {
	Owner      string          `json:"owner"`
	Repo       string          `json:"repo"`
	PRNumber   int             `json:"pr_number"`
	HeadSHA    string          `json:"head_sha,omitempty"`
	Kind       string          `json:"kind"`
	Actor      string          `json:"actor,omitempty"`
	Features   []string        `json:"features"`
	FocusAreas []string        `json:"focus_areas"`
	Override   *EngineOverride `json:"override,omitempty"`
}

// RepoFullName returns owner/repo.
func (t *ReviewTrigger) RepoFullName() string {
	return t.Owner + "/" + t.Repo
}

// Normalize fills defaulted field sets so downstream code never sees an
// empty feature or focus list.
func (t *ReviewTrigger) Normalize() {
	if len(t.Features) == 0 {
		t.Features = DefaultFeatures()
	}
	if len(t.FocusAreas) == 0 {
		t.FocusAreas = DefaultFocusAreas()
	}
	if t.Kind == "" {
		t.Kind = TriggerAutomatic
	}
}
