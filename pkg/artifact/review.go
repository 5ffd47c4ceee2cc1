package artifact

// Severity is the severity level of a reported Issue.
type Severity string

// Supported Issue severities.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Issue is a single defect reported against the generated bundle, either
// by the reviewer agent or synthesized from validator failures.
type Issue struct {
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	FilePath    string   `json:"file_path"`
	LineNumber  *int     `json:"line_number,omitempty"`
}

// FilePatchRequest asks the implementer to regenerate a single file.
type FilePatchRequest struct {
	Path         string   `json:"path"`
	Reason       string   `json:"reason"`
	Instructions []string `json:"instructions"`
}

// Ready reports whether the patch request carries at least one
// instruction, the precondition it must meet before it may influence the
// repair loop.
func (p FilePatchRequest) Ready() bool {
	return len(p.Instructions) > 0
}

// ReviewReport is produced by the Reviewer agent for a single review
// iteration, merged with the deterministic Validator's findings.
type ReviewReport struct {
	Issues          []Issue            `json:"issues"`
	Suggestions     []string           `json:"suggestions"`
	SecurityScore   int                `json:"security_score"`
	Approved        bool               `json:"approved"`
	AffectedFiles   []string           `json:"affected_files"`
	PatchRequests   []FilePatchRequest `json:"patch_requests"`
	FinalCode       *GeneratedCode     `json:"final_code,omitempty"`
}

// MaxSecurityScoreOnFailure caps security_score when the merged report
// carries at least one validator failure, the validator soundness
// property every review report must satisfy.
const MaxSecurityScoreOnFailure = 6

// MinApprovedSecurityScore is the default trust-score gate: approval
// additionally requires security_score >= this value. Overridable for
// deterministic test/CI runs.
const MinApprovedSecurityScore = 7
