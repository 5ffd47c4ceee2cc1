package artifact

// CheckKind identifies which stage of runtime validation a TestFailure
// came from.
type CheckKind string

// Supported check kinds.
const (
	CheckSyntax        CheckKind = "syntax"
	CheckImportSmoke   CheckKind = "import_smoke"
	CheckEndpointSmoke CheckKind = "endpoint_smoke"
)

// TestFailure is a single failure surfaced by the validator or the sandbox
// harness.
type TestFailure struct {
	Check      CheckKind `json:"check"`
	Message    string    `json:"message"`
	FilePath   string    `json:"file_path,omitempty"`
	LineNumber *int      `json:"line_number,omitempty"`
	Patchable  bool      `json:"patchable"`
}

// TestRunReport is the outcome of a single evaluation pass (static or
// sandboxed) over a bundle.
type TestRunReport struct {
	Passed        bool               `json:"passed"`
	ChecksRun     []CheckKind        `json:"checks_run"`
	Failures      []TestFailure      `json:"failures"`
	Warnings      []string           `json:"warnings"`
	PatchRequests []FilePatchRequest `json:"patch_requests"`
}

// RepairReport is the terminal outcome of the bounded repair loop.
type RepairReport struct {
	Passed         bool          `json:"passed"`
	FullyValidated bool          `json:"fully_validated"`
	Repaired       bool          `json:"repaired"`
	Attempts       int           `json:"attempts"`
	AffectedFiles  []string      `json:"affected_files"`
	Failures       []TestFailure `json:"failures"`
	Warnings       []string      `json:"warnings"`
	FinalCode      GeneratedCode `json:"final_code"`
	Summary        string        `json:"summary"`
}
