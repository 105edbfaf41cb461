package judge0

import "errors"

// Judge0 status identifiers.
const (
	StatusInQueue             = 1
	StatusProcessing          = 2
	StatusAccepted            = 3
	StatusWrongAnswer         = 4
	StatusTimeLimitExceeded   = 5
	StatusCompilationError    = 6
	StatusRuntimeErrorSIGSEGV = 7
	StatusRuntimeErrorNZEC    = 11
	StatusInternalError       = 13
)

var (
	// ErrUnsupportedLanguage indicates the language has no Judge0 identifier.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrPollTimeout indicates the submission did not reach a terminal state
	// within the polling budget. The accompanying result holds the last poll.
	ErrPollTimeout = errors.New("execution did not finish within polling budget")
)

// Request is a single program run.
type Request struct {
	Language string
	Source   string
	Stdin    string
}

// Status is the Judge0 status pair.
type Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Result is the normalised outcome of a run.
type Result struct {
	Token         string  `json:"token,omitempty"`
	Stdout        string  `json:"stdout"`
	Stderr        string  `json:"stderr"`
	CompileOutput string  `json:"compile_output"`
	Message       string  `json:"message,omitempty"`
	Time          float64 `json:"time"`
	Memory        int     `json:"memory"`
	Status        Status  `json:"status"`
}

// IsTerminal reports whether Judge0 has finished with the submission.
func (r Result) IsTerminal() bool {
	return r.Status.ID >= StatusAccepted
}

// Succeeded reports whether the program ran to completion without error.
func (r Result) Succeeded() bool {
	return r.Status.ID == StatusAccepted
}
