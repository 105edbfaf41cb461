package dto

import "github.com/noah-isme/codequest-api/pkg/judge0"

// CodeExecuteRequest runs a snippet outside any submission.
type CodeExecuteRequest struct {
	Language string `json:"language" validate:"required,max=32"`
	Code     string `json:"code" validate:"required,max=65536"`
	Input    string `json:"input" validate:"max=65536"`
}

// CodeExecuteResponse is the normalised outcome of a run.
type CodeExecuteResponse struct {
	StatusID      int     `json:"status_id"`
	Status        string  `json:"status"`
	Stdout        string  `json:"stdout"`
	Stderr        string  `json:"stderr"`
	CompileOutput string  `json:"compile_output"`
	Message       string  `json:"message"`
	Time          float64 `json:"time"`
	Memory        int     `json:"memory"`
}

// LanguageResponse names a supported language and its judge identifier.
type LanguageResponse struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

// NewCodeExecuteResponse converts a judge result into a DTO.
func NewCodeExecuteResponse(result judge0.Result) CodeExecuteResponse {
	return CodeExecuteResponse{
		StatusID:      result.Status.ID,
		Status:        result.Status.Description,
		Stdout:        result.Stdout,
		Stderr:        result.Stderr,
		CompileOutput: result.CompileOutput,
		Message:       result.Message,
		Time:          result.Time,
		Memory:        result.Memory,
	}
}
