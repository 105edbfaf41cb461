package service

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/noah-isme/codequest-api/internal/dto"
)

// Import formats.
const (
	ImportFormatJSON = "json"
	ImportFormatCSV  = "csv"
)

const maxImportQuestions = 500

// ParseMCQImport decodes a bulk MCQ upload. The format is detected from the
// content: JSON is either an array of questions or {"mcqs": [...]}; CSV has a
// header row with question, options, correct, marks, difficulty and
// explanation columns. CSV options are separated by "|" and correct answers
// are letters (A, B) or 1-based numbers.
func ParseMCQImport(data []byte) ([]dto.MCQInput, string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, "", fmt.Errorf("%w: empty file", ErrInvalidImport)
	}

	detected := mimetype.Detect(data)
	var (
		items  []dto.MCQInput
		format string
		err    error
	)
	switch {
	case detected.Is("application/json"):
		format = ImportFormatJSON
		items, err = parseJSONImport(data)
	case detected.Is("text/csv"), detected.Is("text/plain"):
		format = ImportFormatCSV
		items, err = parseCSVImport(data)
	default:
		return nil, "", fmt.Errorf("%w: unsupported content type %s", ErrInvalidImport, detected.String())
	}
	if err != nil {
		return nil, format, err
	}

	if len(items) == 0 {
		return nil, format, fmt.Errorf("%w: no questions found", ErrInvalidImport)
	}
	if len(items) > maxImportQuestions {
		return nil, format, fmt.Errorf("%w: at most %d questions per import", ErrInvalidImport, maxImportQuestions)
	}
	return items, format, nil
}

func parseJSONImport(data []byte) ([]dto.MCQInput, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []dto.MCQInput
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
		}
		return items, nil
	}

	var wrapper struct {
		MCQs []dto.MCQInput `json:"mcqs"`
	}
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	return wrapper.MCQs, nil
}

func parseCSVImport(data []byte) ([]dto.MCQInput, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: missing header row", ErrInvalidImport)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"question", "options", "correct"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: missing %q column", ErrInvalidImport, required)
		}
	}

	field := func(record []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var items []dto.MCQInput
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidImport, line, err)
		}
		if strings.TrimSpace(strings.Join(record, "")) == "" {
			continue
		}

		options := splitList(field(record, "options"))
		correct, err := parseCorrect(field(record, "correct"))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidImport, line, err)
		}

		item := dto.MCQInput{
			Question:       field(record, "question"),
			Options:        options,
			CorrectOptions: correct,
			Difficulty:     strings.ToLower(field(record, "difficulty")),
			Explanation:    field(record, "explanation"),
			ImageURL:       field(record, "image_url"),
		}
		if raw := field(record, "marks"); raw != "" {
			marks, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: invalid marks %q", ErrInvalidImport, line, raw)
			}
			item.Marks = marks
		}
		items = append(items, item)
	}
	return items, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, "|")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

// parseCorrect converts "A|C" or "1|3" into zero-based option indices.
func parseCorrect(raw string) ([]int, error) {
	parts := splitList(raw)
	if len(parts) == 0 {
		return nil, errors.New("no correct option")
	}

	indices := make([]int, 0, len(parts))
	for _, part := range parts {
		if len(part) == 1 {
			letter := strings.ToUpper(part)[0]
			if letter >= 'A' && letter <= 'Z' {
				indices = append(indices, int(letter-'A'))
				continue
			}
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid correct option %q", part)
		}
		indices = append(indices, n-1)
	}
	return indices, nil
}
