package judge0

import (
	"sort"
	"strings"
)

// Language describes a supported language and its Judge0 identifier.
type Language struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

var languageIDs = map[string]int{
	"bash":       46,
	"c":          50,
	"csharp":     51,
	"cpp":        54,
	"go":         60,
	"java":       62,
	"javascript": 63,
	"php":        68,
	"python":     71,
	"ruby":       72,
	"rust":       73,
	"typescript": 74,
	"kotlin":     78,
	"r":          80,
	"scala":      81,
	"swift":      83,
	"perl":       85,
}

var languageAliases = map[string]string{
	"c++":     "cpp",
	"c#":      "csharp",
	"cs":      "csharp",
	"golang":  "go",
	"js":      "javascript",
	"node":    "javascript",
	"nodejs":  "javascript",
	"py":      "python",
	"python3": "python",
	"rb":      "ruby",
	"rs":      "rust",
	"sh":      "bash",
	"ts":      "typescript",
	"kt":      "kotlin",
}

// CanonicalLanguage resolves aliases and casing to the canonical language
// name. It returns false for unsupported languages.
func CanonicalLanguage(name string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := languageAliases[normalized]; ok {
		normalized = alias
	}
	if _, ok := languageIDs[normalized]; !ok {
		return "", false
	}
	return normalized, true
}

// LanguageID maps a language name to its Judge0 identifier.
func LanguageID(name string) (int, bool) {
	canonical, ok := CanonicalLanguage(name)
	if !ok {
		return 0, false
	}
	return languageIDs[canonical], true
}

// Languages returns the supported languages sorted by name.
func Languages() []Language {
	languages := make([]Language, 0, len(languageIDs))
	for name, id := range languageIDs {
		languages = append(languages, Language{Name: name, ID: id})
	}
	sort.Slice(languages, func(i, j int) bool { return languages[i].Name < languages[j].Name })
	return languages
}
