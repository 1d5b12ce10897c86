package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Solution is the structured artifact produced by a successful analysis run.
// It is owned by the caller after emission; the loop does not retain it.
type Solution struct {
	Summary           string        `json:"summary"`
	RootCauseAnalysis string        `json:"root_cause_analysis"`
	AffectedFiles     []string      `json:"affected_files"`
	KeyInsights       []KeyInsight  `json:"key_insights"`
	SuggestedFix      string        `json:"suggested_fix"`
	CommentsToAdd     []CodeComment `json:"comments_to_add"`
	CodeChanges       []CodeChange  `json:"code_changes,omitempty"`
	CommitMessage     string        `json:"commit_message"`
	IssueNumber       int           `json:"issue_number,omitempty"`
}

// KeyInsight documents one relevant code location.
type KeyInsight struct {
	File        string `json:"file"`
	LineRange   string `json:"line_range"`
	CodeSnippet string `json:"code_snippet"`
	Explanation string `json:"explanation"`
}

// CodeComment is an explanatory comment to insert at a specific line.
type CodeComment struct {
	File       string `json:"file"`
	LineNumber int    `json:"line_number"`
	Comment    string `json:"comment"`
}

// CodeChange is a proposed file modification.
type CodeChange struct {
	File        string `json:"file"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"`
}

var (
	fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)
)

// Placeholder path fragments the model hallucinates instead of real files.
var placeholderPathFragments = []string{"unknown_file", "placeholder", "example", "path/to/"}

// ParseSolution extracts a Solution from the model's final answer: a fenced
// json block first, then the widest top-level object span. Text with no
// parseable JSON degrades to a Solution carrying the raw answer as its root
// cause analysis; that is the unparseable-output policy, not an error.
func ParseSolution(text string, logger *zap.Logger) *Solution {
	if logger == nil {
		logger = zap.NewNop()
	}

	var solution *Solution
	if m := fencedJSONPattern.FindStringSubmatch(text); m != nil {
		solution = decodeSolution(m[1])
	}
	if solution == nil {
		if m := jsonObjectPattern.FindString(text); m != "" {
			solution = decodeSolution(m)
		}
	}
	if solution == nil {
		return &Solution{
			Summary:           "See raw analysis below",
			RootCauseAnalysis: text,
			AffectedFiles:     []string{},
			KeyInsights:       []KeyInsight{},
			CommentsToAdd:     []CodeComment{},
			CommitMessage:     "docs: add issue analysis",
		}
	}

	sanitize(solution, logger)
	return solution
}

func decodeSolution(raw string) *Solution {
	var s Solution
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil
	}
	return &s
}

// sanitize drops comment and change entries whose file path is empty or
// matches the placeholder blocklist, so hallucinated files never reach the
// implementation phase.
func sanitize(s *Solution, logger *zap.Logger) {
	dropped := 0
	s.CommentsToAdd = filterByPath(s.CommentsToAdd, func(c CodeComment) string { return c.File }, &dropped, logger)
	s.CodeChanges = filterByPath(s.CodeChanges, func(c CodeChange) string { return c.File }, &dropped, logger)
	if dropped > 0 {
		logger.Warn("filtered out entries with invalid file paths", zap.Int("dropped", dropped))
	}
}

func filterByPath[T any](entries []T, pathOf func(T) string, dropped *int, logger *zap.Logger) []T {
	if len(entries) == 0 {
		return entries
	}
	valid := entries[:0]
	for _, entry := range entries {
		path := pathOf(entry)
		if path == "" {
			logger.Warn("skipping entry with empty file path")
			*dropped++
			continue
		}
		if isPlaceholderPath(path) {
			logger.Warn("skipping invalid file path", zap.String("file", path))
			*dropped++
			continue
		}
		valid = append(valid, entry)
	}
	return valid
}

func isPlaceholderPath(path string) bool {
	lower := strings.ToLower(path)
	for _, fragment := range placeholderPathFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
