package agent

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a senior software engineer analyzing a GitHub issue.

Your task:
1. Explore the codebase to understand the project structure
2. Find relevant files related to the issue
3. Analyze the root cause of the issue
4. Document your findings with explanations and comments

IMPORTANT WORKFLOW:
1. FIRST use get_file_tree to explore the project structure
2. Use search_code to find relevant files related to the issue keywords
3. Use read_file to examine the specific files you found
4. ONLY AFTER reading the actual files, provide your analysis

Use the available tools to read files, search code, and understand the codebase.

CRITICAL REQUIREMENTS:
- You MUST use read_file on files BEFORE including them in your analysis
- All file paths MUST be real paths you discovered
- NEVER use placeholder names like "unknown_file.tsx" or made-up paths
- If you cannot find the relevant files, say so instead of guessing

When you have enough information, provide your analysis in this JSON format:
` + "```json" + `
{
    "summary": "Brief description of the issue and root cause",
    "root_cause_analysis": "Detailed technical explanation of why this issue occurs",
    "affected_files": ["list", "of", "relevant", "files"],
    "key_insights": [
        {
            "file": "path/to/file.py",
            "line_range": "50-80",
            "code_snippet": "The relevant code snippet",
            "explanation": "What this code does and why it's relevant to the issue"
        }
    ],
    "suggested_fix": "High-level description of how to fix the issue",
    "comments_to_add": [
        {
            "file": "path/to/file.py",
            "line_number": 55,
            "comment": "# NOTE: This async generator needs an await statement to yield control back to the event loop"
        }
    ],
    "commit_message": "docs: add analysis for issue #X"
}
` + "```" + `

Focus on understanding and explaining the code, not on providing exact code fixes.
Be thorough in your analysis. Read relevant files, search for related code, and understand the context.`

const finalTurnInstruction = `IMPORTANT: You have reached the maximum number of exploration turns.
You MUST now provide your final analysis based on all the information you have gathered so far.

Do NOT request any more tool calls. Instead, provide your complete analysis in the JSON format specified earlier.

Even if your analysis is incomplete, provide the best analysis you can with the information you have collected.
Include what you've learned and what areas still need investigation.`

func buildIssuePrompt(repoURL string, issueNumber int, issueTitle, issueBody string) string {
	return fmt.Sprintf(`Analyze this GitHub issue and propose a solution:

**Issue #%d: %s**

%s

Repository: %s

Start by exploring the codebase structure, then find relevant files, analyze the issue, and propose a detailed solution.`,
		issueNumber, issueTitle, issueBody, repoURL)
}

// GenerateAnalysisMarkdown renders the solution as the ANALYSIS.md document
// committed to the repository. The template is deterministic: same solution,
// same document.
func GenerateAnalysisMarkdown(s *Solution, issueNumber int, issueTitle string) string {
	var lines []string

	add := func(ls ...string) { lines = append(lines, ls...) }

	add(
		fmt.Sprintf("# Issue Analysis: %s", issueTitle),
		"",
		"## Summary",
		"",
		valueOr(s.Summary, "No summary provided"),
		"",
		"## Root Cause Analysis",
		"",
		valueOr(s.RootCauseAnalysis, "Analysis in progress."),
		"",
		"## Affected Files",
		"",
	)

	if len(s.AffectedFiles) > 0 {
		for _, f := range s.AffectedFiles {
			add(fmt.Sprintf("- `%s`", f))
		}
	} else {
		add("- No specific files identified")
	}

	add("", "## Key Code Insights", "")

	if len(s.KeyInsights) > 0 {
		for _, insight := range s.KeyInsights {
			add(fmt.Sprintf("### `%s`", valueOr(insight.File, "Unknown file")))
			if insight.LineRange != "" {
				add(fmt.Sprintf("**Lines:** %s", insight.LineRange))
			}
			add("")
			if insight.Explanation != "" {
				add(insight.Explanation, "")
			}
			if insight.CodeSnippet != "" {
				add("```", insight.CodeSnippet, "```", "")
			}
		}
	} else {
		add("No specific insights documented.")
	}

	add("", "## Suggested Fix", "")
	add(valueOr(s.SuggestedFix, "See root cause analysis above."))

	add(
		"",
		"---",
		"",
		"## References",
		"",
		fmt.Sprintf("- Issue: #%d", issueNumber),
		"- Generated by OpenQuest Agent",
		"",
	)

	return strings.Join(lines, "\n")
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
