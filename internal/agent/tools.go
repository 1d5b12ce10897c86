package agent

import (
	"encoding/json"

	"github.com/Jacky040124/openquest/internal/llm"
)

// Tool names understood by the executor. The set is fixed at process start.
const (
	ToolReadFile    = "read_file"
	ToolListFiles   = "list_files"
	ToolSearchCode  = "search_code"
	ToolRunCommand  = "run_command"
	ToolGetFileTree = "get_file_tree"
	ToolWriteFile   = "write_file"
)

var toolDefinitions = []llm.Tool{
	{
		Name:        ToolReadFile,
		Description: "Read the contents of a file in the repository. Use this to understand code structure and implementation details.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "File path relative to repository root (e.g., 'src/main.py', 'README.md')"
				}
			},
			"required": ["path"]
		}`),
	},
	{
		Name:        ToolListFiles,
		Description: "List files and directories in a given path. Use this to explore the project structure.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "Directory path relative to repository root. Use '.' for root directory.",
					"default": "."
				}
			}
		}`),
	},
	{
		Name:        ToolSearchCode,
		Description: "Search for a pattern in the codebase using grep. Use this to find relevant code sections.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern": {
					"type": "string",
					"description": "Search pattern (supports regex)"
				},
				"file_pattern": {
					"type": "string",
					"description": "Optional file glob pattern to limit search (e.g., '*.py', '*.ts')"
				}
			},
			"required": ["pattern"]
		}`),
	},
	{
		Name:        ToolRunCommand,
		Description: "Run a shell command in the repository. Use this to run tests, check dependencies, or execute other commands.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {
					"type": "string",
					"description": "Shell command to execute (e.g., 'npm test', 'python -m pytest')"
				}
			},
			"required": ["command"]
		}`),
	},
	{
		Name:        ToolGetFileTree,
		Description: "Get the directory structure of the repository as a tree. Use this to understand overall project layout.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"max_depth": {
					"type": "integer",
					"description": "Maximum depth of the tree (default: 3)",
					"default": 3
				}
			}
		}`),
	},
	{
		Name:        ToolWriteFile,
		Description: "Write content to a file in the repository, creating or overwriting it.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "File path relative to repository root"
				},
				"content": {
					"type": "string",
					"description": "Full file content to write"
				}
			},
			"required": ["path", "content"]
		}`),
	},
}

// Tools returns the static tool definitions advertised to the model.
func Tools() []llm.Tool {
	out := make([]llm.Tool, len(toolDefinitions))
	copy(out, toolDefinitions)
	return out
}

// DescribeTool returns the definition for a tool name.
func DescribeTool(name string) (llm.Tool, bool) {
	for _, t := range toolDefinitions {
		if t.Name == name {
			return t, true
		}
	}
	return llm.Tool{}, false
}

// ToolNames returns the registered tool names in declaration order.
func ToolNames() []string {
	out := make([]string, 0, len(toolDefinitions))
	for _, t := range toolDefinitions {
		out = append(out, t.Name)
	}
	return out
}
