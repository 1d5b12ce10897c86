package rpc

// AnalyzeRequest starts an issue-analysis run.
type AnalyzeRequest struct {
	RepoURL     string `json:"repo_url"`
	IssueTitle  string `json:"issue_title"`
	IssueBody   string `json:"issue_body"`
	IssueNumber int    `json:"issue_number"`
	Model       string `json:"model,omitempty"`
}

// ImplementRequest pushes the solution from a previous analysis.
type ImplementRequest struct {
	SessionID     string `json:"session_id"`
	BranchName    string `json:"branch_name"`
	GitHubToken   string `json:"github_token"`
	CommitMessage string `json:"commit_message,omitempty"`
}

// AgentStreamRequest is the bidirectional stream payload for Connect RPC.
// The first message must carry exactly one of Analyze or Implement;
// subsequent messages can carry control signals.
type AgentStreamRequest struct {
	Analyze   *AnalyzeRequest   `json:"analyze,omitempty"`
	Implement *ImplementRequest `json:"implement,omitempty"`
	Cancel    bool              `json:"cancel,omitempty"`
}

// SessionResponse describes a stored analysis session.
type SessionResponse struct {
	SessionID       string `json:"session_id"`
	RepoURL         string `json:"repo_url"`
	IssueNumber     int    `json:"issue_number"`
	IssueTitle      string `json:"issue_title"`
	CreatedAt       string `json:"created_at"`
	ExpiresAt       string `json:"expires_at"`
	Status          string `json:"status"`
	SolutionSummary string `json:"solution_summary"`
}

// HealthChecks reports which required configuration is present.
type HealthChecks struct {
	LLMConfigured     bool `json:"llm_configured"`
	SandboxConfigured bool `json:"sandbox_configured"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status         string       `json:"status"`
	Checks         HealthChecks `json:"checks"`
	ActiveSessions int          `json:"active_sessions"`
}
