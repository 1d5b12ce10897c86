// Package github wraps the GitHub REST API for the narrow surface the
// implementation phase needs: identifying the token holder and checking
// that a fork exists before any sandbox work starts.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v66/github"
)

// Client talks to the GitHub API with a per-run token.
type Client struct {
	api *gh.Client
}

// NewClient builds a client authenticated with the given token.
func NewClient(token string) *Client {
	return &Client{api: gh.NewClient(nil).WithAuthToken(token)}
}

// Username returns the login of the authenticated user.
func (c *Client) Username(ctx context.Context) (string, error) {
	user, _, err := c.api.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("resolve authenticated user: %w", err)
	}
	if user.GetLogin() == "" {
		return "", fmt.Errorf("token resolved to a user without a login")
	}
	return user.GetLogin(), nil
}

// RepoExists reports whether owner/repo is reachable with the client's
// token. Only a definitive 404 counts as missing; any other failure mode
// (rate limit, transient error, private repo quirks) reports the repo as
// existing so the push path can surface the real error later.
func (c *Client) RepoExists(ctx context.Context, owner, repo string) (bool, error) {
	_, resp, err := c.api.Repositories.Get(ctx, owner, repo)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return true, nil
	}
	return true, nil
}

// ParseRepoURL extracts owner and repo from a GitHub URL such as
// https://github.com/owner/repo or https://github.com/owner/repo.git.
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	trimmed := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("cannot parse owner/repo from %q", repoURL)
	}
	owner = parts[len(parts)-2]
	repo = parts[len(parts)-1]
	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("cannot parse owner/repo from %q", repoURL)
	}
	return owner, repo, nil
}

// ForkCloneURL builds an authenticated HTTPS clone URL for user/repo.
func ForkCloneURL(token, user, repo string) string {
	return fmt.Sprintf("https://%s@github.com/%s/%s.git", token, user, repo)
}

// BranchURL builds the web URL of a branch on the user's fork.
func BranchURL(user, repo, branch string) string {
	return fmt.Sprintf("https://github.com/%s/%s/tree/%s", user, repo, branch)
}

// CompareURL builds the upstream compare URL that pre-fills a pull request
// from the fork branch against upstream main.
func CompareURL(upstreamOwner, repo, user, branch string) string {
	return fmt.Sprintf("https://github.com/%s/%s/compare/main...%s:%s:%s?expand=1",
		upstreamOwner, repo, user, repo, branch)
}
