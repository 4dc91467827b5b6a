package issue

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rowanlane/convoy/internal/logging"
)

// runner executes a command and returns its combined output.
// Swappable in tests to avoid invoking the real gh CLI.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// GitHub is a Provider backed by the gh CLI. Authentication and API
// transport are delegated entirely to gh.
type GitHub struct {
	repo   string // owner/name slug
	run    runner
	logger *logging.Logger
}

// NewGitHub creates a GitHub provider for the given owner/name repository.
func NewGitHub(repo string, logger *logging.Logger) *GitHub {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &GitHub{
		repo:   repo,
		run:    execRunner,
		logger: logger,
	}
}

// ghIssue mirrors the JSON shape emitted by `gh issue list/view --json`.
type ghIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	URL    string `json:"url"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

func (g *ghIssue) toWorkItem() WorkItem {
	item := WorkItem{
		ID:    fmt.Sprintf("%d", g.Number),
		Title: g.Title,
		Body:  g.Body,
		State: strings.ToLower(g.State),
		URL:   g.URL,
	}
	for _, l := range g.Labels {
		item.Labels = append(item.Labels, l.Name)
	}
	return item
}

// Connect verifies the gh CLI is present and authenticated.
func (g *GitHub) Connect(ctx context.Context) error {
	return g.CheckAuth(ctx)
}

// Disconnect is a no-op: gh holds no persistent connection.
func (g *GitHub) Disconnect() error { return nil }

// CheckAuth verifies gh credentials via `gh auth status`.
func (g *GitHub) CheckAuth(ctx context.Context) error {
	output, err := g.run(ctx, "gh", "auth", "status")
	if err != nil {
		return fmt.Errorf("gh auth check failed: %w\noutput: %s", err, string(output))
	}
	return nil
}

// FetchIssues returns open issues carrying the given label.
func (g *GitHub) FetchIssues(ctx context.Context, label string) ([]WorkItem, error) {
	args := []string{
		"issue", "list",
		"--repo", g.repo,
		"--state", "open",
		"--json", "number,title,body,state,url,labels",
		"--limit", "200",
	}
	if label != "" {
		args = append(args, "--label", label)
	}

	output, err := g.run(ctx, "gh", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues for %s: %w\noutput: %s", g.repo, err, string(output))
	}

	var raw []ghIssue
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse gh issue list output: %w", err)
	}

	items := make([]WorkItem, 0, len(raw))
	for i := range raw {
		items = append(items, raw[i].toWorkItem())
	}

	g.logger.Info("fetched issues", "repo", g.repo, "label", label, "count", len(items))
	return items, nil
}

// GetIssue returns a single issue by number.
func (g *GitHub) GetIssue(ctx context.Context, id string) (*WorkItem, error) {
	output, err := g.run(ctx, "gh", "issue", "view", id,
		"--repo", g.repo,
		"--json", "number,title,body,state,url,labels",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to view issue %s: %w\noutput: %s", id, err, string(output))
	}

	var raw ghIssue
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse gh issue view output: %w", err)
	}

	item := raw.toWorkItem()
	return &item, nil
}

// CreatePR opens a pull request via `gh pr create` and returns its URL.
func (g *GitHub) CreatePR(ctx context.Context, pr PullRequest) (string, error) {
	args := []string{
		"pr", "create",
		"--repo", g.repo,
		"--title", pr.Title,
		"--body", pr.Body,
		"--head", pr.Head,
		"--base", pr.Base,
	}
	if pr.Draft {
		args = append(args, "--draft")
	}

	output, err := g.run(ctx, "gh", args...)
	if err != nil {
		return "", fmt.Errorf("failed to create PR for %s: %w\noutput: %s", pr.Head, err, string(output))
	}

	// gh prints the PR URL as the last non-empty line.
	url := lastLine(string(output))
	g.logger.Info("created pull request", "head", pr.Head, "url", url)
	return url, nil
}

// CommentIssue adds a comment to an issue.
func (g *GitHub) CommentIssue(ctx context.Context, id, body string) error {
	output, err := g.run(ctx, "gh", "issue", "comment", id,
		"--repo", g.repo,
		"--body", body,
	)
	if err != nil {
		return fmt.Errorf("failed to comment on issue %s: %w\noutput: %s", id, err, string(output))
	}
	return nil
}

// lastLine returns the last non-empty line of s.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

var _ Provider = (*GitHub)(nil)
