// Package issue provides a provider-agnostic interface to the hosted
// issue/PR tracking platform, plus a GitHub adapter that shells out to
// the gh CLI.
package issue

import "context"

// WorkItem is an externally tracked unit of work driving one pipeline run.
// It is fetched once at fleet start and read-only afterwards.
type WorkItem struct {
	// ID is the platform identifier, e.g. the issue number as a string.
	ID string `json:"id"`

	// Title is the issue title.
	Title string `json:"title"`

	// Body is the full issue description.
	Body string `json:"body"`

	// Labels are the platform labels attached to the issue.
	Labels []string `json:"labels"`

	// State is the platform state ("open", "closed").
	State string `json:"state"`

	// URL is the canonical link to the issue.
	URL string `json:"url,omitempty"`
}

// PullRequest describes a pull request to create for a finished item.
type PullRequest struct {
	Title string
	Body  string
	Head  string // branch containing the work
	Base  string // branch to merge into
	Draft bool
}

// Provider is the platform adapter consumed by the fleet coordinator.
// Implementations must be safe for concurrent use: multiple item
// pipelines create PRs and comment on issues in parallel.
type Provider interface {
	// Connect prepares the provider for use.
	Connect(ctx context.Context) error

	// Disconnect releases provider resources.
	Disconnect() error

	// CheckAuth verifies the provider's credentials are usable.
	CheckAuth(ctx context.Context) error

	// FetchIssues returns open issues carrying the given label.
	// An empty label returns all open issues.
	FetchIssues(ctx context.Context, label string) ([]WorkItem, error)

	// GetIssue returns a single issue by ID.
	GetIssue(ctx context.Context, id string) (*WorkItem, error)

	// CreatePR opens a pull request and returns its URL.
	CreatePR(ctx context.Context, pr PullRequest) (string, error)

	// CommentIssue adds a comment to an issue.
	CommentIssue(ctx context.Context, id, body string) error
}
