package issues

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v59/github"

	"github.com/simon020286/nightly/models"
)

const (
	defaultAPIURL = "https://api.github.com/"
	perPage       = 100
)

// GitHubTracker implements Tracker over the GitHub REST API
type GitHubTracker struct {
	client *github.Client
	owner  string
	repo   string
}

// NewGitHubTracker creates a tracker for repository ("owner/name").
// apiURL may point to a GitHub Enterprise API; empty means github.com.
func NewGitHubTracker(token, repository, apiURL string) (*GitHubTracker, error) {
	if token == "" {
		return nil, models.ErrMissingToken
	}

	client := github.NewClient(nil).WithAuthToken(token)
	if apiURL != "" && strings.TrimRight(apiURL, "/")+"/" != defaultAPIURL {
		base, err := url.Parse(strings.TrimRight(apiURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid API URL '%s': %w", apiURL, err)
		}
		client.BaseURL = base
	}
	return NewGitHubTrackerWithClient(client, repository)
}

// NewGitHubTrackerWithClient creates a tracker using an existing client
func NewGitHubTrackerWithClient(client *github.Client, repository string) (*GitHubTracker, error) {
	owner, repo, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("%w: '%s' is not owner/name", models.ErrMissingRepository, repository)
	}
	return &GitHubTracker{client: client, owner: owner, repo: repo}, nil
}

func (t *GitHubTracker) FindOpen(ctx context.Context, title string) (*Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	for {
		list, resp, err := t.client.Issues.ListByRepo(ctx, t.owner, t.repo, opts)
		if err != nil {
			return nil, err
		}
		for _, issue := range list {
			if issue.IsPullRequest() || issue.GetTitle() != title {
				continue
			}
			return toIssue(issue), nil
		}
		if resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}

func (t *GitHubTracker) Create(ctx context.Context, title, body string, labels []string) (*Issue, error) {
	req := &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	}
	if len(labels) > 0 {
		req.Labels = &labels
	}

	issue, _, err := t.client.Issues.Create(ctx, t.owner, t.repo, req)
	if err != nil {
		return nil, err
	}
	return toIssue(issue), nil
}

func (t *GitHubTracker) Comment(ctx context.Context, number int, body string) error {
	_, _, err := t.client.Issues.CreateComment(ctx, t.owner, t.repo, number, &github.IssueComment{Body: github.String(body)})
	return err
}

func (t *GitHubTracker) Close(ctx context.Context, number int) error {
	_, _, err := t.client.Issues.Edit(ctx, t.owner, t.repo, number, &github.IssueRequest{State: github.String("closed")})
	return err
}

func toIssue(issue *github.Issue) *Issue {
	return &Issue{
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		URL:    issue.GetHTMLURL(),
	}
}
