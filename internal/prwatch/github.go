package prwatch

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v68/github"
	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/gitexec"
	"golang.org/x/oauth2"
)

// DefaultMaxPRs caps how many PRs have their files listed per fetch.
const DefaultMaxPRs = 10

// filesPerPage is the page size for PR file listings.
const filesPerPage = 100

// GitHubFetcher lists open PRs through the GitHub REST API.
type GitHubFetcher struct {
	client *github.Client
	runner gitexec.Runner
	owner  string
	repo   string
	maxPRs int
}

// NewGitHubFetcher builds a fetcher from the pr_watch config. Owner and repo
// may be left empty to derive them from the origin remote of each cwd.
func NewGitHubFetcher(cfg config.PRWatchConfig, runner gitexec.Runner) (*GitHubFetcher, error) {
	var httpClient *http.Client
	if token := cfg.ResolvedToken(); token != "" {
		httpClient = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	client := github.NewClient(httpClient)

	if cfg.APIURL != "" {
		base := cfg.APIURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("prwatch: parse api url %q: %w", cfg.APIURL, err)
		}
		client.BaseURL = u
	}

	maxPRs := cfg.MaxPRs
	if maxPRs <= 0 {
		maxPRs = DefaultMaxPRs
	}
	if runner == nil {
		runner = gitexec.ExecRunner{}
	}
	return &GitHubFetcher{
		client: client,
		runner: runner,
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		maxPRs: maxPRs,
	}, nil
}

// ListOpenPRs returns up to maxPRs open PRs targeting base with their
// changed files. A PR whose files cannot be listed is skipped.
func (f *GitHubFetcher) ListOpenPRs(ctx context.Context, cwd, base string) ([]PullRequestInfo, error) {
	owner, repo, err := f.resolveRepo(ctx, cwd)
	if err != nil {
		return nil, err
	}

	prs, _, err := f.client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State:       "open",
		Base:        base,
		ListOptions: github.ListOptions{PerPage: f.maxPRs},
	})
	if err != nil {
		return nil, fmt.Errorf("prwatch: list PRs for %s/%s: %w", owner, repo, err)
	}
	if len(prs) > f.maxPRs {
		prs = prs[:f.maxPRs]
	}

	infos := make([]PullRequestInfo, 0, len(prs))
	for _, pr := range prs {
		files, _, err := f.client.PullRequests.ListFiles(ctx, owner, repo, pr.GetNumber(), &github.ListOptions{PerPage: filesPerPage})
		if err != nil {
			log.Printf("prwatch: files for PR #%d: %v", pr.GetNumber(), err)
			continue
		}
		paths := make([]string, 0, len(files))
		for _, cf := range files {
			paths = append(paths, cf.GetFilename())
		}
		infos = append(infos, PullRequestInfo{
			Number:    pr.GetNumber(),
			Title:     pr.GetTitle(),
			Author:    pr.GetUser().GetLogin(),
			Branch:    pr.GetHead().GetRef(),
			Files:     paths,
			URL:       pr.GetHTMLURL(),
			CreatedAt: pr.GetCreatedAt().Time,
		})
	}
	return infos, nil
}

func (f *GitHubFetcher) resolveRepo(ctx context.Context, cwd string) (string, string, error) {
	if f.owner != "" && f.repo != "" {
		return f.owner, f.repo, nil
	}
	if cwd == "" {
		return "", "", fmt.Errorf("prwatch: owner/repo not configured and no working directory given")
	}
	remote, err := gitexec.NewGit(f.runner, cwd).RemoteURL(ctx, "origin")
	if err != nil {
		return "", "", fmt.Errorf("prwatch: resolve repo: %w", err)
	}
	owner, repo, ok := parseRemote(remote)
	if !ok {
		return "", "", fmt.Errorf("prwatch: cannot parse owner/repo from remote %q", remote)
	}
	return owner, repo, nil
}

// parseRemote extracts owner and repo from an scp-style, https or ssh
// remote URL.
func parseRemote(remote string) (string, string, bool) {
	remote = strings.TrimSpace(remote)
	var p string
	switch {
	case strings.Contains(remote, "://"):
		u, err := url.Parse(remote)
		if err != nil {
			return "", "", false
		}
		p = u.Path
	case strings.Contains(remote, ":"):
		p = remote[strings.Index(remote, ":")+1:]
	default:
		return "", "", false
	}
	p = strings.TrimSuffix(strings.Trim(p, "/"), ".git")
	parts := strings.Split(p, "/")
	if len(parts) < 2 {
		return "", "", false
	}
	owner, repo := parts[len(parts)-2], parts[len(parts)-1]
	if owner == "" || repo == "" {
		return "", "", false
	}
	return owner, repo, true
}
