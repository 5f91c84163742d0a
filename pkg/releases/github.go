package releases

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/flanksource/commons/logger"
	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/flanksource/toolchain/pkg/version"
)

// TokenEnvVars are checked in order for a GitHub token.
var TokenEnvVars = []string{"GITHUB_TOKEN", "GH_TOKEN", "GITHUB_ACCESS_TOKEN"}

const tagVersionPattern = `v?(\d+\.\d+\.\d+)`

// GitHubReleases finds release assets in a GitHub repository.
type GitHubReleases struct {
	client      *github.Client
	tokenSource string
}

// NewGitHubReleases creates a client authenticated with the first token
// found in TokenEnvVars, or anonymous (60 requests/hour) without one.
func NewGitHubReleases() *GitHubReleases {
	for _, name := range TokenEnvVars {
		if token := os.Getenv(name); token != "" {
			return newGitHubReleases(token, name)
		}
	}
	return newGitHubReleases("", "")
}

func newGitHubReleases(token, source string) *GitHubReleases {
	if token == "" {
		return &GitHubReleases{client: github.NewClient(nil)}
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	return &GitHubReleases{client: github.NewClient(tc), tokenSource: source}
}

// WithBaseURL points the client at a different API root.
func (g *GitHubReleases) WithBaseURL(base string) (*GitHubReleases, error) {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	g.client.BaseURL = u
	return g, nil
}

// FindAsset returns the asset matching pattern from the latest release, or
// from the newest release whose tag starts with the requested version.
// git-for-windows tags look like v2.43.0.windows.1.
func (g *GitHubReleases) FindAsset(ctx context.Context, repo, requested, pattern string) (*Asset, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("invalid repo format: %s (expected owner/repo)", repo)
	}

	release, err := g.findRelease(ctx, owner, name, requested)
	if err != nil {
		return nil, err
	}

	tag := release.GetTagName()
	v, err := version.ExtractFromOutput(tag, tagVersionPattern)
	if err != nil {
		v = version.Normalize(tag)
	}

	for _, asset := range release.Assets {
		matched, err := doublestar.Match(pattern, asset.GetName())
		if err != nil {
			return nil, fmt.Errorf("invalid asset pattern %q: %w", pattern, err)
		}
		if matched {
			logger.V(2).Infof("resolved %s %s asset %s", repo, tag, asset.GetName())
			return &Asset{
				Name:    asset.GetName(),
				URL:     asset.GetBrowserDownloadURL(),
				Version: v,
				Size:    int64(asset.GetSize()),
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: no asset matching %s in %s %s", ErrNoMatch, pattern, repo, tag)
}

func (g *GitHubReleases) findRelease(ctx context.Context, owner, repo, requested string) (*github.RepositoryRelease, error) {
	if requested == "" || requested == "latest" {
		release, _, err := g.client.Repositories.GetLatestRelease(ctx, owner, repo)
		if err != nil {
			return nil, g.wrap(owner, repo, err)
		}
		return release, nil
	}

	releases, _, err := g.client.Repositories.ListReleases(ctx, owner, repo, &github.ListOptions{PerPage: 100})
	if err != nil {
		return nil, g.wrap(owner, repo, err)
	}
	want := version.Normalize(requested)
	for _, release := range releases {
		if release.GetPrerelease() || release.GetDraft() {
			continue
		}
		tag := version.Normalize(release.GetTagName())
		if tag == want || strings.HasPrefix(tag, want+".") {
			return release, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s has no release %s", ErrNoMatch, owner, repo, requested)
}

func (g *GitHubReleases) wrap(owner, repo string, err error) error {
	msg := fmt.Sprintf("failed to query releases for %s/%s", owner, repo)
	var limited *github.RateLimitError
	if errors.As(err, &limited) && g.tokenSource == "" {
		msg += fmt.Sprintf(" (rate limited, set %s)", TokenEnvVars[0])
	}
	return fmt.Errorf("%s: %w", msg, err)
}
