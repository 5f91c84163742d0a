package releases

import (
	"context"
	"time"
)

// AuthStatus describes the GitHub credentials used to resolve release assets
type AuthStatus struct {
	TokenSource   string     `json:"token_source,omitempty"`
	Authenticated bool       `json:"authenticated"`
	Login         string     `json:"login,omitempty"`
	Name          string     `json:"name,omitempty"`
	Remaining     int        `json:"remaining"`
	Limit         int        `json:"limit"`
	ResetAt       *time.Time `json:"reset_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Low reports whether fewer than 10 core API requests remain
func (s AuthStatus) Low() bool {
	return s.Limit > 0 && s.Remaining < 10
}

// WhoAmI reports the token in use, its user and the core rate limit
func (g *GitHubReleases) WhoAmI(ctx context.Context) AuthStatus {
	status := AuthStatus{TokenSource: g.tokenSource}

	if limits, _, err := g.client.RateLimit.Get(ctx); err != nil {
		status.Error = err.Error()
	} else if core := limits.GetCore(); core != nil {
		status.Remaining, status.Limit = core.Remaining, core.Limit
		reset := core.Reset.Time
		status.ResetAt = &reset
	}

	if g.tokenSource == "" {
		return status
	}
	user, _, err := g.client.Users.Get(ctx, "")
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Authenticated = true
	status.Login, status.Name = user.GetLogin(), user.GetName()
	return status
}
