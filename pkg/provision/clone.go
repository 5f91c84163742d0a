package provision

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/flanksource/commons/logger"

	"github.com/flanksource/toolchain/pkg/supervisor"
	"github.com/flanksource/toolchain/pkg/types"
	"github.com/flanksource/toolchain/pkg/utils"
)

// CloneResult describes a repository clone
type CloneResult struct {
	Path    string `json:"path"`
	Skipped bool   `json:"skipped,omitempty"`
	Output  string `json:"output,omitempty"`
}

// CloneRepository makes a shallow clone of repoURL into dest. An existing,
// non-empty dest is reused as is. token, either "secret" or "user:secret",
// is placed in the URL authority and removed from every error and log line.
func (s *Service) CloneRepository(ctx context.Context, repoURL, dest, token string) (*CloneResult, error) {
	d, err := s.orchestrator.Detector(types.ToolGit)
	if err != nil {
		return nil, err
	}
	info, err := d.Detect(ctx)
	if err != nil {
		return nil, types.NotInstalledError(types.ToolGit, "git is not usable: %s", utils.Sanitize(err.Error(), token))
	}
	if !info.Installed {
		return nil, types.NotInstalledError(types.ToolGit, "git is required to clone repositories")
	}

	dest, err = filepath.Abs(dest)
	if err != nil {
		return nil, err
	}
	if entries, err := os.ReadDir(dest); err == nil && len(entries) > 0 {
		logger.Warnf("%s already exists, using the existing repository", utils.LogPath(dest))
		return &CloneResult{Path: dest, Skipped: true}, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, err
	}

	cloneURL, err := authenticate(repoURL, token)
	if err != nil {
		return nil, err
	}

	logger.Infof("cloning %s into %s", utils.RedactURL(repoURL), utils.LogPath(dest))
	result, err := s.supervisor.Run(ctx, supervisor.SpawnRequest{
		Command: info.ExecutablePath,
		Args:    []string{"clone", "--depth", "1", cloneURL, dest},
		Type:    supervisor.ManagedTask,
		Label:   "clone",
		Env:     map[string]string{"GIT_TERMINAL_PROMPT": "0"},
		Secrets: []string{token},
	})
	var output string
	if result != nil {
		output = utils.Sanitize(result.Output, token)
		s.supervisor.Unregister(result.RunID)
	}
	if err != nil {
		var pe *types.ProvisionError
		if errors.As(err, &pe) {
			pe.Op = utils.Sanitize(pe.Op, token)
			pe.Message = utils.Sanitize(pe.Message, token)
			if pe.Err != nil {
				pe.Err = errors.New(utils.Sanitize(pe.Err.Error(), token))
			}
			return nil, pe
		}
		return nil, fmt.Errorf("failed to clone %s: %s", utils.RedactURL(repoURL), utils.Sanitize(err.Error(), token))
	}
	return &CloneResult{Path: dest, Output: output}, nil
}

// authenticate puts token into the authority of repoURL
func authenticate(repoURL, token string) (string, error) {
	if token == "" {
		return repoURL, nil
	}
	u, err := url.Parse(repoURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("cannot add credentials to %s", utils.RedactURL(repoURL))
	}
	if user, secret, ok := strings.Cut(token, ":"); ok {
		u.User = url.UserPassword(user, secret)
	} else {
		u.User = url.User(token)
	}
	return u.String(), nil
}
