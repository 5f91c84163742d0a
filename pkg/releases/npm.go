package releases

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	toolhttp "github.com/flanksource/toolchain/pkg/http"
	"github.com/flanksource/toolchain/pkg/version"
)

const DefaultNpmRegistry = "https://registry.npmjs.org"

// NpmPackage is the subset of registry metadata used for installs.
type NpmPackage struct {
	Name         string
	Version      string
	Tarball      string
	UnpackedSize int64
}

// NpmRegistry reads package metadata from an npm compatible registry.
type NpmRegistry struct {
	URL    string
	Client *http.Client
}

func (r NpmRegistry) packageURL(name string) string {
	registry := strings.TrimSuffix(r.URL, "/")
	if registry == "" {
		registry = DefaultNpmRegistry
	}
	// @scope/name -> @scope%2Fname
	return registry + "/" + url.PathEscape(name)
}

// Resolve returns metadata for requested, which may be empty or "latest"
// (the latest dist-tag), a partial version, or an exact version.
func (r NpmRegistry) Resolve(ctx context.Context, name, requested string) (*NpmPackage, error) {
	body, err := toolhttp.Get(ctx, r.Client, r.packageURL(name))
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid registry document for %s", name)
	}

	var v string
	switch {
	case requested == "" || requested == "latest":
		v = gjson.GetBytes(body, "dist-tags.latest").String()
	case version.IsPartialVersion(requested):
		var candidates []string
		gjson.GetBytes(body, "versions").ForEach(func(key, _ gjson.Result) bool {
			candidates = append(candidates, key.String())
			return true
		})
		v, err = version.Latest(candidates, version.ToConstraint(requested, ""))
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s", ErrNoMatch, name, err)
		}
	default:
		v = version.Normalize(requested)
	}

	entry := gjson.GetBytes(body, "versions."+gjson.Escape(v))
	if v == "" || !entry.Exists() {
		return nil, fmt.Errorf("%w: %s has no version %q", ErrNoMatch, name, requested)
	}
	return &NpmPackage{
		Name:         name,
		Version:      v,
		Tarball:      entry.Get("dist.tarball").String(),
		UnpackedSize: entry.Get("dist.unpackedSize").Int(),
	}, nil
}
