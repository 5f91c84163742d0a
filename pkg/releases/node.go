package releases

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/samber/lo"

	toolhttp "github.com/flanksource/toolchain/pkg/http"
	"github.com/flanksource/toolchain/pkg/version"
)

const NodeIndexURL = "https://nodejs.org/dist/index.json"

// NodeRelease is one entry of the nodejs.org dist index. LTS is either
// false or the codename of the release line.
type NodeRelease struct {
	Version string          `json:"version"`
	Date    string          `json:"date"`
	Files   []string        `json:"files"`
	LTS     json.RawMessage `json:"lts"`
}

func (r NodeRelease) IsLTS() bool {
	return len(r.LTS) > 0 && string(r.LTS) != "false" && string(r.LTS) != "null"
}

// NodeIndex resolves node versions from the dist index.
type NodeIndex struct {
	URL    string
	Client *http.Client
}

func (n NodeIndex) Releases(ctx context.Context) ([]NodeRelease, error) {
	index := n.URL
	if index == "" {
		index = NodeIndexURL
	}
	var releases []NodeRelease
	if err := toolhttp.GetJSON(ctx, n.Client, index, &releases); err != nil {
		return nil, err
	}
	return releases, nil
}

// Resolve returns a concrete version. A full x.y.z request is returned as
// is; otherwise the newest LTS release satisfying the requested partial
// version (or >= minimum) is chosen.
func (n NodeIndex) Resolve(ctx context.Context, requested, minimum string) (string, error) {
	if requested != "" && requested != "latest" && !version.IsPartialVersion(requested) {
		return version.Normalize(requested), nil
	}

	releases, err := n.Releases(ctx)
	if err != nil {
		return "", err
	}

	constraint := version.ToConstraint(requested, minimum)
	lts := lo.FilterMap(releases, func(r NodeRelease, _ int) (string, bool) {
		return r.Version, r.IsLTS()
	})
	if v, err := version.Latest(lts, constraint); err == nil {
		return v, nil
	}

	// an odd major such as "21" has no LTS releases
	all := lo.Map(releases, func(r NodeRelease, _ int) string { return r.Version })
	v, err := version.Latest(all, constraint)
	if err != nil {
		return "", fmt.Errorf("%w: node %s", ErrNoMatch, err)
	}
	return v, nil
}
