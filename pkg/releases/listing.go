package releases

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/samber/lo"
	"golang.org/x/net/html"

	toolhttp "github.com/flanksource/toolchain/pkg/http"
	"github.com/flanksource/toolchain/pkg/version"
)

// Listing scrapes an HTML index page for artifact links.
type Listing struct {
	URL    string
	Client *http.Client
}

// Links returns every href on the page, resolved against the page URL.
func (l Listing) Links(ctx context.Context) ([]string, error) {
	body, err := toolhttp.Get(ctx, l.Client, l.URL)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(l.URL)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", l.URL, err)
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				if ref, err := url.Parse(strings.TrimSpace(attr.Val)); err == nil {
					links = append(links, base.ResolveReference(ref).String())
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return lo.Uniq(links), nil
}

// FindAsset returns the highest versioned file name on the page matching
// pattern. Any path segment of a link may match, so both direct links and
// mirror style ".../files/<name>/download" links are recognised. The
// returned URL is the link itself; callers may re-render it from a template.
func (l Listing) FindAsset(ctx context.Context, requested, pattern string) (*Asset, error) {
	links, err := l.Links(ctx)
	if err != nil {
		return nil, err
	}

	var best *Asset
	for _, link := range links {
		name, ok := matchSegment(link, pattern)
		if !ok {
			continue
		}
		v, err := version.ExtractFromOutput(name, "")
		if err != nil {
			continue
		}
		if requested != "" && requested != "latest" {
			want := version.Normalize(requested)
			if v != want && !strings.HasPrefix(v, want+".") {
				continue
			}
		}
		if best == nil || version.Compare(v, best.Version) > 0 {
			best = &Asset{Name: name, URL: link, Version: v}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no link matching %s on %s", ErrNoMatch, pattern, l.URL)
	}
	return best, nil
}

func matchSegment(link, pattern string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	for _, segment := range strings.Split(u.Path, "/") {
		if segment == "" {
			continue
		}
		if ok, _ := doublestar.Match(pattern, segment); ok {
			return segment, true
		}
	}
	return "", false
}
