// Package releases discovers upstream versions and artifact URLs for tools
// whose download location is not a plain template.
package releases

import (
	"errors"
	"fmt"
)

// ErrNoMatch is returned when no release or asset satisfies a request.
var ErrNoMatch = errors.New("no matching release")

// Asset is a downloadable artifact resolved from an upstream index.
type Asset struct {
	Name    string
	URL     string
	Version string
	Size    int64
}

func (a Asset) String() string {
	return fmt.Sprintf("%s@%s (%s)", a.Name, a.Version, a.URL)
}
