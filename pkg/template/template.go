package template

import (
	"fmt"
	"path"

	"github.com/flanksource/gomplate/v3"
	"github.com/flanksource/toolchain/pkg/platform"
	"github.com/flanksource/toolchain/pkg/version"
)

// RenderTemplate renders a template string using flanksource/gomplate
func RenderTemplate(templateStr string, data map[string]any) (string, error) {
	result, err := gomplate.RunTemplate(data, gomplate.Template{
		Template: templateStr,
	})
	if err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}
	return result, nil
}

// Data builds the template variables for a version on a platform.
// Keys: version (no v prefix), tag (as given), os, arch, nodeOS, nodeArch, ext.
func Data(v string, p platform.Platform) map[string]any {
	data := p.TemplateData()
	data["version"] = version.Normalize(v)
	data["tag"] = v
	return data
}

// TemplateURL renders urlTemplate for a version on a platform and returns the
// URL and the filename it points at
func TemplateURL(urlTemplate, v string, p platform.Platform, extra map[string]any) (string, string, error) {
	data := Data(v, p)
	for k, val := range extra {
		data[k] = val
	}
	url, err := RenderTemplate(urlTemplate, data)
	if err != nil {
		return "", "", err
	}
	return url, path.Base(url), nil
}
