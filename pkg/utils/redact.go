package utils

import (
	"net/url"
	"slices"
	"strings"
)

const redacted = "***"

// RedactURL replaces any userinfo in a URL with ***
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User(redacted)
	return strings.Replace(u.String(), url.PathEscape(redacted), redacted, 1)
}

// Sanitize removes every occurrence of the given secrets, and of their
// user:secret parts, from s. Percent-escaped forms are removed too, since a
// secret placed in a URL is logged escaped.
func Sanitize(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		parts := []string{secret}
		if user, pass, ok := strings.Cut(secret, ":"); ok {
			if pass != "" {
				parts = append(parts, pass)
			} else if user != "" {
				parts = append(parts, user)
			}
		}
		for _, part := range parts {
			for _, form := range escapedForms(part) {
				s = strings.ReplaceAll(s, form, redacted)
			}
		}
	}
	return s
}

// escapedForms lists secret as written and as escaped in userinfo, paths and
// queries, longest first.
func escapedForms(secret string) []string {
	forms := []string{secret}
	for _, escaped := range []string{
		url.User(secret).String(),
		url.PathEscape(secret),
		url.QueryEscape(secret),
	} {
		if !slices.Contains(forms, escaped) {
			forms = append(forms, escaped)
		}
	}
	slices.SortStableFunc(forms, func(a, b string) int { return len(b) - len(a) })
	return forms
}
