package cache

import (
	"net/url"
	"sort"
	"strings"
)

// Key builds the cache key for a resource request. Owner and repo are
// case-insensitive upstream and are lower-cased; params are sorted so that
// identical requests always produce the same key.
//
// Layout: kind:owner/repo[:path][?k=v&...]
func Key(kind Kind, owner, repo, path string, params map[string]string) string {
	var b strings.Builder
	b.WriteString(string(kind))
	b.WriteByte(':')
	b.WriteString(strings.ToLower(owner))
	b.WriteByte('/')
	b.WriteString(strings.ToLower(repo))
	if path != "" {
		b.WriteByte(':')
		b.WriteString(path)
	}
	if len(params) > 0 {
		names := make([]string, 0, len(params))
		for k := range params {
			names = append(names, k)
		}
		sort.Strings(names)

		b.WriteByte('?')
		for i, k := range names {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(params[k]))
		}
	}
	return b.String()
}

// Namespace returns the key prefix shared by every key of kind for a repository.
func Namespace(kind Kind, owner, repo string) string {
	return string(kind) + ":" + strings.ToLower(owner) + "/" + strings.ToLower(repo) + ":"
}
