// Package ledger holds the shared, read-only view of the ledger that every
// account proxy and the notification router consult.
package ledger

import (
	"errors"
	"regexp"
	"strings"
)

// URL template keys published in the ledger metadata document.
const (
	URLAccount   = "account"
	URLTransfer  = "transfer"
	URLMessage   = "message"
	URLWebsocket = "websocket"
)

const namePlaceholder = ":name"

// ErrNoAccountTemplate is returned when the metadata lacks an account URL template.
var ErrNoAccountTemplate = errors.New("ledger metadata has no account url template")

// Context is the immutable ledger metadata captured when the admin connection
// is established. It is safe for concurrent use.
type Context struct {
	prefix string
	urls   map[string]string

	accountPattern *regexp.Regexp
}

// NewContext builds a Context from the ledger's URL templates.
// The account template must contain the ":name" placeholder.
func NewContext(prefix string, urls map[string]string) (*Context, error) {
	tmpl, ok := urls[URLAccount]
	if !ok || !strings.Contains(tmpl, namePlaceholder) {
		return nil, ErrNoAccountTemplate
	}

	copied := make(map[string]string, len(urls))
	for k, v := range urls {
		copied[k] = v
	}

	quoted := regexp.QuoteMeta(tmpl)
	pattern := "^" + strings.Replace(quoted, namePlaceholder, "([^/?#]+)", 1) + "$"

	return &Context{
		prefix:         prefix,
		urls:           copied,
		accountPattern: regexp.MustCompile(pattern),
	}, nil
}

// Prefix returns the ledger's address prefix.
func (c *Context) Prefix() string {
	return c.prefix
}

// URL returns the template registered under key, or "" if absent.
func (c *Context) URL(key string) string {
	return c.urls[key]
}

// AccountName extracts the account name from an account URI.
// Returns "" when the URI does not match the account template.
func (c *Context) AccountName(uri string) string {
	m := c.accountPattern.FindStringSubmatch(uri)
	if len(m) != 2 {
		return ""
	}
	return m[1]
}

// AccountURI is the inverse of AccountName.
func (c *Context) AccountURI(name string) string {
	return strings.Replace(c.urls[URLAccount], "/"+namePlaceholder, "/"+name, 1)
}
