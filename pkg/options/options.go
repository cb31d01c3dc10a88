// Package options holds the per-concern option groups bound to CLI flags,
// environment variables and the config file.
package options

import (
	"strings"

	"github.com/spf13/pflag"
)

// IOptions is implemented by every option group.
type IOptions interface {
	// Validate reports every invalid field, nil when the group is usable.
	Validate() []error

	// AddFlags binds the group to fs under the given prefixes.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// Join builds a flag name prefix: Join("a", "b") is "a.b.", Join() is "".
func Join(prefixes ...string) string {
	p := strings.Join(prefixes, ".")
	if p == "" {
		return ""
	}
	return p + "."
}
