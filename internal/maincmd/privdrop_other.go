//go:build !linux || nonamespacing

package maincmd

import "github.com/kalbhor/grsync/internal/rsyncos"

// dropPrivileges is a no-op outside Linux (or when namespacing support is
// excluded from the build): there is no portable setuid/setgid story to
// fall back to.
func dropPrivileges(osenv *rsyncos.Env) error {
	return nil
}
