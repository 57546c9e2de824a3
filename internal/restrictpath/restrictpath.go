// Package restrictpath resolves untrusted, client-supplied paths against a
// module's name and root directory, rejecting anything that would escape
// the root. It is a portable, always-on logical sandbox, independent of
// (and in addition to) whatever OS-level hardening internal/restrict
// provides on Linux.
package restrictpath

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// moduleNameRE matches the module-name grammar: one or more word
// characters.
var moduleNameRE = regexp.MustCompile(`^\w+$`)

// Path is a resolved restriction: a module name paired with an absolute
// filesystem root.
type Path struct {
	ModuleName string
	Root       string
}

// New validates moduleName and returns a Path rooted at root. root must
// already be absolute; it is the daemon operator's configuration, not
// untrusted input.
func New(moduleName, root string) (*Path, error) {
	if !moduleNameRE.MatchString(moduleName) {
		return nil, fmt.Errorf("restrictpath: invalid module name %q", moduleName)
	}
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("restrictpath: module root %q is not absolute", root)
	}
	return &Path{ModuleName: moduleName, Root: filepath.Clean(root)}, nil
}

// Resolve takes an untrusted path as sent by a client — expected to begin
// with the module name — and returns the absolute local filesystem path it
// denotes. It fails if, once fully normalized, the path's first segment
// does not equal the module name: a ".." that cancels out the module
// segment (e.g. "mod/../etc/passwd") must be rejected rather than silently
// resolved as if it stayed inside the module, so the whole path is cleaned
// before the module-name comparison, not just the remainder after it.
func (p *Path) Resolve(clientPath string) (string, error) {
	cleaned := strings.TrimPrefix(filepath.Clean("/"+clientPath), "/")
	first, rest, _ := strings.Cut(cleaned, "/")
	if first != p.ModuleName {
		return "", fmt.Errorf("restrictpath: path %q escapes module %q", clientPath, p.ModuleName)
	}
	return filepath.Join(p.Root, "/"+rest), nil
}

// StripModule removes the leading "<moduleName>" (and following slash, if
// any) from an untrusted path, without resolving it against the root. Used
// where callers need the module-relative name rather than an absolute
// local path (e.g. to label entries in a file list).
func (p *Path) StripModule(clientPath string) string {
	clientPath = strings.TrimPrefix(clientPath, "/")
	clientPath = strings.TrimPrefix(clientPath, p.ModuleName)
	return strings.TrimPrefix(clientPath, "/")
}
