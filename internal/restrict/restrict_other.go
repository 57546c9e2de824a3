//go:build !linux

package restrict

// MaybeFileSystem is a no-op outside Linux: there is no portable
// Landlock-equivalent API to fall back to.
func MaybeFileSystem(roDirs []string, rwDirs []string) error {
	return nil
}
