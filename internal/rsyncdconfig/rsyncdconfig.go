// Package rsyncdconfig loads the daemon-mode module configuration: which
// directories are exported under which names, and on what address the
// daemon listens. The file format is TOML, with one `[[module]]` table per
// exported tree, mirroring the `[name]`/`key = value` shape an rsyncd.conf
// reader would expect.
package rsyncdconfig

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/kalbhor/grsync/rsyncd"
)

// Config is the parsed contents of a daemon configuration file.
type Config struct {
	// Listen is the address (host:port, or just :port) the daemon accepts
	// connections on. Defaults to ":873" (the registered rsync daemon port)
	// when empty.
	Listen string `toml:"listen"`

	Modules []rsyncd.Module
}

// rawModule mirrors rsyncd.Module but with pointer bools, so the decoder can
// tell "key absent" from "key set to false" and apply the is_readable=true /
// is_writable=false defaults correctly.
type rawModule struct {
	Name       string            `toml:"name"`
	Path       string            `toml:"path"`
	Comment    string            `toml:"comment"`
	ACL        []string          `toml:"acl"`
	IsReadable *bool             `toml:"is_readable"`
	IsWritable *bool             `toml:"is_writable"`
	AuthUsers  map[string]string `toml:"auth_users"`
}

type rawConfig struct {
	Listen  string      `toml:"listen"`
	Modules []rawModule `toml:"module"`
}

// DefaultPaths is searched, in order, by FromDefaultFiles.
var DefaultPaths = []string{
	"/etc/grsyncd.conf",
	"/etc/rsyncd.conf.toml",
}

// FromFile reads and parses the daemon configuration at path.
func FromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var raw rawConfig
	if _, err := toml.NewDecoder(f).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg := &Config{Listen: raw.Listen}
	if cfg.Listen == "" {
		cfg.Listen = ":873"
	}
	for _, rm := range raw.Modules {
		isReadable := true
		if rm.IsReadable != nil {
			isReadable = *rm.IsReadable
		}
		isWritable := false
		if rm.IsWritable != nil {
			isWritable = *rm.IsWritable
		}
		cfg.Modules = append(cfg.Modules, rsyncd.Module{
			Name:       rm.Name,
			Path:       rm.Path,
			Comment:    rm.Comment,
			ACL:        rm.ACL,
			IsReadable: isReadable,
			IsWritable: isWritable,
			AuthUsers:  rm.AuthUsers,
		})
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// FromDefaultFiles tries each of DefaultPaths in turn, returning the first
// one that exists.
func FromDefaultFiles() (*Config, error) {
	for _, path := range DefaultPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return FromFile(path)
	}
	return nil, fmt.Errorf("no config file found (tried %v)", DefaultPaths)
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Modules))
	for _, mod := range c.Modules {
		if mod.Name == "" {
			return fmt.Errorf("module with empty name")
		}
		if seen[mod.Name] {
			return fmt.Errorf("module %q defined more than once", mod.Name)
		}
		seen[mod.Name] = true
		if mod.Path == "" {
			return fmt.Errorf("module %q: path is mandatory", mod.Name)
		}
	}
	return nil
}

// Module looks up a module by name, returning ok=false if none matches.
func (c *Config) Module(name string) (rsyncd.Module, bool) {
	for _, mod := range c.Modules {
		if mod.Name == name {
			return mod, true
		}
	}
	return rsyncd.Module{}, false
}
