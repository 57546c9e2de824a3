package maincmd

import (
	"bytes"
	"testing"

	"github.com/kalbhor/grsync/internal/rsyncopts"
	"github.com/kalbhor/grsync/internal/rsyncos"
)

func TestCheckForHostspec(t *testing.T) {
	tests := []struct {
		in       string
		wantUser string
		wantHost string
		wantPath string
		wantPort int
		wantErr  bool
	}{
		{
			in:       "rsync://host/mod/path",
			wantHost: "host",
			wantPath: "mod/path",
			wantPort: defaultDaemonPort,
		},
		{
			in:       "rsync://user@host:1234/mod",
			wantUser: "user",
			wantHost: "host",
			wantPath: "mod",
			wantPort: 1234,
		},
		{
			in:       "host::mod/path",
			wantHost: "host",
			wantPath: "mod/path",
			wantPort: defaultDaemonPort,
		},
		{
			in:       "user@host::mod",
			wantUser: "user",
			wantHost: "host",
			wantPath: "mod",
			wantPort: defaultDaemonPort,
		},
		{
			in:       "user@host:/some/path",
			wantUser: "user",
			wantHost: "host",
			wantPath: "/some/path",
			wantPort: 0,
		},
		{
			in:      "/local/path",
			wantErr: true,
		},
		{
			in:      "rsync://host",
			wantErr: true,
		},
	}
	for _, tc := range tests {
		user, host, path, port, err := checkForHostspec(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("checkForHostspec(%q): expected error, got none", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("checkForHostspec(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if user != tc.wantUser || host != tc.wantHost || path != tc.wantPath || port != tc.wantPort {
			t.Errorf("checkForHostspec(%q) = (%q, %q, %q, %d), want (%q, %q, %q, %d)",
				tc.in, user, host, path, port, tc.wantUser, tc.wantHost, tc.wantPath, tc.wantPort)
		}
	}
}

func TestServerOptions(t *testing.T) {
	osenv := &rsyncos.Env{Stdin: &bytes.Buffer{}, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	pc, err := rsyncopts.ParseArguments(osenv, []string{"-a", "--delete", "src", "dest"})
	if err != nil {
		t.Fatal(err)
	}
	flags := serverOptions(pc.Options)
	if len(flags) == 0 {
		t.Fatal("expected at least one flag")
	}
	found := false
	for _, f := range flags {
		if f == "--delete" {
			found = true
		}
	}
	if !found {
		t.Errorf("serverOptions(%+v) = %q, want --delete", pc.Options, flags)
	}
}
