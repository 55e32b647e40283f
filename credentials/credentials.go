// Package credentials loads feed credentials from standard locations and
// builds the Authorization header the feed expects.
package credentials

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when credentials file has overly permissive permissions.
var ErrInsecurePermissions = fmt.Errorf("credentials file has insecure permissions")

// Credentials is the feed username/password pair. Either may be empty.
type Credentials struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type fileFormat struct {
	SMHI *Credentials `toml:"smhi"`
}

// StandardPaths returns the standard credential file locations in order of priority
func StandardPaths() []string {
	paths := []string{"credentials.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "thunder", "credentials.toml"),
			filepath.Join(home, ".thunder", "credentials.toml"),
		)
	}

	return paths
}

// Load loads credentials from the first available standard location.
// No file is not an error: it returns nil credentials and an empty path.
func Load() (*Credentials, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			creds, err := LoadFile(path)
			if err != nil {
				return nil, path, err
			}
			return creds, path, nil
		}
	}
	return nil, "", nil
}

// LoadFile loads the [smhi] section of a credentials file.
// Returns ErrInsecurePermissions if file is readable by group or others.
func LoadFile(path string) (*Credentials, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		mode := info.Mode().Perm()
		if mode != 0400 {
			return nil, fmt.Errorf("%w: %s has mode %04o (must be 0400)",
				ErrInsecurePermissions, path, mode)
		}
	}

	var f fileFormat
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, err
	}
	if f.SMHI == nil {
		return &Credentials{}, nil
	}
	return f.SMHI, nil
}

// Empty reports whether neither username nor password is set.
func (c *Credentials) Empty() bool {
	return c == nil || (c.Username == "" && c.Password == "")
}

// Authorization returns the feed's Authorization header value:
// "Bearer Basic " followed by base64(username:password). The Basic value
// nested inside a Bearer value is what the upstream feed accepts; it is not
// a general-purpose scheme.
func (c *Credentials) Authorization() string {
	var user, pass string
	if c != nil {
		user, pass = c.Username, c.Password
	}
	basic := "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
	return "Bearer " + basic
}
