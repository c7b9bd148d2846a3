package cli

import (
	"os"
	"path/filepath"
)

// Paths resolves the on-disk layout for an application:
// ~/.meeshy/<app>/ holds the config file and the worker's data
// directory.
type Paths struct {
	AppName string
	HomeDir string
}

// NewPaths creates a Paths rooted at the user's home directory.
func NewPaths(appName string) (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Paths{AppName: appName, HomeDir: home}, nil
}

// BaseDir returns the shared base directory (~/.meeshy).
func (p *Paths) BaseDir() string {
	return filepath.Join(p.HomeDir, DefaultBaseDir)
}

// AppDir returns the app directory (~/.meeshy/<app>).
func (p *Paths) AppDir() string {
	return filepath.Join(p.BaseDir(), p.AppName)
}

// ConfigFile returns the config file path (~/.meeshy/<app>/config.yaml).
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.AppDir(), DefaultConfigFile)
}

// DataDir returns the worker state directory (~/.meeshy/<app>/data).
func (p *Paths) DataDir() string {
	return filepath.Join(p.AppDir(), "data")
}

// EnsureAppDir creates the app directory if it doesn't exist.
func (p *Paths) EnsureAppDir() error {
	return os.MkdirAll(p.AppDir(), 0755)
}
