// Package appid holds the application identity shared by the CLI, config
// loader and telemetry.
package appid

import "strings"

const (
	// BinaryName is the executable and config directory name.
	BinaryName = "relaybot"
	// EnvPrefix prefixes every environment variable override.
	EnvPrefix = "RELAYBOT"
	// Vendor identifies the publisher in version output.
	Vendor = "relaybot"
)

// Identity describes the running application.
type Identity struct {
	BinaryName string
	ConfigName string
	EnvPrefix  string
	Vendor     string
}

// Get returns the application identity.
func Get() Identity {
	return Identity{
		BinaryName: BinaryName,
		ConfigName: BinaryName,
		EnvPrefix:  EnvPrefix,
		Vendor:     Vendor,
	}
}

// EnvName builds a prefixed environment variable name from a config key.
func (i Identity) EnvName(key string) string {
	key = strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(strings.TrimSpace(key)))
	prefix := strings.TrimSuffix(i.EnvPrefix, "_")
	if key == "" {
		return prefix
	}
	return prefix + "_" + key
}
