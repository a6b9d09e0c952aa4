package secrets

import (
	"fmt"
	"os"
)

// EnvLookup implements HostLookup and SecretLookup by reading environment
// variables. The real secret store (AWS SSM/Secrets Manager in the
// original, or whatever the deploying organization uses) is out of this
// spec's scope per §1 ("treated as external collaborators with named
// interfaces only"); EnvLookup is the minimal concrete adapter that lets
// the daemon actually start end-to-end without one configured, and is
// what a small deployment can use directly instead of standing up a
// secret-store integration at all.
type EnvLookup struct {
	// HostVar names the environment variable holding the upstream base
	// URL, consulted when [shotgun] server is absent from the config file.
	HostVar string
	// SecretPrefix is prepended to the script name to form the
	// environment variable holding that script's key, e.g. prefix
	// "SG_SECRET_" and script name "my-script" reads SG_SECRET_my-script
	// (the name's case is not changed).
	SecretPrefix string
}

// LookupHost implements HostLookup.
func (e EnvLookup) LookupHost() (string, error) {
	v := os.Getenv(e.HostVar)
	if v == "" {
		return "", fmt.Errorf("secrets: environment variable %s is not set", e.HostVar)
	}
	return v, nil
}

// LookupSecret implements SecretLookup.
func (e EnvLookup) LookupSecret(name string) (string, error) {
	key := e.SecretPrefix + name
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("secrets: environment variable %s is not set", key)
	}
	return v, nil
}
