package secrets

import "testing"

func TestEnvLookupHost(t *testing.T) {
	t.Setenv("TEST_SG_HOST", "https://example.shotgunstudio.com")
	e := EnvLookup{HostVar: "TEST_SG_HOST", SecretPrefix: "TEST_SG_SECRET_"}

	got, err := e.LookupHost()
	if err != nil || got != "https://example.shotgunstudio.com" {
		t.Fatalf("LookupHost = %q, %v", got, err)
	}
}

func TestEnvLookupHostMissingIsError(t *testing.T) {
	e := EnvLookup{HostVar: "TEST_SG_HOST_UNSET", SecretPrefix: "TEST_SG_SECRET_"}
	if _, err := e.LookupHost(); err == nil {
		t.Fatal("expected an error when the host env var is unset")
	}
}

func TestEnvLookupSecretUsesPrefixedName(t *testing.T) {
	t.Setenv("TEST_SG_SECRET_MY-SCRIPT", "s3cr3t")
	e := EnvLookup{HostVar: "TEST_SG_HOST", SecretPrefix: "TEST_SG_SECRET_"}

	got, err := e.LookupSecret("MY-SCRIPT")
	if err != nil || got != "s3cr3t" {
		t.Fatalf("LookupSecret = %q, %v", got, err)
	}
}

func TestEnvLookupSecretMissingIsError(t *testing.T) {
	e := EnvLookup{HostVar: "TEST_SG_HOST", SecretPrefix: "TEST_SG_SECRET_"}
	if _, err := e.LookupSecret("NEVER-SET"); err == nil {
		t.Fatal("expected an error when the secret env var is unset")
	}
}
