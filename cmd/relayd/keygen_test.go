package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"p2p-relay/internal/identity"
)

func TestKeygenWritesIdentity(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"keygen", "--data", dir})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	id, err := identity.Load(filepath.Join(dir, "identity.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.Contains(out.String(), id.PublicKeyHex()) {
		t.Fatalf("output does not show the public key: %s", out.String())
	}

	rootCmd.SetArgs([]string{"keygen", "--data", dir})
	if err := rootCmd.Execute(); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
}
