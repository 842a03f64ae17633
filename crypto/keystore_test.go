package crypto

import (
	"os"
	"path/filepath"
	"testing"
)

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "signer.json")

	if err := key.SaveKeystore(path, "hunter2"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("keystore file missing: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("keystore file mode %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadKeystore(path, "hunter2")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.PubKey().Address() != key.PubKey().Address() {
		t.Fatalf("round-tripped key derives a different address")
	}
}

func TestLoadKeystoreWrongPassphrase(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "signer.json")
	if err := key.SaveKeystore(path, "correct"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := LoadKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected decryption failure with the wrong passphrase")
	}
}
