package identity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateIdentityProducesUsableKeyPair(t *testing.T) {
	id, err := GenerateIdentity("https://cms.example.com", "shared-secret")
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	if id.HardwareKey == "" {
		t.Error("expected a non-empty hardware key")
	}
	if id.PublicKey().N.BitLen() == 0 {
		t.Fatal("expected a populated RSA public key")
	}
	if id.PublicKey().N.BitLen() > KeyBits {
		t.Errorf("key size = %d bits, want <= %d", id.PublicKey().N.BitLen(), KeyBits)
	}

	sig, err := id.Sign([]byte("registration-challenge"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(id.PublicKey(), []byte("registration-challenge"), sig); err != nil {
		t.Errorf("Verify: %v", err)
	}
	if err := Verify(id.PublicKey(), []byte("tampered"), sig); err == nil {
		t.Error("expected verification to fail on tampered data")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.json")

	original, err := GenerateIdentity("https://cms.example.com", "shared-secret")
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	if err := original.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if loaded.HardwareKey != original.HardwareKey {
		t.Errorf("hardware key mismatch after round trip: %s != %s", loaded.HardwareKey, original.HardwareKey)
	}

	sig, err := original.Sign([]byte("data"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(loaded.PublicKey(), []byte("data"), sig); err != nil {
		t.Errorf("loaded public key failed to verify original signature: %v", err)
	}
}

func TestSaveToFilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "identity.json")

	id, err := GenerateIdentity("https://cms.example.com", "shared-secret")
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	if err := id.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("identity file permissions = %v, want 0600", info.Mode().Perm())
	}
}

func TestLoadOrGenerateCreatesOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.json")

	first, err := LoadOrGenerate(path, "https://cms.example.com", "shared-secret")
	if err != nil {
		t.Fatalf("LoadOrGenerate (first run): %v", err)
	}

	second, err := LoadOrGenerate(path, "https://cms.example.com", "shared-secret")
	if err != nil {
		t.Fatalf("LoadOrGenerate (second run): %v", err)
	}
	if second.HardwareKey != first.HardwareKey {
		t.Error("expected LoadOrGenerate to reuse the persisted identity on a second call")
	}
}

func TestApplySettingsRecordsLastSettings(t *testing.T) {
	id, err := GenerateIdentity("https://cms.example.com", "shared-secret")
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	settings := map[string]any{"collectInterval": float64(900)}
	id.ApplySettings(settings)
	if id.LastSettings["collectInterval"] != float64(900) {
		t.Errorf("expected ApplySettings to record collectInterval, got %v", id.LastSettings)
	}
}
