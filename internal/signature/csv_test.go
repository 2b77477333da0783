package signature

import (
	"path/filepath"
	"strings"
	"testing"
)

const sampleCSV = `framework_name,version,language,http_library,tls_version,ja4_signature,test_date,verified_runs,consistent,detection_rate,false_positive_rate,notes
anthropic,0.40.0,python,httpx,TLS 1.3,t13d1715h2_5b57614c22b0_3d5424432f57,2025-12-28,3,true,TBD,TBD,Extracted from PCAP. 3 handshake(s).
openai,1.54.0,python,httpx,TLS 1.3,t13d1516h2_8daaf6152771_02713d6af862,2025-12-28,3,true,TBD,TBD,
requests-legacy,2.31.0,python,urllib3,TLS 1.2,t12d1109h1_aa1b2c3d4e5f_0d8e9f1a2b3c,2025-11-02,4,false,TBD,TBD,Signature varies with OpenSSL build.
`

func TestReadCSV(t *testing.T) {
	store, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}

	e, ok := store.Get("anthropic", "0.40.0")
	if !ok {
		t.Fatal("anthropic entry missing")
	}
	if e.Signature != "t13d1715h2_5b57614c22b0_3d5424432f57" {
		t.Errorf("Signature = %q", e.Signature)
	}
	if len(e.Runs) != 3 {
		t.Errorf("runs = %d, want 3", len(e.Runs))
	}
	if e.Language != "python" || e.HTTPLibrary != "httpx" || e.TLSVersion != "TLS 1.3" {
		t.Errorf("descriptive columns lost: %+v", e)
	}

	if consistent, ok := store.Consistency("anthropic", "0.40.0"); !ok || !consistent {
		t.Error("anthropic should load consistent")
	}
	// The on-disk inconsistency flag survives loading even though the
	// differing signatures themselves were not persisted.
	if consistent, ok := store.Consistency("requests-legacy", "2.31.0"); !ok || consistent {
		t.Error("requests-legacy should load inconsistent")
	}
}

func TestReadCSV_RejectsBadHeader(t *testing.T) {
	bad := strings.Replace(sampleCSV, "framework_name", "framework", 1)
	if _, err := ReadCSV(strings.NewReader(bad)); err == nil {
		t.Error("ReadCSV accepted a foreign column layout")
	}
}

func TestCSV_RoundTrip(t *testing.T) {
	store, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	store.Record("mistral", "1.2.3", "t13d1312h2_e8f1a2b3c4d5_66778899aabb")

	var out strings.Builder
	if err := store.WriteCSV(&out); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 { // header + 3 loaded + 1 recorded
		t.Fatalf("wrote %d lines, want 5:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "framework_name,version,language") {
		t.Errorf("header = %q", lines[0])
	}

	reloaded, err := ReadCSV(strings.NewReader(out.String()))
	if err != nil {
		t.Fatalf("ReadCSV round trip: %v", err)
	}
	e, ok := reloaded.Get("mistral", "1.2.3")
	if !ok || len(e.Runs) != 1 {
		t.Fatalf("recorded entry lost in round trip: %+v", e)
	}
	if consistent, ok := reloaded.Consistency("requests-legacy", "2.31.0"); !ok || consistent {
		t.Error("inconsistency flag lost in round trip")
	}
}

func TestLoadFile_MissingBootstrapsEmpty(t *testing.T) {
	store, err := LoadFile(filepath.Join(t.TempDir(), "absent.csv"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if entries := store.Entries(); len(entries) != 0 {
		t.Errorf("expected empty store, got %d entries", len(entries))
	}
}

func TestSaveFile(t *testing.T) {
	store := NewStore()
	store.Record("ollama", "0.5.1", "t13d0907h2_c1d2e3f4a5b6_112233445566")

	path := filepath.Join(t.TempDir(), "db.csv")
	if err := store.SaveFile(path); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	reloaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if _, ok := reloaded.Get("ollama", "0.5.1"); !ok {
		t.Error("saved entry missing after reload")
	}
}
