package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".chatvault", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix sessions/test/LOCK", got)
	}
}

func TestArchiveDBPath(t *testing.T) {
	got := ArchiveDBPath("test")
	if !strings.HasSuffix(got, filepath.Join("test", "chatvault.db")) {
		t.Errorf("ArchiveDBPath(test) = %q, want suffix test/chatvault.db", got)
	}
}

func TestCredentialsPath(t *testing.T) {
	got := CredentialsPath("test")
	if !strings.HasSuffix(got, filepath.Join("test", "credentials.json")) {
		t.Errorf("CredentialsPath(test) = %q, want suffix test/credentials.json", got)
	}
}

func TestTransportAndArchiveDBDiffer(t *testing.T) {
	if TransportDBPath("s") == ArchiveDBPath("s") {
		t.Error("transport and archive databases must not share a file")
	}
}
