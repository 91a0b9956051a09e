package permissions

import (
	"os"
	"testing"
)

func TestSanitizeModeStripsSetuidAndGroupOtherWrite(t *testing.T) {
	got := SanitizeMode(os.FileMode(0o4777), false)
	want := os.FileMode(0o755)
	if got != want {
		t.Errorf("SanitizeMode(0o4777, false) = %o, want %o", got, want)
	}
}

func TestSanitizeModeZeroFallsBackToDefault(t *testing.T) {
	if got := SanitizeMode(0, false); got != DefaultFilePerms {
		t.Errorf("SanitizeMode(0, false) = %o, want %o", got, DefaultFilePerms)
	}
	if got := SanitizeMode(0, true); got != DefaultDirPerms {
		t.Errorf("SanitizeMode(0, true) = %o, want %o", got, DefaultDirPerms)
	}
}

func TestSanitizeModePreservesOwnerExecutable(t *testing.T) {
	got := SanitizeMode(os.FileMode(0o755), false)
	want := os.FileMode(0o755)
	if got != want {
		t.Errorf("SanitizeMode(0o755, false) = %o, want %o", got, want)
	}
}

func TestSanitizeModeDirectoryForcesOwnerExecute(t *testing.T) {
	got := SanitizeMode(os.FileMode(0o600), true)
	if got&0o100 == 0 {
		t.Errorf("SanitizeMode(0o600, true) = %o, expected owner-execute bit set", got)
	}
}
