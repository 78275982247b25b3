package cmd

import (
	"slices"
	"strings"
	"testing"
)

func TestVersionInfo(t *testing.T) {
	prev := Version
	Version = "1.2.3"
	t.Cleanup(func() { Version = prev })

	info := versionInfo()
	if info.Version != "1.2.3" {
		t.Errorf("version = %q", info.Version)
	}
	if !strings.HasPrefix(info.GoVersion, "go") {
		t.Errorf("go version = %q", info.GoVersion)
	}
	for _, want := range []string{"mariadb", "postgres", "sqlite"} {
		if !slices.Contains(info.Backends, want) {
			t.Errorf("backends %v missing %q", info.Backends, want)
		}
	}
}

func TestVersionCommandHasJSONFlag(t *testing.T) {
	if versionCmd.Flags().Lookup("json") == nil {
		t.Fatal("version command should accept --json")
	}
	if !strings.Contains(versionCmd.Short, "backend") {
		t.Errorf("short help = %q", versionCmd.Short)
	}
}
