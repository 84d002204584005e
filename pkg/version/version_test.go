package version

import (
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "dev", Build: "abc"}
	if got, want := v.String(), "Version: 1.2.3-dev\nBuild: abc"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBuildInfo(t *testing.T) {
	if !strings.Contains(BuildInfo(), "go") {
		t.Fatalf("build info does not mention the Go version: %q", BuildInfo())
	}
}
