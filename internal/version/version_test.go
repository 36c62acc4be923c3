package version

import "testing"

func TestShort(t *testing.T) {
	origVersion, origSHA := Version, GitSHA
	defer func() { Version, GitSHA = origVersion, origSHA }()

	Version = "v0.3.0"
	GitSHA = "abc1234"

	if got := Short(); got != "v0.3.0 (abc1234)" {
		t.Errorf("Short() = %q, want %q", got, "v0.3.0 (abc1234)")
	}
}
