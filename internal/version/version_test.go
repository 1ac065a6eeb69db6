package version

import "testing"

func TestString(t *testing.T) {
	oldVersion, oldCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = oldVersion, oldCommit })

	Version, Commit = "1.2.3", "abc1234"
	if got := String(); got != "1.2.3 (abc1234)" {
		t.Errorf("String() = %q, want %q", got, "1.2.3 (abc1234)")
	}
}
