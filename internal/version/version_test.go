package version

import "testing"

func TestGet(t *testing.T) {
	oldVersion, oldSHA, oldTime := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = oldVersion, oldSHA, oldTime })

	Version, GitSHA, BuildTime = "v1.2.0", "abc123", "2025-03-01T12:00:00Z"
	got := Get()
	if got != (Info{Version: "v1.2.0", GitSHA: "abc123", BuildTime: "2025-03-01T12:00:00Z"}) {
		t.Errorf("Get() = %+v", got)
	}
	if s := got.String(); s != "v1.2.0 (abc123, built 2025-03-01T12:00:00Z)" {
		t.Errorf("String() = %q", s)
	}
}
