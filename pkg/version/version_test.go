package version

import "testing"

func TestStringFallbacks(t *testing.T) {
	origTag, origCommit, origDate := tag, commit, date
	t.Cleanup(func() { tag, commit, date = origTag, origCommit, origDate })

	tcases := map[string]struct {
		tag, commit, date string
		wantString        string
		wantFull          string
	}{
		"dev":      {"", "unknown", "unknown", "dev", "dev"},
		"untagged": {"", "abc1234", "2026-01-01", "abc1234", "abc1234 built 2026-01-01"},
		"tagged":   {"v1.2.0", "abc1234", "2026-01-01", "v1.2.0", "v1.2.0 (abc1234) built 2026-01-01"},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			tag, commit, date = tc.tag, tc.commit, tc.date
			if got := String(); got != tc.wantString {
				t.Errorf("String() = %q, want %q", got, tc.wantString)
			}
			if got := Full(); got != tc.wantFull {
				t.Errorf("Full() = %q, want %q", got, tc.wantFull)
			}
			if got := UserAgent("forgeph-client"); got != "forgeph-client/"+tc.wantString {
				t.Errorf("UserAgent() = %q", got)
			}
		})
	}
}
