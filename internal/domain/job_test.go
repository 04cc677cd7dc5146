package domain

import "testing"

func TestJobStateTerminal(t *testing.T) {
	cases := []struct {
		state JobState
		want  bool
	}{
		{JobAdmitted, false},
		{JobSubmitted, false},
		{JobPolling, false},
		{JobSucceeded, true},
		{JobFailed, true},
		{JobTimedOut, true},
	}
	for _, tc := range cases {
		if got := tc.state.Terminal(); got != tc.want {
			t.Errorf("%s.Terminal() = %v, want %v", tc.state, got, tc.want)
		}
	}
}
