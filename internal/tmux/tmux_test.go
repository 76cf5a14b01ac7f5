package tmux

import (
	"errors"
	"testing"
)

func TestValidateSessionName(t *testing.T) {
	tests := []struct {
		name    string
		session string
		wantErr bool
	}{
		{"valid alphanumeric", "builder-crew-1", false},
		{"valid with underscore", "hq_coordinator", false},
		{"valid simple", "test123", false},
		{"valid with dot", "my.session", false},
		{"empty string", "", true},
		{"contains colon", "my:session", true},
		{"contains space", "my session", true},
		{"contains slash", "crew/tom", true},
		{"contains single quote", "it's", true},
		{"contains semicolon", "a;rm -rf /", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSessionName(tc.session)
			if tc.wantErr && err == nil {
				t.Errorf("validateSessionName(%q) = nil, want error", tc.session)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("validateSessionName(%q) = %v, want nil", tc.session, err)
			}
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidSessionName) {
					t.Errorf("validateSessionName(%q) = %v, want ErrInvalidSessionName", tc.session, err)
				}
			}
		})
	}
}

func TestFilterEnvStripsIDEHooks(t *testing.T) {
	env := map[string]string{
		"CLAUDE_CODE_SSE_PORT": "1234",
		"CLAUDECODE":           "1",
		"PATH":                 "/usr/bin",
	}
	out := filterEnv(env)
	if _, ok := out["CLAUDE_CODE_SSE_PORT"]; ok {
		t.Error("filterEnv should strip CLAUDE_CODE_SSE_PORT")
	}
	if _, ok := out["CLAUDECODE"]; ok {
		t.Error("filterEnv should strip CLAUDECODE")
	}
	if out["PATH"] != "/usr/bin" {
		t.Errorf("filterEnv dropped unrelated var: %+v", out)
	}
}

func TestFilterEnvEmptyIsEmpty(t *testing.T) {
	if out := filterEnv(nil); len(out) != 0 {
		t.Errorf("filterEnv(nil) = %+v, want empty", out)
	}
	if out := filterEnv(map[string]string{}); len(out) != 0 {
		t.Errorf("filterEnv(empty) = %+v, want empty", out)
	}
}

func TestWrapErrorClassifiesKnownStderr(t *testing.T) {
	tm := &Tmux{}
	tests := []struct {
		stderr string
		want   error
	}{
		{"no server running on /tmp/tmux-0/default", ErrNoServer},
		{"error connecting to /tmp/tmux-0/default (No such file or directory)", ErrNoServer},
		{"server exited unexpectedly", ErrNoServer},
		{"duplicate session: builder-1", ErrSessionExists},
		{"can't find session builder-1", ErrSessionNotFound},
		{"session not found: builder-1", ErrSessionNotFound},
	}
	for _, tc := range tests {
		err := tm.wrapError(errors.New("exit status 1"), tc.stderr, []string{"has-session"})
		if !errors.Is(err, tc.want) {
			t.Errorf("wrapError(%q) = %v, want %v", tc.stderr, err, tc.want)
		}
	}
}

func TestWrapErrorFallsBackToRawStderr(t *testing.T) {
	tm := &Tmux{}
	err := tm.wrapError(errors.New("exit status 1"), "some unrecognized failure", []string{"new-session"})
	if err == nil {
		t.Fatal("expected a non-nil error")
	}
	if errors.Is(err, ErrNoServer) || errors.Is(err, ErrSessionExists) || errors.Is(err, ErrSessionNotFound) {
		t.Errorf("wrapError(%q) unexpectedly classified as a known sentinel: %v", "some unrecognized failure", err)
	}
}

func TestGetAllDescendantsNoChildrenReturnsEmpty(t *testing.T) {
	// pgrep for an implausible PID should return no children without error.
	got := getAllDescendants("999999999")
	if len(got) != 0 {
		t.Errorf("getAllDescendants(nonexistent) = %v, want empty", got)
	}
}

func TestMultiplexerInterfaceSatisfiedByTmux(t *testing.T) {
	var _ Multiplexer = (*Tmux)(nil)
}

func TestCreateSessionRejectsInvalidName(t *testing.T) {
	tm := NewTmux()
	if _, err := tm.CreateSession("bad name", "", "true", nil); err == nil {
		t.Error("CreateSession with an invalid session name should fail before shelling out")
	}
}

func TestIsSessionAliveRejectsInvalidName(t *testing.T) {
	tm := NewTmux()
	if _, err := tm.IsSessionAlive("bad name"); err == nil {
		t.Error("IsSessionAlive with an invalid session name should fail before shelling out")
	}
}

func TestSendKeysRejectsInvalidName(t *testing.T) {
	tm := NewTmux()
	if err := tm.SendKeys("bad name", "echo hi"); err == nil {
		t.Error("SendKeys with an invalid session name should fail before shelling out")
	}
}

func TestStreamPaneRejectsInvalidName(t *testing.T) {
	tm := NewTmux()
	stop := make(chan struct{})
	defer close(stop)
	if err := tm.StreamPane("bad name", make(chan []byte), stop); err == nil {
		t.Error("StreamPane with an invalid session name should fail before shelling out")
	}
}

func TestResizePaneRejectsInvalidName(t *testing.T) {
	tm := NewTmux()
	if err := tm.ResizePane("bad name", 80, 24); err == nil {
		t.Error("ResizePane with an invalid session name should fail before shelling out")
	}
}
