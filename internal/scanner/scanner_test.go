package scanner

import "testing"

func TestCommitID(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"committed prefix", "Committed a1b2c3d feat: add door handling", "a1b2c3d"},
		{"commit prefix", "Commit 0123abc fix lighting", "0123abc"},
		{"lowercase", "commit deadbeefcafe applied", "deadbeefcafe"},
		{"full hash", "Committed 0123456789abcdef0123456789abcdef01234567", "0123456789abcdef0123456789abcdef01234567"},
		{"mid line", "> Committed f00dfee with 2 files", "f00dfee"},
		{"too short", "Committed abc123", ""},
		{"not hex", "Committed zzzzzzz", ""},
		{"no commit", "Tokens: 4.2k sent, 1.1k received.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CommitID(tt.line); got != tt.want {
				t.Errorf("CommitID(%q) = %q, want %q", tt.line, got, tt.want)
			}
		})
	}
}

func TestCost(t *testing.T) {
	tests := []struct {
		line   string
		want   float64
		wantOK bool
	}{
		{"Cost: $0.0042 message, $0.31 session.", 0.0042, true},
		{"Total: $12", 12, true},
		{"no dollars here", 0, false},
		{"$ without number", 0, false},
	}
	for _, tt := range tests {
		got, ok := Cost(tt.line)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Cost(%q) = (%v, %v), want (%v, %v)", tt.line, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNeedsUserInput(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"Please tell me which scene to modify?", true},
		{"  Please describe the bug?  ", true},
		{"You can add them to the chat if needed.", true},
		{"I will stop here so you can review.", true},
		{"Reply with answers to the questions above.", true},
		{"Applied edit to Player.cs", false},
		{"Please wait", false},
	}
	for _, tt := range tests {
		if got := NeedsUserInput(tt.line); got != tt.want {
			t.Errorf("NeedsUserInput(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestSuppress(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"Can't initialize prompt toolkit: No Windows console found", true},
		{"Terminal does not support pretty output", true},
		{"Committed a1b2c3d", false},
	}
	for _, tt := range tests {
		if got := Suppress(tt.line); got != tt.want {
			t.Errorf("Suppress(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestStrip(t *testing.T) {
	in := "\x1b[32mCommitted a1b2c3d\x1b[0m done"
	want := "Committed a1b2c3d done"
	if got := Strip(in); got != want {
		t.Errorf("Strip(%q) = %q, want %q", in, got, want)
	}
}

func TestStrip_ThenMatch(t *testing.T) {
	line := Strip("\x1b[1;33mCommit \x1b[0m\x1b[36mabcdef1\x1b[0m tidy up")
	if got := CommitID(line); got != "abcdef1" {
		t.Errorf("CommitID after Strip = %q, want abcdef1", got)
	}
}

func TestSanitizePrompt(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"newlines", "add a\ndouble jump", "add a double jump"},
		{"quotes", `name it "Dash" and 'Slide'`, "name it Dash and Slide"},
		{"whitespace runs", "  fix   the\t\tlighting  ", "fix the lighting"},
		{"crlf", "one\r\ntwo", "one two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizePrompt(tt.in); got != tt.want {
				t.Errorf("SanitizePrompt(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
