package chat

import (
	"strings"
	"testing"
)

func TestBlockedWordCensored(t *testing.T) {
	f := NewBlocklistFilter([]string{"grief", "Cheat"})

	out, censored := f.Censor("stop the grief now")
	if !censored {
		t.Fatal("blocked word not flagged")
	}
	if strings.Contains(out, "grief") {
		t.Fatalf("raw blocked word delivered: %q", out)
	}
	if out != "stop the ***** now" {
		t.Fatalf("unexpected censored form: %q", out)
	}
}

func TestCensorIsCaseInsensitive(t *testing.T) {
	f := NewBlocklistFilter([]string{"grief"})
	out, censored := f.Censor("GRIEF incoming")
	if !censored || strings.Contains(strings.ToLower(out), "grief") {
		t.Fatalf("case variant slipped through: %q", out)
	}
}

func TestCensorTrimsPunctuation(t *testing.T) {
	f := NewBlocklistFilter([]string{"grief"})
	out, censored := f.Censor("what a grief!")
	if !censored {
		t.Fatal("punctuated blocked word not flagged")
	}
	if strings.Contains(out, "grief") {
		t.Fatalf("raw blocked word delivered: %q", out)
	}
}

func TestCleanTextPassesThrough(t *testing.T) {
	f := NewBlocklistFilter([]string{"grief"})
	in := "good game everyone"
	out, censored := f.Censor(in)
	if censored || out != in {
		t.Fatalf("clean text altered: %q censored=%v", out, censored)
	}
}

func TestEmptyBlocklistNeverCensors(t *testing.T) {
	f := NewBlocklistFilter(nil)
	in := "anything goes"
	out, censored := f.Censor(in)
	if censored || out != in {
		t.Fatalf("empty blocklist censored text: %q", out)
	}
}
