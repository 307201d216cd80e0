package channel

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitMessage_Short(t *testing.T) {
	chunks := splitMessage("hello", 10)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Errorf("got %q", chunks)
	}
}

func TestSplitMessage_PrefersNewline(t *testing.T) {
	chunks := splitMessage("aaaaaaa\nbbbbbbb", 10)
	if len(chunks) != 2 || chunks[0] != "aaaaaaa\n" || chunks[1] != "bbbbbbb" {
		t.Errorf("got %q", chunks)
	}
}

func TestSplitMessage_HardCut(t *testing.T) {
	chunks := splitMessage(strings.Repeat("x", 25), 10)
	if len(chunks) != 3 || len(chunks[2]) != 5 {
		t.Errorf("got %q", chunks)
	}
}

func TestSplitMessage_KeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("π", 10) // 2 bytes each
	chunks := splitMessage(text, 5)
	if strings.Join(chunks, "") != text {
		t.Fatal("chunks should reassemble the original")
	}
	for _, c := range chunks {
		if !utf8.ValidString(c) || len(c) > 5 {
			t.Errorf("bad chunk %q", c)
		}
	}
}
