package util

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"long string truncated", "Program exited with code 1", 10, "Program..."},
		{"tiny limit is only ellipsis", "hello", 3, "..."},
		{"negative limit is only ellipsis", "hello", -1, "..."},
		{"empty string unchanged", "", 10, ""},
		{"runes not bytes", "日本語テスト", 5, "日本..."},
		{"mixed scripts", "print日本語done", 10, "print日本..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateString(tt.input, tt.maxLen); got != tt.expected {
				t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
			}
		})
	}
}

func TestTruncateANSI(t *testing.T) {
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))

	t.Run("plain text truncated", func(t *testing.T) {
		if got := TruncateANSI("Coder Agent finished", 8); got != "Coder..." {
			t.Errorf("TruncateANSI() = %q, want %q", got, "Coder...")
		}
	})

	t.Run("styled text kept when it fits", func(t *testing.T) {
		in := green.Render("ok")
		if got := TruncateANSI(in, 10); got != in {
			t.Errorf("TruncateANSI() modified %q to %q", in, got)
		}
	})

	t.Run("styled text respects width", func(t *testing.T) {
		got := TruncateANSI(green.Render("Executor Agent completed"), 12)
		if w := lipgloss.Width(got); w > 12 {
			t.Errorf("width = %d, want <= 12", w)
		}
	})

	t.Run("wide characters", func(t *testing.T) {
		got := TruncateANSI("日本語テスト", 8)
		if w := lipgloss.Width(got); w > 8 {
			t.Errorf("width = %d, want <= 8", w)
		}
	})

	t.Run("tiny limit", func(t *testing.T) {
		if got := TruncateANSI("hello", 2); got != "..." {
			t.Errorf("TruncateANSI() = %q, want %q", got, "...")
		}
	})
}

func TestOneLine(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"", ""},
		{"single", "single"},
		{"  step 1:\n\tcompute   2+2\n", "step 1: compute 2+2"},
	}
	for _, tt := range tests {
		if got := OneLine(tt.input); got != tt.want {
			t.Errorf("OneLine(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestIndent(t *testing.T) {
	got := Indent("a\n\nb", "  ")
	if want := "  a\n\n  b"; got != want {
		t.Errorf("Indent() = %q, want %q", got, want)
	}
}
