package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

// executeCommand runs a command with the given args and captures output.
func executeCommand(args ...string) (string, error) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootHelp(t *testing.T) {
	_, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGlobalFlags(t *testing.T) {
	root := NewRootCmd()

	formatFlag := root.PersistentFlags().Lookup("format")
	if formatFlag == nil {
		t.Fatal("expected --format flag to exist")
	}
	if formatFlag.DefValue != "text" {
		t.Errorf("expected --format default 'text', got %q", formatFlag.DefValue)
	}

	for _, name := range []string{"config", "db", "dev"} {
		if root.PersistentFlags().Lookup(name) == nil {
			t.Errorf("expected --%s flag to exist", name)
		}
	}
}

func TestVersion(t *testing.T) {
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != Version {
		t.Errorf("version output = %q, want %q", out, Version)
	}
}

func TestArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"collect takes no args", []string{"collect", "75102"}},
		{"export needs a file", []string{"export"}},
		{"references import needs a file", []string{"references", "import"}},
		{"references fetch needs three args", []string{"references", "fetch", "75102", "Paris"}},
		{"report send takes no args", []string{"report", "send", "marie"}},
		{"customers list takes no args", []string{"customers", "list", "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := executeCommand(tt.args...); err == nil {
				t.Fatal("expected an args error")
			}
		})
	}
}

func TestCollectWindow(t *testing.T) {
	now := time.Date(2024, 3, 15, 13, 0, 0, 0, time.UTC)
	day := func(s string) time.Time {
		d, _ := time.Parse(time.DateOnly, s)
		return d
	}

	tests := []struct {
		name     string
		opts     collectOptions
		wantFrom string
		wantTo   string
		wantErr  bool
	}{
		{"defaults", collectOptions{}, "2023-03-15", "2024-03-15", false},
		{"months", collectOptions{months: 3}, "2023-12-15", "2024-03-15", false},
		{"explicit", collectOptions{from: "2023-01-01", to: "2023-12-31"}, "2023-01-01", "2023-12-31", false},
		{"to only", collectOptions{to: "2023-06-30", months: 6}, "2022-12-30", "2023-06-30", false},
		{"bad date", collectOptions{from: "01/01/2023"}, "", "", true},
		{"inverted", collectOptions{from: "2024-01-01", to: "2023-01-01"}, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, err := tt.opts.window(now, 12)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("window() error = %v", err)
			}
			if !from.Equal(day(tt.wantFrom)) || !to.Equal(day(tt.wantTo)) {
				t.Errorf("window() = %s..%s, want %s..%s", from.Format(time.DateOnly), to.Format(time.DateOnly), tt.wantFrom, tt.wantTo)
			}
		})
	}
}

func TestFormatCounts(t *testing.T) {
	if got := formatCounts(nil); got != "none" {
		t.Errorf("formatCounts(nil) = %q", got)
	}
	if got := formatCounts(map[string]int{"b": 2, "a": 1}); got != "a=1, b=2" {
		t.Errorf("formatCounts() = %q", got)
	}
}
