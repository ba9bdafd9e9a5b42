package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yukin371/palaver/internal/core"
)

func sampleTurns() []*core.Turn {
	return []*core.Turn{
		core.TextTurn(core.RoleUser, "What is 2+3?"),
		core.NewTurn(core.RoleAssistant,
			core.ToolRequest{ID: "1", Name: "add", Arguments: map[string]any{"a": 2, "b": 3}},
		),
		core.NewTurn(core.RoleUser, core.ToolResult{ID: "1", Value: 5}),
		core.TextTurn(core.RoleAssistant, "The answer is **5**."),
	}
}

func TestTranscriptMarkdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.md")
	err := Transcript(path, sampleTurns(), Options{
		Title:        "Arithmetic",
		SystemPrompt: "be precise",
	})
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)

	for _, want := range []string{"# Arithmetic", "## User", "## Assistant", "The answer is **5**.", "## System prompt", "be precise"} {
		if !strings.Contains(got, want) {
			t.Errorf("transcript missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "tool request") {
		t.Error("tool traffic should be filtered out by default")
	}
}

func TestTranscriptIncludeAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.md")
	err := Transcript(path, sampleTurns(), Options{IncludeAll: true})
	if err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "tool request") {
		t.Error("IncludeAll should keep tool requests")
	}
}

func TestTranscriptHTMLEscapes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.html")
	turns := []*core.Turn{
		core.TextTurn(core.RoleAssistant, "use <b> tags & entities"),
	}
	if err := Transcript(path, turns, Options{Title: "T"}); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	got := string(data)
	if !strings.Contains(got, "&lt;b&gt;") || !strings.Contains(got, "&amp;") {
		t.Errorf("html output not escaped:\n%s", got)
	}
}

func TestTranscriptOverwriteGuard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.md")
	if err := os.WriteFile(path, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := Transcript(path, sampleTurns(), Options{})
	if err == nil {
		t.Fatal("want error for existing file")
	}

	if err := Transcript(path, sampleTurns(), Options{Overwrite: true}); err != nil {
		t.Fatalf("overwrite should succeed: %v", err)
	}
}

func TestTranscriptUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.pdf")
	if err := Transcript(path, sampleTurns(), Options{}); err == nil {
		t.Fatal("want error for unsupported extension")
	}
}
