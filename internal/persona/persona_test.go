package persona

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePersona(t *testing.T, root, dir, content string) string {
	t.Helper()
	path := filepath.Join(root, dir, personaFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir persona dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write persona file: %v", err)
	}
	return path
}

func TestLoadRegistry_LoadsFilePersona(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := writePersona(t, root, "sarcastic", "---\nname: Sarcastic\ndescription: dry humour\n---\nYou answer with dry wit.\n")

	r, err := LoadRegistry(root)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	p, ok := r.Get("sarcastic")
	if !ok {
		t.Fatal("sarcastic persona not found")
	}
	if p.Prompt != "You answer with dry wit." {
		t.Errorf("prompt = %q", p.Prompt)
	}
	if p.Description != "dry humour" || p.Source != path {
		t.Errorf("persona = %+v", p)
	}
	if got := strings.Join(r.Names(), ","); got != "default,owner,sarcastic" {
		t.Errorf("Names = %s", got)
	}
}

func TestLoadRegistry_MissingDirKeepsBuiltins(t *testing.T) {
	t.Parallel()

	r, err := LoadRegistry(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if !r.Has(Default) || !r.Has(Owner) {
		t.Error("built-in personas missing")
	}
}

func TestLoadRegistry_NotADirectory(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "personas")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRegistry(file); err == nil {
		t.Fatal("expected error for non-directory path")
	}
}

func TestLoadRegistry_OverridesBuiltin(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePersona(t, root, "default", "---\nname: default\n---\nCustom default prompt.\n")

	r, err := LoadRegistry(root)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	p, _ := r.Get(Default)
	if p.Prompt != "Custom default prompt." {
		t.Errorf("prompt = %q", p.Prompt)
	}
}

func TestLoadRegistry_DuplicateName(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePersona(t, root, "a", "---\nname: twin\n---\nOne.\n")
	writePersona(t, root, "b", "---\nname: twin\n---\nTwo.\n")

	_, err := LoadRegistry(root)
	if err == nil || !strings.Contains(err.Error(), "duplicate persona name") {
		t.Fatalf("err = %v, want duplicate error", err)
	}
}

func TestLoadRegistry_InvalidYAMLSkipped(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(orig)

	root := t.TempDir()
	writePersona(t, root, "broken", "---\nname: [unterminated\n---\nBody.\n")
	writePersona(t, root, "fine", "---\nname: fine\n---\nFine.\n")

	r, err := LoadRegistry(root)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if !r.Has("fine") {
		t.Error("valid persona should load")
	}
	if !strings.Contains(buf.String(), "skip invalid YAML persona") {
		t.Errorf("missing warning log, got %q", buf.String())
	}
}

func TestLoadRegistry_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no frontmatter", "just text\n", "missing YAML frontmatter"},
		{"unclosed", "---\nname: x\n", "missing closing frontmatter separator"},
		{"no name", "---\ndescription: d\n---\nBody.\n", "missing name"},
		{"empty prompt", "---\nname: x\n---\n\n", "empty prompt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writePersona(t, root, "p", tt.content)
			_, err := LoadRegistry(root)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestGet_FallsBackToDefault(t *testing.T) {
	t.Parallel()

	r := Builtin()
	p, ok := r.Get("pirate")
	if ok {
		t.Error("unknown persona reported as found")
	}
	if p.Name != Default {
		t.Errorf("fallback = %q, want default", p.Name)
	}
	if p, ok := r.Get(" OWNER "); !ok || p.Name != Owner {
		t.Errorf("Get(OWNER) = %q/%v", p.Name, ok)
	}
}

func TestWriteExample(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := WriteExample(root, "casual", "laid back", "Keep it chill."); err != nil {
		t.Fatalf("WriteExample: %v", err)
	}
	// second call leaves the file alone
	if err := WriteExample(root, "casual", "other", "Other."); err != nil {
		t.Fatalf("WriteExample again: %v", err)
	}
	r, err := LoadRegistry(root)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	p, ok := r.Get("casual")
	if !ok || p.Prompt != "Keep it chill." || p.Description != "laid back" {
		t.Errorf("persona = %+v", p)
	}
}
