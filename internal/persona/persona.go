// Package persona loads the system prompts the agent speaks with. A persona
// lives in <dir>/<name>/PERSONA.md: YAML frontmatter then the prompt body.
package persona

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	personaFileName = "PERSONA.md"

	Default = "default"
	Owner   = "owner"
)

var errInvalidPersonaYAML = errors.New("invalid persona YAML frontmatter")

type Persona struct {
	Name        string
	Description string
	Prompt      string
	// Source is the file the persona came from, empty for built-ins.
	Source string
}

type personaFrontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

var builtins = []Persona{
	{
		Name:        Default,
		Description: "Friendly group-chat regular",
		Prompt: "You are a regular member of a group chat. Reply like a person typing on a phone: " +
			"short, casual, one or two sentences, no lists or headings. Match the language of the message.",
	},
	{
		Name:        Owner,
		Description: "Candid assistant for the bot's owner",
		Prompt: "You are talking with the person who runs you. Be direct and helpful, a little informal, " +
			"and answer fully when asked for detail. Match the language of the message.",
	},
}

// Registry is read-only after LoadRegistry and safe for concurrent use.
type Registry struct {
	byName map[string]Persona
}

// Builtin returns a registry holding only the built-in personas.
func Builtin() *Registry {
	r := &Registry{byName: make(map[string]Persona, len(builtins))}
	for _, p := range builtins {
		r.byName[p.Name] = p
	}
	return r
}

// LoadRegistry adds the personas under dir to the built-ins. A missing dir is
// not an error. Files with broken YAML are skipped with a warning; two files
// claiming the same name are rejected. A file may replace a built-in.
func LoadRegistry(dir string) (*Registry, error) {
	r := Builtin()

	dir = strings.TrimSpace(dir)
	if dir == "" {
		return r, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return r, nil
		}
		return nil, fmt.Errorf("stat persona dir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("persona path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read persona dir %q: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	seen := make(map[string]string, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), personaFileName)
		p, skip, err := parsePersonaFile(path)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		if prev, exists := seen[p.Name]; exists {
			return nil, fmt.Errorf("duplicate persona name %q in %s (already in %s)", p.Name, path, prev)
		}
		seen[p.Name] = path
		r.byName[p.Name] = p
	}
	return r, nil
}

func parsePersonaFile(path string) (Persona, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Persona{}, true, nil
		}
		return Persona{}, false, fmt.Errorf("read persona %q: %w", path, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		if errors.Is(err, errInvalidPersonaYAML) {
			log.Printf("[persona] warning: skip invalid YAML persona %s: %v", path, err)
			return Persona{}, true, nil
		}
		return Persona{}, false, fmt.Errorf("parse persona %q: %w", path, err)
	}
	name := strings.ToLower(strings.TrimSpace(meta.Name))
	if name == "" {
		return Persona{}, false, fmt.Errorf("parse persona %q: missing name", path)
	}
	prompt := strings.TrimSpace(body)
	if prompt == "" {
		return Persona{}, false, fmt.Errorf("parse persona %q: empty prompt", path)
	}
	return Persona{
		Name:        name,
		Description: strings.TrimSpace(meta.Description),
		Prompt:      prompt,
		Source:      path,
	}, false, nil
}

func parseFrontmatter(content []byte) (personaFrontmatter, string, error) {
	text := strings.TrimPrefix(string(content), "\uFEFF")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return personaFrontmatter{}, "", errors.New("missing YAML frontmatter")
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return personaFrontmatter{}, "", errors.New("missing closing frontmatter separator")
	}

	var meta personaFrontmatter
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &meta); err != nil {
		return personaFrontmatter{}, "", fmt.Errorf("%w: %v", errInvalidPersonaYAML, err)
	}
	return meta, strings.Join(lines[end+1:], "\n"), nil
}

// Get returns the named persona, or the default one when name is unknown.
// The bool reports whether name itself was found.
func (r *Registry) Get(name string) (Persona, bool) {
	if p, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p, true
	}
	return r.byName[Default], false
}

func (r *Registry) Has(name string) bool {
	_, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Names lists persona names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// WriteExample creates <dir>/<name>/PERSONA.md unless it exists.
func WriteExample(dir, name, description, prompt string) error {
	path := filepath.Join(dir, name, personaFileName)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create persona dir: %w", err)
	}
	body := fmt.Sprintf("---\nname: %s\ndescription: %s\n---\n%s\n", name, description, prompt)
	return os.WriteFile(path, []byte(body), 0644)
}
