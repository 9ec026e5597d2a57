// Package organize tidies a project root: top-level files are matched
// against ordered bucket mappings and moved into their target directories.
// Planning and applying are separate so a dry run never touches the disk.
package organize

import (
	"strings"

	"drover/internal/config"
)

// Mapping is one bucket: files matching Names (exact) or Keywords
// (case-insensitive substring) move into Dir. Buckets are checked in order;
// the first match wins.
type Mapping struct {
	Dir      string
	Names    []string
	Keywords []string
}

// DefaultMappings returns the built-in buckets. Archive comes last so the
// more specific buckets get first pick.
func DefaultMappings() []Mapping {
	return []Mapping{
		{
			Dir:      "docs",
			Names:    []string{"NOTES.txt", "TODO.txt"},
			Keywords: []string{"readme", "changelog", "guide", ".md", ".rst"},
		},
		{
			Dir:      "scripts",
			Keywords: []string{".sh", "run_", "setup_", "install_", "deploy_"},
		},
		{
			Dir:      "logs",
			Keywords: []string{".log", "_output", "debug_", "trace_"},
		},
		{
			Dir:      "archive",
			Keywords: []string{"_old", "old_", "_backup", "backup_", "_v1", "_v2", "_fixed", "_final", "deprecated", "copy of"},
		},
	}
}

// FromConfig converts configured mappings, falling back to the defaults
// when none are configured.
func FromConfig(mappings []config.MappingConfig) []Mapping {
	if len(mappings) == 0 {
		return DefaultMappings()
	}
	out := make([]Mapping, 0, len(mappings))
	for _, m := range mappings {
		if m.Dir == "" {
			continue
		}
		out = append(out, Mapping{Dir: m.Dir, Names: m.Names, Keywords: m.Keywords})
	}
	if len(out) == 0 {
		return DefaultMappings()
	}
	return out
}

// match returns the matching bucket and the reason, or ok=false when no
// bucket wants the file.
func match(name string, mappings []Mapping) (Mapping, string, bool) {
	lower := strings.ToLower(name)
	for _, m := range mappings {
		for _, exact := range m.Names {
			if name == exact {
				return m, "name " + exact, true
			}
		}
		for _, kw := range m.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return m, "keyword " + kw, true
			}
		}
	}
	return Mapping{}, "", false
}
