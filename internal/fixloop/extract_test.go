package fixloop

import (
	"reflect"
	"testing"
)

func TestExtractCommands(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "single block",
			text: "Fix it like this:\n```bash\ngo build ./...\n```\nDone.",
			want: []string{"go build ./..."},
		},
		{
			name: "multiple blocks keep order",
			text: "First:\n```bash\nmake clean\n```\nthen:\n```bash\nmake all\nmake test\n```",
			want: []string{"make clean", "make all", "make test"},
		},
		{
			name: "comments and blanks dropped",
			text: "```bash\n# rebuild everything\n\ngo vet ./...\n   \n# done\ngo test ./...\n```",
			want: []string{"go vet ./...", "go test ./..."},
		},
		{
			name: "other languages ignored",
			text: "```python\nprint('hi')\n```\n```bash\necho hi\n```",
			want: []string{"echo hi"},
		},
		{
			name: "no blocks",
			text: "Everything looks fine, nothing to run.",
			want: nil,
		},
		{
			name: "bare fence ignored",
			text: "```\nnot tagged\n```",
			want: nil,
		},
		{
			name: "whitespace trimmed",
			text: "```bash\n  pip install requests  \n```",
			want: []string{"pip install requests"},
		},
		{
			name: "unclosed block ignored",
			text: "```bash\necho dangling",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractCommands(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractCommands() = %v, want %v", got, tt.want)
			}
		})
	}
}
