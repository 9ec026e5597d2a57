package chat

import (
	"strings"
	"testing"
)

func TestExtractTextParagraphs(t *testing.T) {
	in := `<div class="model-response-text">
		<p>First paragraph with <strong>bold</strong> text.</p>
		<p>Second   paragraph.</p>
	</div>`

	got := ExtractText(in)
	want := "First paragraph with bold text.\nSecond paragraph."
	if got != want {
		t.Errorf("ExtractText:\n got %q\nwant %q", got, want)
	}
}

func TestExtractTextPreservesCodeBlocks(t *testing.T) {
	in := `<div><p>Run this:</p><pre><code>func main() {
	fmt.Println("hi")
}</code></pre><p>Done.</p></div>`

	got := ExtractText(in)
	if !strings.Contains(got, "func main() {\n\tfmt.Println(\"hi\")\n}") {
		t.Errorf("code block whitespace not preserved:\n%s", got)
	}
	if !strings.Contains(got, "Run this:") || !strings.Contains(got, "Done.") {
		t.Errorf("surrounding prose lost:\n%s", got)
	}
}

func TestExtractTextDropsScriptsAndStyles(t *testing.T) {
	in := `<div><style>.x{color:red}</style><script>alert(1)</script><p>visible</p></div>`

	got := ExtractText(in)
	if got != "visible" {
		t.Errorf("ExtractText = %q, want %q", got, "visible")
	}
}

func TestExtractTextLineBreaks(t *testing.T) {
	in := `<div>line one<br>line two<br/>line three</div>`

	got := ExtractText(in)
	want := "line one\nline two\nline three"
	if got != want {
		t.Errorf("ExtractText = %q, want %q", got, want)
	}
}

func TestExtractTextListItems(t *testing.T) {
	in := `<ul><li>alpha</li><li>beta</li></ul>`

	got := ExtractText(in)
	if !strings.Contains(got, "alpha") || !strings.Contains(got, "beta") {
		t.Fatalf("list items lost: %q", got)
	}
	if !strings.Contains(got, "\n") {
		t.Errorf("list items should be on separate lines: %q", got)
	}
}

func TestExtractTextCollapsesBlankRuns(t *testing.T) {
	in := `<div><p>a</p><div></div><div></div><div></div><p>b</p></div>`

	got := ExtractText(in)
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank line run not collapsed: %q", got)
	}
}

func TestExtractTextPlainString(t *testing.T) {
	// Non-HTML input passes through.
	if got := ExtractText("just plain text"); got != "just plain text" {
		t.Errorf("ExtractText = %q", got)
	}
	if got := ExtractText(""); got != "" {
		t.Errorf("empty input should stay empty, got %q", got)
	}
}
