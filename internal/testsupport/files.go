package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"docflow/internal/outline"
)

// WriteOutline serializes doc as YAML under the test's temp directory and
// returns the file path.
func WriteOutline(t testing.TB, doc outline.Document) string {
	t.Helper()

	data, err := yaml.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal outline: %v", err)
	}
	path := filepath.Join(t.TempDir(), "outline.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write outline %s: %v", path, err)
	}
	return path
}

// SampleOutline returns a small outline with one fixed chapter and a nested
// generated chapter.
func SampleOutline() outline.Document {
	return outline.Document{
		Project: outline.Project{Name: "Sample Report", Language: "en", Audience: "reviewers"},
		Chapters: []outline.Node{
			{ChapterNumber: "1", Title: "Preface", FixedContent: "This report was produced automatically."},
			{
				ChapterNumber:  "2",
				Title:          "Findings",
				GovernStandard: "ISO 9001",
				GeneratePrompt: true,
				Children: []outline.Node{
					{ChapterNumber: "2.1", Title: "Method", GeneratePrompt: true},
				},
			},
		},
	}
}
