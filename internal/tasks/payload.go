package tasks

import (
	"encoding/json"
	"strings"

	"docflow/internal/outline"
)

// Payload is the job body handed to a work function. Only the fields the
// task's kind needs are populated.
type Payload struct {
	ProjectID string         `json:"projectId"`
	TaskID    string         `json:"taskId"`
	Kind      Kind           `json:"kind"`
	Attempt   int            `json:"attempt,omitempty"`
	Outline   *outline.Node  `json:"outline,omitempty"`
	Project   ProjectContext `json:"project"`
	Assets    AssetReadiness `json:"assets"`

	FixedContent string          `json:"fixedContent,omitempty"`
	Prompts      json.RawMessage `json:"prompts,omitempty"`
	ContextPack  json.RawMessage `json:"contextPack,omitempty"`
	Draft        string          `json:"draft,omitempty"`
	Patches      []Patch         `json:"patches,omitempty"`
	Violations   []Violation     `json:"violations,omitempty"`
	Sections     []Section       `json:"sections,omitempty"`
	Children     []string        `json:"children,omitempty"`
}

// Section is one chapter handed to the document-level assemble task.
type Section struct {
	TaskID        string `json:"taskId"`
	ChapterNumber string `json:"chapterNumber,omitempty"`
	Title         string `json:"title,omitempty"`
	Content       string `json:"content"`
}

// MaterializeResult is produced by materialize_fixed.
type MaterializeResult struct {
	Content string `json:"content"`
}

// PrepareResult is produced by prepare.
type PrepareResult struct {
	Prompts []string `json:"prompts"`
}

// Snippet is one retrieved passage.
type Snippet struct {
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Score  float64 `json:"score,omitempty"`
}

// RetrieveResult is produced by retrieve.
type RetrieveResult struct {
	Snippets []Snippet `json:"snippets"`
}

// WriteResult is produced by write.
type WriteResult struct {
	Draft     string   `json:"draft"`
	Citations []string `json:"citations,omitempty"`
}

// VerifyStatus is the tri-state outcome of a verify task.
type VerifyStatus string

const (
	VerifyAccept   VerifyStatus = "accept"
	VerifySoftFail VerifyStatus = "soft_fail"
	VerifyHardFail VerifyStatus = "hard_fail"
)

// Violation is one problem found by a verifier.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PatchOp names a draft edit.
type PatchOp string

const (
	PatchPrepend PatchOp = "prepend"
	PatchAppend  PatchOp = "append"
	PatchReplace PatchOp = "replace"
)

// Patch is a proposed draft edit carried from verify to autofix.
type Patch struct {
	Op   PatchOp `json:"op"`
	Find string  `json:"find,omitempty"`
	Text string  `json:"text"`
}

// VerifyOutcome is the structured result of a verify task.
type VerifyOutcome struct {
	Status     VerifyStatus `json:"status"`
	Draft      string       `json:"draft"`
	Violations []Violation  `json:"violations,omitempty"`
	Patches    []Patch      `json:"patches,omitempty"`
}

// AutofixResult is produced by autofix.
type AutofixResult struct {
	Draft string `json:"draft"`
}

// AssembleResult is produced by assemble.
type AssembleResult struct {
	ChapterNumber string   `json:"chapterNumber,omitempty"`
	Title         string   `json:"title,omitempty"`
	Content       string   `json:"content"`
	Children      []string `json:"children,omitempty"`
}

// TextOf extracts the text body of a stored result, whichever result shape
// produced it.
func TextOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var shape struct {
		Draft   string `json:"draft"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
		return ""
	}
	if strings.TrimSpace(shape.Draft) != "" {
		return shape.Draft
	}
	return shape.Content
}
