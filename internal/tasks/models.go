package tasks

import (
	"encoding/json"
	"strings"
	"time"

	"docflow/internal/outline"
)

// Kind identifies the work a task performs and the queue it is dispatched to.
type Kind string

const (
	KindMaterializeFixed Kind = "materialize_fixed"
	KindPrepare          Kind = "prepare"
	KindRetrieve         Kind = "retrieve"
	KindWrite            Kind = "write"
	KindVerify           Kind = "verify"
	KindAssemble         Kind = "assemble"

	// KindAutofix is synthetic: autofix jobs repair a soft-failed verify task
	// and never appear in a DAG.
	KindAutofix Kind = "autofix"
)

// DagKinds lists the kinds a planner may emit, in pipeline order.
var DagKinds = []Kind{
	KindMaterializeFixed,
	KindPrepare,
	KindRetrieve,
	KindWrite,
	KindVerify,
	KindAssemble,
}

// QueueKinds lists every kind that owns a queue.
func QueueKinds() []Kind {
	out := make([]Kind, 0, len(DagKinds)+1)
	out = append(out, DagKinds...)
	return append(out, KindAutofix)
}

// ParseKind converts a string into a known Kind.
func ParseKind(value string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range QueueKinds() {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// DocumentSinkID is the id of the whole-document assemble node.
const DocumentSinkID = "assemble:document"

// NodeID derives a task id from its kind and outline chapter number.
func NodeID(kind Kind, chapter string) string {
	return string(kind) + ":" + chapter
}

// AssetReadiness records whether any ingested asset supports retrieval.
type AssetReadiness = outline.Assets

// ProjectContext is the project-wide context copied into task metadata.
type ProjectContext = outline.Project

// Metadata is the snapshot a work function needs, plus the fields the
// verify/autofix cycle accumulates.
//
// Upstream results are referenced by exact task id rather than discovered by
// id prefix.
type Metadata struct {
	Outline  *outline.Node  `json:"outline,omitempty"`
	ParentID string         `json:"parentId,omitempty"`
	Project  ProjectContext `json:"project"`
	Assets   AssetReadiness `json:"assets"`

	FixedSourceID      string   `json:"fixedSourceId,omitempty"`
	PromptSourceID     string   `json:"promptSourceId,omitempty"`
	RetrievalSourceID  string   `json:"retrievalSourceId,omitempty"`
	DraftSourceID      string   `json:"draftSourceId,omitempty"`
	VerifySourceID     string   `json:"verifySourceId,omitempty"`
	ChapterAssembleIDs []string `json:"chapterAssembleIds,omitempty"`

	Draft           string      `json:"draft,omitempty"`
	PendingPatches  []Patch     `json:"pendingPatches,omitempty"`
	Violations      []Violation `json:"violations,omitempty"`
	AutofixAttempts int         `json:"autofixAttempts,omitempty"`
	AutofixJobID    string      `json:"autofixJobId,omitempty"`

	// JobID is the queue job the task was last dispatched as. Events from
	// any other job are stale.
	JobID string `json:"jobId,omitempty"`
}

// Node is one planned task.
type Node struct {
	ID           string   `json:"id"`
	Kind         Kind     `json:"kind"`
	Label        string   `json:"label"`
	OutlineID    string   `json:"outlineId,omitempty"`
	Dependencies []string `json:"dependencies"`
	Metadata     Metadata `json:"metadata"`
}

// Edge documents a dependency for diagnostics. Enforcement lives in
// Node.Dependencies.
type Edge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// Summary counts a DAG's nodes.
type Summary struct {
	Total  int          `json:"total"`
	ByKind map[Kind]int `json:"byKind"`
}

// Skipped records an outline entry the planner dropped.
type Skipped struct {
	ChapterNumber string `json:"chapterNumber,omitempty"`
	ParentID      string `json:"parentId,omitempty"`
	Reason        string `json:"reason"`
}

// Dag is the node and edge set produced by one planning pass.
type Dag struct {
	Nodes   []Node    `json:"nodes"`
	Edges   []Edge    `json:"edges"`
	Summary Summary   `json:"summary"`
	Skipped []Skipped `json:"skipped,omitempty"`
}

// Record is a persisted task keyed by (ProjectID, ID).
type Record struct {
	ProjectID    string
	ID           string
	Kind         Kind
	Label        string
	OutlineID    string
	Status       Status
	Dependencies []string
	Dependents   []string
	Metadata     Metadata
	Result       json.RawMessage
	Error        string
	Retries      int
	Deadline     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsReadyGiven reports whether the record is ready when its dependencies have
// the supplied statuses. Missing dependencies are never satisfied.
func (r *Record) IsReadyGiven(statuses map[string]Status) bool {
	if r == nil || r.Status != StatusPending {
		return false
	}
	for _, dep := range r.Dependencies {
		if statuses[dep] != StatusCompleted {
			return false
		}
	}
	return true
}
