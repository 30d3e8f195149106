package planner

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"docflow/internal/outline"
	"docflow/internal/tasks"
)

// Skip reasons reported in Dag.Skipped.
const (
	SkipMissingChapter = "missing chapter number"
	SkipMissingTitle   = "missing title"
	SkipDuplicate      = "duplicate chapter number"
	SkipReserved       = "reserved chapter number"
)

const documentChapter = "document"

// BuildDag turns an outline into a task graph. It performs no I/O and returns
// the same graph for the same inputs.
//
// Each chapter with fixed content becomes materialize_fixed -> assemble. Every
// other chapter becomes prepare -> [retrieve] -> write -> verify -> assemble,
// where retrieve is present for every chapter iff any asset is embedding- or
// table-ready. A single assemble:document sink depends on every chapter
// assemble. Malformed outline entries are skipped and listed in Dag.Skipped.
func BuildDag(chapters []outline.Node, assets tasks.AssetReadiness, project tasks.ProjectContext) tasks.Dag {
	b := &builder{
		assets:    assets,
		project:   project,
		retrieval: assets.EmbedReady || assets.TableReady,
		seen:      make(map[string]struct{}),
	}

	for _, flat := range outline.Flatten(chapters) {
		b.addChapter(flat)
	}
	b.addDocumentSink()

	return tasks.Dag{
		Nodes:   b.nodes,
		Edges:   b.edges,
		Summary: summarize(b.nodes),
		Skipped: b.skipped,
	}
}

type builder struct {
	assets    tasks.AssetReadiness
	project   tasks.ProjectContext
	retrieval bool

	seen     map[string]struct{}
	nodes    []tasks.Node
	edges    []tasks.Edge
	skipped  []tasks.Skipped
	chapters []string
}

func (b *builder) addChapter(flat outline.Flat) {
	number := strings.TrimSpace(flat.Node.ChapterNumber)
	title := strings.TrimSpace(flat.Node.Title)

	switch {
	case number == "":
		b.skip(flat, SkipMissingChapter)
		return
	case title == "":
		b.skip(flat, SkipMissingTitle)
		return
	case number == documentChapter:
		b.skip(flat, SkipReserved)
		return
	}
	if _, dup := b.seen[number]; dup {
		b.skip(flat, SkipDuplicate)
		return
	}
	b.seen[number] = struct{}{}

	if flat.Node.HasFixedContent() {
		b.addFixedChapter(flat, number, title)
		return
	}
	b.addGeneratedChapter(flat, number, title)
}

func (b *builder) addFixedChapter(flat outline.Flat, number, title string) {
	fixedID := tasks.NodeID(tasks.KindMaterializeFixed, number)
	assembleID := tasks.NodeID(tasks.KindAssemble, number)

	b.add(tasks.KindMaterializeFixed, number, title, b.metadata(flat))

	meta := b.metadata(flat)
	meta.FixedSourceID = fixedID
	b.add(tasks.KindAssemble, number, title, meta, fixedID)
	b.link(fixedID, assembleID, "fixed content")

	b.chapters = append(b.chapters, assembleID)
}

func (b *builder) addGeneratedChapter(flat outline.Flat, number, title string) {
	prepareID := tasks.NodeID(tasks.KindPrepare, number)
	writeID := tasks.NodeID(tasks.KindWrite, number)
	verifyID := tasks.NodeID(tasks.KindVerify, number)
	assembleID := tasks.NodeID(tasks.KindAssemble, number)

	b.add(tasks.KindPrepare, number, title, b.metadata(flat))

	writeMeta := b.metadata(flat)
	writeMeta.PromptSourceID = prepareID
	writeUpstream := prepareID
	if b.retrieval {
		retrieveID := tasks.NodeID(tasks.KindRetrieve, number)
		meta := b.metadata(flat)
		meta.PromptSourceID = prepareID
		b.add(tasks.KindRetrieve, number, title, meta, prepareID)
		b.link(prepareID, retrieveID, "prompts feed retrieval")

		writeMeta.RetrievalSourceID = retrieveID
		writeUpstream = retrieveID
	}

	b.add(tasks.KindWrite, number, title, writeMeta, writeUpstream)
	if writeUpstream == prepareID {
		b.link(prepareID, writeID, "prompts feed writing")
	} else {
		b.link(writeUpstream, writeID, "context pack feeds writing")
	}

	verifyMeta := b.metadata(flat)
	verifyMeta.DraftSourceID = writeID
	b.add(tasks.KindVerify, number, title, verifyMeta, writeID)
	b.link(writeID, verifyID, "draft needs verification")

	assembleMeta := b.metadata(flat)
	assembleMeta.VerifySourceID = verifyID
	b.add(tasks.KindAssemble, number, title, assembleMeta, verifyID)
	b.link(verifyID, assembleID, "verified draft feeds assembly")

	b.chapters = append(b.chapters, assembleID)
}

func (b *builder) addDocumentSink() {
	deps := make([]string, len(b.chapters))
	copy(deps, b.chapters)

	meta := tasks.Metadata{
		Project:            b.project,
		Assets:             b.assets,
		ChapterAssembleIDs: append([]string(nil), deps...),
	}
	b.nodes = append(b.nodes, tasks.Node{
		ID:           tasks.DocumentSinkID,
		Kind:         tasks.KindAssemble,
		Label:        kindLabel(tasks.KindAssemble) + " document",
		Dependencies: deps,
		Metadata:     meta,
	})
	for _, id := range b.chapters {
		b.link(id, tasks.DocumentSinkID, "chapter into document")
	}
}

func (b *builder) add(kind tasks.Kind, number, title string, meta tasks.Metadata, deps ...string) {
	if deps == nil {
		deps = []string{}
	}
	b.nodes = append(b.nodes, tasks.Node{
		ID:           tasks.NodeID(kind, number),
		Kind:         kind,
		Label:        kindLabel(kind) + " " + number + " " + title,
		OutlineID:    number,
		Dependencies: deps,
		Metadata:     meta,
	})
}

func (b *builder) link(from, to, reason string) {
	b.edges = append(b.edges, tasks.Edge{From: from, To: to, Reason: reason})
}

func (b *builder) skip(flat outline.Flat, reason string) {
	b.skipped = append(b.skipped, tasks.Skipped{
		ChapterNumber: strings.TrimSpace(flat.Node.ChapterNumber),
		ParentID:      flat.ParentID,
		Reason:        reason,
	})
}

// metadata builds a fresh snapshot so no two nodes share an outline pointer.
func (b *builder) metadata(flat outline.Flat) tasks.Metadata {
	node := flat.Node.Shallow()
	return tasks.Metadata{
		Outline:  &node,
		ParentID: flat.ParentID,
		Project:  b.project,
		Assets:   b.assets,
	}
}

func summarize(nodes []tasks.Node) tasks.Summary {
	summary := tasks.Summary{Total: len(nodes), ByKind: make(map[tasks.Kind]int, len(tasks.DagKinds))}
	for _, kind := range tasks.DagKinds {
		summary.ByKind[kind] = 0
	}
	for _, n := range nodes {
		summary.ByKind[n.Kind]++
	}
	return summary
}

var titleCaser = cases.Title(language.Und)

func kindLabel(kind tasks.Kind) string {
	return titleCaser.String(strings.ReplaceAll(string(kind), "_", " "))
}
