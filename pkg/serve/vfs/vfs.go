// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package vfs unifies base git objects and derived invocation outputs into
// one lazy tree. A blob is both a file and a directory whose subdirectories
// are the workflow runs rooted at it; run nodes expand into output files and
// child runs. Nodes hold only ids and fetch lazily through a shared Source.
package vfs

import (
	"context"
	"path"
	"sort"

	"github.com/antgroup/stageflow/modules/plumbing"
	"github.com/antgroup/stageflow/pkg/serve/blob"
	"github.com/antgroup/stageflow/pkg/serve/database"
)

type Kind int

const (
	KindTree Kind = iota
	KindBlob
	KindStageRun
	KindStageFile
)

func (k Kind) String() string {
	switch k {
	case KindTree:
		return "TREE"
	case KindBlob:
		return "BLOB"
	case KindStageRun:
		return "STAGERUN"
	case KindStageFile:
		return "STAGEFILE"
	}
	return "UNKNOWN"
}

// Source is the borrowed handle nodes resolve through.
type Source struct {
	DB       database.DB
	Store    blob.Store
	RepoID   int64
	RepoName string
}

// Node is a tagged variant over the four member kinds. Exactly the fields of
// the active variant are populated; everything is fetched lazily.
type Node struct {
	src  *Source
	kind Kind
	name string
	path string

	treeHash   string
	blobHash   string
	commitHash string // originating commit, carried by tree and blob nodes
	runID      string
	filePath   string // stage file name within its run
	fileRunID  string
}

// Root returns the tree node of a commit with an empty name.
func Root(src *Source, commit *database.Commit) *Node {
	return &Node{src: src, kind: KindTree, treeHash: commit.TreeHash, commitHash: commit.Hash}
}

func (n *Node) Name() string {
	return n.name
}

// Path is the full path from the commit root.
func (n *Node) Path() string {
	return n.path
}

func (n *Node) Kind() Kind {
	return n.kind
}

func (n *Node) TypeLabel() string {
	switch n.kind {
	case KindTree:
		return "base tree"
	case KindBlob:
		return "base blob"
	case KindStageRun:
		return "StageRun"
	case KindStageFile:
		return "StageFile"
	}
	return "unknown"
}

// StageRunID returns the invocation id for stage run nodes.
func (n *Node) StageRunID() string {
	return n.runID
}

func (n *Node) child(name string) string {
	return path.Join(n.path, name)
}

// Children lists member nodes sorted by name. Leaf stage files sort together
// with child runs under their run node.
func (n *Node) Children(ctx context.Context) ([]*Node, error) {
	switch n.kind {
	case KindTree:
		return n.treeChildren(ctx)
	case KindBlob:
		return n.blobChildren(ctx)
	case KindStageRun:
		return n.runChildren(ctx)
	case KindStageFile:
		return nil, nil
	}
	return nil, nil
}

func (n *Node) treeChildren(ctx context.Context) ([]*Node, error) {
	t, err := n.src.DB.FindTree(ctx, n.src.RepoID, n.treeHash)
	if err != nil {
		return nil, err
	}
	children := make([]*Node, 0, len(t.Entries))
	for _, e := range t.Entries {
		c := &Node{src: n.src, name: e.Name, path: n.child(e.Name), commitHash: n.commitHash}
		if e.Kind == database.KindTree {
			c.kind = KindTree
			c.treeHash = e.TargetHash
		} else {
			c.kind = KindBlob
			c.blobHash = e.TargetHash
		}
		children = append(children, c)
	}
	return children, nil
}

// blobChildren are the parentless stage runs of this workflow file at the
// node's originating commit, keyed by stage name.
func (n *Node) blobChildren(ctx context.Context) ([]*Node, error) {
	runs, err := n.src.DB.RootStageRuns(ctx, n.src.RepoName, n.commitHash, n.path)
	if err != nil {
		return nil, err
	}
	children := make([]*Node, 0, len(runs))
	for _, run := range runs {
		children = append(children, &Node{
			src:   n.src,
			kind:  KindStageRun,
			name:  run.StageName,
			path:  n.child(run.StageName),
			runID: run.ID,
		})
	}
	sortNodes(children)
	return children, nil
}

func (n *Node) runChildren(ctx context.Context) ([]*Node, error) {
	files, err := n.src.DB.StageFiles(ctx, n.runID)
	if err != nil {
		return nil, err
	}
	runs, err := n.src.DB.ChildStageRuns(ctx, n.runID)
	if err != nil {
		return nil, err
	}
	children := make([]*Node, 0, len(files)+len(runs))
	for _, f := range files {
		children = append(children, &Node{
			src:       n.src,
			kind:      KindStageFile,
			name:      f.FilePath,
			path:      n.child(f.FilePath),
			fileRunID: f.StageRunID,
			filePath:  f.FilePath,
		})
	}
	for _, run := range runs {
		children = append(children, &Node{
			src:   n.src,
			kind:  KindStageRun,
			name:  run.StageName,
			path:  n.child(run.StageName),
			runID: run.ID,
		})
	}
	sortNodes(children)
	return children, nil
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].name < nodes[j].name })
}

// Content describes leaf bytes: a base blob, or the pseudo-blob of a stage
// file. A stage file's pseudo-blob is not a row in the blob table; it simply
// satisfies the same (hash, size, storage key) shape.
type Content struct {
	Hash       string
	Size       int64
	StorageKey string
	src        *Source
}

// Bytes retrieves the content from the blob backend.
func (c *Content) Bytes(ctx context.Context) ([]byte, error) {
	return c.src.Store.Get(ctx, plumbing.NewHash(c.Hash))
}

// Content returns leaf content, or nil for container nodes.
func (n *Node) Content(ctx context.Context) (*Content, error) {
	switch n.kind {
	case KindBlob:
		b, err := n.src.DB.FindBlob(ctx, n.src.RepoID, n.blobHash)
		if err != nil {
			return nil, err
		}
		return &Content{Hash: b.Hash, Size: b.Size, StorageKey: b.StorageKey, src: n.src}, nil
	case KindStageFile:
		f, err := n.src.DB.FindStageFile(ctx, n.fileRunID, n.filePath)
		if err != nil {
			return nil, err
		}
		return &Content{Hash: f.ContentHash, Size: f.Size, StorageKey: f.StorageKey, src: n.src}, nil
	}
	return nil, nil
}

// ContentHash returns the leaf content hash without loading bytes; container
// nodes report their identity hash (tree hash or run id).
func (n *Node) ContentHash(ctx context.Context) (string, error) {
	switch n.kind {
	case KindTree:
		return n.treeHash, nil
	case KindStageRun:
		return n.runID, nil
	}
	c, err := n.Content(ctx)
	if err != nil {
		return "", err
	}
	return c.Hash, nil
}

// Resolve walks path from node, matching children by name at every level.
// The stage-view path language <workflow_file>/<stage>/.../[<output_file>]
// falls out of the blob and run children definitions.
func Resolve(ctx context.Context, node *Node, p string) (*Node, error) {
	current := node
	for _, seg := range splitPath(p) {
		children, err := current.Children(ctx)
		if err != nil {
			return nil, err
		}
		var next *Node
		for _, c := range children {
			if c.name == seg {
				next = c
				break
			}
		}
		if next == nil {
			return nil, &plumbing.ErrPathNotFound{Path: p}
		}
		current = next
	}
	return current, nil
}

func splitPath(p string) []string {
	var segments []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				segments = append(segments, p[start:i])
			}
			start = i + 1
		}
	}
	return segments
}
