// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package diff streams comparisons between two commits over the vfs, so
// stage-run subtrees are observed alongside base files. Events arrive in a
// stable pre-order walk by sorted name.
package diff

import (
	"context"

	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/antgroup/stageflow/pkg/serve/vfs"
)

type Op int

const (
	OpAdded Op = iota
	OpRemoved
	OpModified
)

func (op Op) String() string {
	switch op {
	case OpAdded:
		return "added"
	case OpRemoved:
		return "removed"
	case OpModified:
		return "modified"
	}
	return "unknown"
}

// Event describes one differing node. Node is the after-side node for Added
// and Modified, the before-side node for Removed. OldNode is populated for
// Modified only. Before and After carry leaf content descriptors when the
// node has content.
type Event struct {
	Op      Op
	Path    string
	Node    *vfs.Node
	OldNode *vfs.Node
	Before  *vfs.Content
	After   *vfs.Content
}

// SinkFunc receives events in stream order. Returning an error aborts the
// walk; plumbing.ErrStop is conventional for early termination.
type SinkFunc func(*Event) error

// Commits diffs before against after. Either side may be nil, in which case
// it is treated as an empty root and everything on the other side streams as
// Added or Removed.
func Commits(ctx context.Context, src *vfs.Source, before, after *database.Commit, sink SinkFunc) error {
	var b, a *vfs.Node
	if before != nil {
		b = vfs.Root(src, before)
	}
	if after != nil {
		a = vfs.Root(src, after)
	}
	return walk(ctx, src, b, a, sink)
}

func isLeaf(n *vfs.Node) bool {
	return n.Kind() == vfs.KindBlob || n.Kind() == vfs.KindStageFile
}

func children(ctx context.Context, n *vfs.Node) ([]*vfs.Node, error) {
	if n == nil {
		return nil, nil
	}
	return n.Children(ctx)
}

// walk merges the children of two matching container nodes by name. Leaves
// with differing content hashes become Modified; same-name nodes of
// different kinds become Removed then Added; container pairs recurse.
func walk(ctx context.Context, src *vfs.Source, before, after *vfs.Node, sink SinkFunc) error {
	bc, err := children(ctx, before)
	if err != nil {
		return err
	}
	ac, err := children(ctx, after)
	if err != nil {
		return err
	}
	i, j := 0, 0
	for i < len(bc) || j < len(ac) {
		switch {
		case j >= len(ac) || (i < len(bc) && bc[i].Name() < ac[j].Name()):
			if err := emitSubtree(ctx, bc[i], OpRemoved, sink); err != nil {
				return err
			}
			i++
		case i >= len(bc) || ac[j].Name() < bc[i].Name():
			if err := emitSubtree(ctx, ac[j], OpAdded, sink); err != nil {
				return err
			}
			j++
		default:
			if err := pair(ctx, src, bc[i], ac[j], sink); err != nil {
				return err
			}
			i++
			j++
		}
	}
	return nil
}

func pair(ctx context.Context, src *vfs.Source, before, after *vfs.Node, sink SinkFunc) error {
	if before.Kind() != after.Kind() {
		if err := emitSubtree(ctx, before, OpRemoved, sink); err != nil {
			return err
		}
		return emitSubtree(ctx, after, OpAdded, sink)
	}
	if isLeaf(before) {
		bh, err := before.ContentHash(ctx)
		if err != nil {
			return err
		}
		ah, err := after.ContentHash(ctx)
		if err != nil {
			return err
		}
		if bh == ah {
			return nil
		}
		bcontent, err := before.Content(ctx)
		if err != nil {
			return err
		}
		acontent, err := after.Content(ctx)
		if err != nil {
			return err
		}
		return sink(&Event{
			Op:      OpModified,
			Path:    after.Path(),
			Node:    after,
			OldNode: before,
			Before:  bcontent,
			After:   acontent,
		})
	}
	return walk(ctx, src, before, after, sink)
}

// emitSubtree emits op for node and then, pre-order, for every descendant.
// Blob nodes expand into their stage-run subtrees here.
func emitSubtree(ctx context.Context, node *vfs.Node, op Op, sink SinkFunc) error {
	ev := &Event{Op: op, Path: node.Path(), Node: node}
	content, err := node.Content(ctx)
	if err != nil {
		return err
	}
	if op == OpAdded {
		ev.After = content
	} else {
		ev.Before = content
	}
	if err := sink(ev); err != nil {
		return err
	}
	nodes, err := node.Children(ctx)
	if err != nil {
		return err
	}
	for _, c := range nodes {
		if err := emitSubtree(ctx, c, op, sink); err != nil {
			return err
		}
	}
	return nil
}
