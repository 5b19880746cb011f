// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package resource maps Uri-Path segment sequences to resource identifiers.
//
// Nodes live in a single arena slice and refer to their children by index,
// so the trie needs no explicit teardown. The root is always node 0 and
// represents the empty path.
package resource

import "sort"

// ID identifies a logical resource.
type ID uint16

type node struct {
	key      string
	children map[string]int
	id       ID
	hasID    bool
}

// Trie is a path trie. It is not safe for concurrent use.
type Trie struct {
	nodes []node
	size  int
}

// NewTrie creates an empty trie.
func NewTrie() *Trie {
	return &Trie{nodes: []node{{}}}
}

// Insert stores id at path, creating missing nodes. Inserting an existing
// path overwrites its id.
func (t *Trie) Insert(path []string, id ID) {
	cur := 0
	for _, seg := range path {
		next, ok := t.nodes[cur].children[seg]
		if !ok {
			next = len(t.nodes)
			t.nodes = append(t.nodes, node{key: seg})
			if t.nodes[cur].children == nil {
				t.nodes[cur].children = make(map[string]int)
			}
			t.nodes[cur].children[seg] = next
		}
		cur = next
	}

	if !t.nodes[cur].hasID {
		t.size++
	}
	t.nodes[cur].id = id
	t.nodes[cur].hasID = true
}

// Search returns the id stored at exactly path. Segments are compared as
// case-sensitive literals and prefixes never match.
func (t *Trie) Search(path []string) (ID, bool) {
	cur := 0
	for _, seg := range path {
		next, ok := t.nodes[cur].children[seg]
		if !ok {
			return 0, false
		}
		cur = next
	}

	n := t.nodes[cur]
	return n.id, n.hasID
}

// Len returns the number of registered paths.
func (t *Trie) Len() int {
	return t.size
}

// Walk calls fn for every registered path, depth first with siblings in
// lexical order. The path slice is reused between calls.
func (t *Trie) Walk(fn func(path []string, id ID)) {
	t.walk(0, nil, fn)
}

func (t *Trie) walk(idx int, path []string, fn func([]string, ID)) {
	n := t.nodes[idx]
	if n.hasID {
		fn(path, n.id)
	}

	keys := make([]string, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		t.walk(n.children[k], append(path, k), fn)
	}
}
