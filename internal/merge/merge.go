// Package merge implements the fill-only-empty deep merge shared by every
// partial-update entry point. A destination field is only set when it is
// currently absent, null, or an empty string; paths declared always-overwrite
// bypass that check.
package merge

import (
	"sort"
	"strings"
)

// Tree is a JSON-shaped object: map of string to scalar or nested Tree.
type Tree = map[string]interface{}

// Flatten reduces a nested object to dot-delimited leaf paths. Nested plain
// objects are descended into; arrays are leaf values.
func Flatten(src Tree) map[string]interface{} {
	out := make(map[string]interface{})
	flattenInto(out, "", src)
	return out
}

func flattenInto(out map[string]interface{}, prefix string, node Tree) {
	for key, val := range node {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if child, ok := val.(map[string]interface{}); ok {
			flattenInto(out, path, child)
			continue
		}
		out[path] = val
	}
}

// Lookup navigates dst by a dot-delimited path. The second return is false
// when any intermediate segment or the leaf itself is absent.
func Lookup(dst Tree, path string) (interface{}, bool) {
	segs := strings.Split(path, ".")
	node := dst
	for i, seg := range segs {
		val, ok := node[seg]
		if !ok {
			return nil, false
		}
		if i == len(segs)-1 {
			return val, true
		}
		child, ok := val.(map[string]interface{})
		if !ok {
			return nil, false
		}
		node = child
	}
	return nil, false
}

func empty(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

// Plan computes the sparse update tree to apply to dst from the proposed
// source object. Overwrite paths are set unconditionally; every other leaf is
// set only when the destination value is absent or empty. Proposed nil values
// never clear a field and are skipped.
func Plan(dst, src Tree, overwrite []string) Tree {
	always := make(map[string]bool, len(overwrite))
	for _, p := range overwrite {
		always[p] = true
	}

	leaves := Flatten(src)
	paths := make([]string, 0, len(leaves))
	for p := range leaves {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	plan := make(Tree)
	for _, path := range paths {
		val := leaves[path]
		if val == nil {
			continue
		}
		if !always[path] {
			if cur, ok := Lookup(dst, path); ok && !empty(cur) {
				continue
			}
		}
		setPath(plan, path, val)
	}
	return plan
}

// Apply writes the update tree into dst, creating intermediate objects as
// needed, and returns dst.
func Apply(dst, plan Tree) Tree {
	for path, val := range Flatten(plan) {
		setPath(dst, path, val)
	}
	return dst
}

func setPath(node Tree, path string, val interface{}) {
	segs := strings.Split(path, ".")
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]interface{})
		if !ok {
			child = make(Tree)
			node[seg] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = val
}
