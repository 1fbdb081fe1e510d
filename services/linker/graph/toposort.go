// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import "slices"

const (
	colorWhite uint8 = iota
	colorGray
	colorBlack
)

// topoSort orders nodes so that successors come before their
// predecessors (dependencies first). The traversal is an iterative
// depth-first search with an explicit frame stack; corpus import chains
// can be deep enough that recursion is not an option.
//
// A back edge (successor currently on the stack) is reported through
// onCycle with the re-entered node and then treated as absent, so the
// result is always a complete ordering of the reachable nodes. Nodes
// are visited in the given order and successors in the order succ
// returns them, which keeps the ordering deterministic.
func topoSort(nodes []int, succ func(int) []int, onCycle func(int)) []int {
	type frame struct {
		node int
		kids []int
		next int
	}

	order := make([]int, 0, len(nodes))
	state := make(map[int]uint8, len(nodes))
	var stack []frame

	for _, root := range nodes {
		if state[root] != colorWhite {
			continue
		}
		state[root] = colorGray
		stack = append(stack, frame{node: root, kids: succ(root)})

		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			if f.next < len(f.kids) {
				child := f.kids[f.next]
				f.next++
				switch state[child] {
				case colorWhite:
					state[child] = colorGray
					stack = append(stack, frame{node: child, kids: succ(child)})
				case colorGray:
					onCycle(child)
				}
				continue
			}
			state[f.node] = colorBlack
			order = append(order, f.node)
			stack = stack[:len(stack)-1]
		}
	}
	return order
}

// sortedKeys returns the keys of a set in ascending order.
func sortedKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
