// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

// Intifier assigns dense integer identifiers to values of a comparable
// key type. Identifiers start at 0 and are handed out in first-touch
// order; that order is stable for a given corpus traversal and serves
// as the tie-break order wherever linking has to pick among equally
// plausible candidates.
//
// An Intifier only grows. Nothing is ever unregistered, so an
// identifier stays valid for the lifetime of the linker that owns it.
type Intifier[T comparable] struct {
	ids  map[T]int
	vals []T
}

// NewIntifier returns an empty Intifier.
func NewIntifier[T comparable]() *Intifier[T] {
	return &Intifier[T]{ids: make(map[T]int)}
}

// Intify returns the identifier for v, assigning the next free one if v
// has not been seen before.
func (in *Intifier[T]) Intify(v T) int {
	if id, ok := in.ids[v]; ok {
		return id
	}
	id := len(in.vals)
	in.ids[v] = id
	in.vals = append(in.vals, v)
	return id
}

// Lookup returns the identifier for v without assigning one.
func (in *Intifier[T]) Lookup(v T) (int, bool) {
	id, ok := in.ids[v]
	return id, ok
}

// Unintify returns the value behind id. It panics on an identifier that
// was never handed out.
func (in *Intifier[T]) Unintify(id int) T {
	return in.vals[id]
}

// Len returns the number of assigned identifiers. Valid identifiers are
// exactly 0..Len()-1.
func (in *Intifier[T]) Len() int {
	return len(in.vals)
}
