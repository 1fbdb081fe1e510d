// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stex

// Span is a half-open byte interval [Start, End) within a document.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether the offset lies inside the span.
func (s Span) Contains(offset int) bool {
	return s.Start <= offset && offset < s.End
}

// Overlaps reports whether the two spans share at least one byte.
func (s Span) Overlaps(other Span) bool {
	return s.Start < other.End && other.Start < s.End
}

// Covers reports whether other lies entirely within s.
func (s Span) Covers(other Span) bool {
	return s.Start <= other.Start && other.End <= s.End
}

// Len returns the number of bytes spanned.
func (s Span) Len() int {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}
