// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stex

import "testing"

func TestSpan_Contains(t *testing.T) {
	s := Span{Start: 10, End: 20}

	tests := []struct {
		name   string
		offset int
		want   bool
	}{
		{"before start", 9, false},
		{"at start", 10, true},
		{"inside", 15, true},
		{"last byte", 19, true},
		{"at end is exclusive", 20, false},
		{"after end", 25, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Contains(tt.offset); got != tt.want {
				t.Errorf("Contains(%d) = %v, want %v", tt.offset, got, tt.want)
			}
		})
	}
}

func TestSpan_Overlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Span
		want bool
	}{
		{"disjoint before", Span{0, 5}, Span{5, 10}, false},
		{"disjoint after", Span{5, 10}, Span{0, 5}, false},
		{"partial overlap", Span{0, 6}, Span{5, 10}, true},
		{"contained", Span{0, 10}, Span{2, 4}, true},
		{"identical", Span{3, 7}, Span{3, 7}, true},
		{"single shared byte", Span{0, 5}, Span{4, 9}, true},
		{"empty span at boundary", Span{0, 0}, Span{0, 10}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Errorf("%v.Overlaps(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Errorf("%v.Overlaps(%v) = %v, want %v (symmetry)", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

func TestSpan_Covers(t *testing.T) {
	tests := []struct {
		name string
		a, b Span
		want bool
	}{
		{"proper subset", Span{0, 10}, Span{2, 8}, true},
		{"identical", Span{0, 10}, Span{0, 10}, true},
		{"shared start", Span{0, 10}, Span{0, 5}, true},
		{"shared end", Span{0, 10}, Span{5, 10}, true},
		{"extends past end", Span{0, 10}, Span{5, 11}, false},
		{"starts before", Span{2, 10}, Span{1, 5}, false},
		{"disjoint", Span{0, 5}, Span{6, 8}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Covers(tt.b); got != tt.want {
				t.Errorf("%v.Covers(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSpan_Len(t *testing.T) {
	if got := (Span{Start: 3, End: 10}).Len(); got != 7 {
		t.Errorf("Len = %d, want 7", got)
	}
	if got := (Span{Start: 10, End: 3}).Len(); got != 0 {
		t.Errorf("inverted span Len = %d, want 0", got)
	}
}

func TestDepFlag_Has(t *testing.T) {
	f := DepUse | DepLib
	if !f.Has(DepUse) {
		t.Error("Has(DepUse) = false, want true")
	}
	if !f.Has(DepUse | DepLib) {
		t.Error("Has(DepUse|DepLib) = false, want true")
	}
	if f.Has(DepNoTeX) {
		t.Error("Has(DepNoTeX) = true, want false")
	}
	if f.Has(DepUse | DepNoTeX) {
		t.Error("Has(DepUse|DepNoTeX) = true, want false for partial match")
	}
}
