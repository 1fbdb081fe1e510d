// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mathhub

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// manifestRelPath is the manifest location inside an archive.
const manifestRelPath = "META-INF/MANIFEST.MF"

// Manifest holds the key/value pairs of an archive's MANIFEST.MF file.
// Lines have the form "key: value"; the split happens at the first
// colon. Typical keys are "id", "format", "ns" and "dependencies".
type Manifest map[string]string

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := make(Manifest)
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found || key == "" {
			return nil, fmt.Errorf("malformed manifest line %d in %s: %q", lineNo, path, line)
		}
		m[key] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	return m, nil
}

// ID returns the archive name declared in the manifest, or "".
func (m Manifest) ID() string { return m["id"] }

// Format returns the declared archive format, or "".
func (m Manifest) Format() string { return m["format"] }

// Dependencies returns the comma-separated archive dependency list.
func (m Manifest) Dependencies() []string {
	raw, ok := m["dependencies"]
	if !ok {
		return nil
	}
	var out []string
	for _, d := range strings.Split(raw, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}
