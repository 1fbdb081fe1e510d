// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mathhub

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glossarium/stexlink/services/linker/stex"
)

// quietLogger keeps test output free of the Info-level scan chatter.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// corpus builds a MathHub root in a temp directory. Archives are
// directories carrying a .git subdirectory, which is what discovery
// keys on.
type corpus struct {
	t    *testing.T
	root string
}

func newCorpus(t *testing.T) *corpus {
	t.Helper()
	return &corpus{t: t, root: t.TempDir()}
}

// addArchive creates relDir as a git repository. An empty manifest
// means no MANIFEST.MF is written.
func (c *corpus) addArchive(relDir, manifest string) {
	c.t.Helper()
	dir := filepath.Join(c.root, filepath.FromSlash(relDir))
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
		c.t.Fatalf("creating archive %s: %v", relDir, err)
	}
	if manifest == "" {
		return
	}
	metaDir := filepath.Join(dir, "META-INF")
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		c.t.Fatalf("creating META-INF for %s: %v", relDir, err)
	}
	if err := os.WriteFile(filepath.Join(metaDir, "MANIFEST.MF"), []byte(manifest), 0o644); err != nil {
		c.t.Fatalf("writing manifest for %s: %v", relDir, err)
	}
}

// addFile writes a file below the corpus root, creating parent
// directories. Returns the absolute path.
func (c *corpus) addFile(relPath, content string) string {
	c.t.Helper()
	p := filepath.Join(c.root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		c.t.Fatalf("creating directories for %s: %v", relPath, err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		c.t.Fatalf("writing %s: %v", relPath, err)
	}
	return p
}

func (c *corpus) open(t *testing.T, opts ...Option) *MathHub {
	t.Helper()
	mh, err := New(c.root, append([]Option{WithLogger(quietLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return mh
}

func stexManifest(id string) string {
	return "id: " + id + "\nformat: stex\n"
}

func moduleSource(name string) string {
	return "\\begin{smodule}{" + name + "}\n\\symdecl*{thing}\n\\end{smodule}\n"
}

func TestNew_MissingRoot(t *testing.T) {
	t.Setenv("MATHHUB", "")
	if _, err := New(""); !errors.Is(err, ErrNoRoot) {
		t.Errorf("New(\"\") error = %v, want ErrNoRoot", err)
	}
}

func TestNew_RootFromEnvironment(t *testing.T) {
	c := newCorpus(t)
	c.addArchive("smglom/sets", stexManifest("smglom/sets"))
	t.Setenv("MATHHUB", c.root)

	mh, err := New("", WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if mh.Archive("smglom/sets") == nil {
		t.Error("archive from $MATHHUB root not discovered")
	}
}

func TestNew_RootNotDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(file); err == nil {
		t.Error("expected error for non-directory root")
	}
}

func TestDiscovery(t *testing.T) {
	c := newCorpus(t)
	c.addArchive("smglom/sets", stexManifest("smglom/sets"))
	c.addArchive("smglom/numbers", stexManifest("smglom/numbers"))
	// A stray directory without .git is not an archive, even with
	// sources inside.
	c.addFile("scratch/source/note.tex", moduleSource("note"))
	// A repository inside a repository is not discovered separately.
	c.addArchive("smglom/sets/vendored", stexManifest("vendored"))
	// A .git file (worktree pointer) does not mark an archive.
	c.addFile("worktree/.git", "gitdir: elsewhere")

	mh := c.open(t)

	var names []string
	for _, a := range mh.Archives() {
		names = append(names, a.Name())
	}
	want := []string{"smglom/numbers", "smglom/sets"}
	if len(names) != len(want) {
		t.Fatalf("archives = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("archives[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestArchive_Name(t *testing.T) {
	c := newCorpus(t)
	c.addArchive("named", "id: my/archive\nformat: stex\n")
	c.addArchive("bare", "")
	c.addArchive("anonymous", "format: stex\n")
	mh := c.open(t)

	if a := mh.Archive("my/archive"); a == nil {
		t.Error("manifest id not used as archive name")
	}
	if a := mh.Archive("bare"); a == nil {
		t.Error("archive without manifest not named after its directory")
	}
	if a := mh.Archive("anonymous"); a == nil {
		t.Error("archive with blank manifest id not named after its directory")
	}
}

func TestArchive_IsStexArchive(t *testing.T) {
	c := newCorpus(t)
	c.addArchive("stexarch", stexManifest("stexarch"))
	c.addArchive("otherarch", "id: otherarch\nformat: latex\n")
	c.addArchive("plainrepo", "")
	mh := c.open(t)

	if !mh.Archive("stexarch").IsStexArchive() {
		t.Error("format stex not recognized")
	}
	if mh.Archive("otherarch").IsStexArchive() {
		t.Error("format latex treated as stex")
	}
	if mh.Archive("plainrepo").IsStexArchive() {
		t.Error("archive without manifest treated as stex")
	}
	if got := len(mh.StexArchives()); got != 1 {
		t.Errorf("StexArchives() returned %d archives, want 1", got)
	}
}

func TestMakeFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		ignore string
		arch   string
		want   bool
	}{
		{"no patterns admit everything", "", "", "smglom/sets", true},
		{"filter match", "smglom/*", "", "smglom/sets", true},
		{"filter miss", "smglom/*", "", "mmt/urtheories", false},
		{"ignore only vetoes its match", "", "smglom/private", "smglom/private", false},
		{"ignore only admits the rest", "", "smglom/private", "smglom/sets", true},
		{"comma-separated filters", "smglom/*, mmt/*", "", "mmt/urtheories", true},
		{"ignore vetoes filter match", "smglom/*", "smglom/sets", "smglom/sets", false},
		{"glob is single-segment", "smglom/*", "", "smglom/sets/deep", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := MakeFilter(tt.filter, tt.ignore)
			if got := f(tt.arch); got != tt.want {
				t.Errorf("MakeFilter(%q, %q)(%q) = %v, want %v", tt.filter, tt.ignore, tt.arch, got, tt.want)
			}
		})
	}
}

func TestDocuments_DeterministicOrder(t *testing.T) {
	c := newCorpus(t)
	// Directory order and name order disagree on purpose: documents
	// must come out ordered by archive name.
	c.addArchive("zzz", stexManifest("alpha"))
	c.addArchive("aaa", stexManifest("beta"))
	c.addFile("zzz/source/b.en.tex", moduleSource("b"))
	c.addFile("zzz/source/a.en.tex", moduleSource("a"))
	c.addFile("aaa/source/x.en.tex", moduleSource("x"))
	c.addFile("aaa/lib/macros.tex", "% helper macros\n")
	c.addFile("aaa/source/.hidden.tex", moduleSource("hidden"))
	c.addFile("aaa/source/notes.txt", "not tex")

	mh := c.open(t)
	docs := mh.Documents()

	var rels []string
	for _, d := range docs {
		rels = append(rels, d.Archive().Name()+"/"+d.RelPath())
	}
	want := []string{
		"alpha/source/a.en.tex",
		"alpha/source/b.en.tex",
		"beta/lib/macros.tex",
		"beta/source/x.en.tex",
	}
	if len(rels) != len(want) {
		t.Fatalf("documents = %v, want %v", rels, want)
	}
	for i := range want {
		if rels[i] != want[i] {
			t.Errorf("documents[%d] = %q, want %q", i, rels[i], want[i])
		}
	}
}

func TestDocuments_FilterApplied(t *testing.T) {
	c := newCorpus(t)
	c.addArchive("smglom/sets", stexManifest("smglom/sets"))
	c.addArchive("mmt/urtheories", stexManifest("mmt/urtheories"))
	c.addFile("smglom/sets/source/set.en.tex", moduleSource("set"))
	c.addFile("mmt/urtheories/source/lf.en.tex", moduleSource("lf"))

	mh := c.open(t, WithFilter("smglom/*", ""))
	docs := mh.Documents()
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}
	if got := docs[0].Archive().Name(); got != "smglom/sets" {
		t.Errorf("document archive = %q, want smglom/sets", got)
	}
}

func TestDocument_Paths(t *testing.T) {
	c := newCorpus(t)
	c.addArchive("smglom/sets", stexManifest("smglom/sets"))
	abs := c.addFile("smglom/sets/source/deep/set.de.tex", moduleSource("set"))

	mh := c.open(t)
	doc := mh.Document(abs)
	if doc == nil {
		t.Fatal("document not found by absolute path")
	}
	if got := doc.RelPath(); got != "source/deep/set.de.tex" {
		t.Errorf("RelPath() = %q", got)
	}
	if got := doc.SourceRelPath(); got != "deep/set.de.tex" {
		t.Errorf("SourceRelPath() = %q", got)
	}
	if got := doc.Lang(); got != "de" {
		t.Errorf("Lang() = %q, want de", got)
	}
}

func TestArchive_ResolvePathRef(t *testing.T) {
	c := newCorpus(t)
	c.addArchive("arch", stexManifest("arch"))
	c.addFile("arch/source/exact.tex", "%\n")
	c.addFile("arch/source/nat.en.tex", "%\n")
	c.addFile("arch/source/nat.de.tex", "%\n")
	c.addFile("arch/source/dir/mod.en.tex", "%\n")
	c.addFile("arch/source/denat.de.tex", "%\n")
	c.addFile("arch/lib/preamble.tex", "%\n")
	mh := c.open(t)
	a := mh.Archive("arch")

	tests := []struct {
		name   string
		ref    string
		topDir string
		lang   string
		suffix string // expected path suffix, "" for a miss
	}{
		{"exact path", "exact.tex", "source", "en", "source/exact.tex"},
		{"appends .tex", "exact", "source", "en", "source/exact.tex"},
		{"language sibling", "nat", "source", "de", "source/nat.de.tex"},
		{"any language picks first sorted", "nat", "source", "", "source/nat.de.tex"},
		{"english fallback", "dir/mod", "source", "de", "source/dir/mod.en.tex"},
		{"lib top dir", "preamble", "lib", "en", "lib/preamble.tex"},
		{"empty ref", "", "source", "en", ""},
		{"miss", "missing", "source", "en", ""},
		{"no fallback for english sources", "denat", "source", "en", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := a.ResolvePathRef(tt.ref, tt.topDir, tt.lang)
			if tt.suffix == "" {
				if ok {
					t.Errorf("resolved %q to %q, want miss", tt.ref, got)
				}
				return
			}
			if !ok {
				t.Fatalf("ResolvePathRef(%q, %q, %q) missed", tt.ref, tt.topDir, tt.lang)
			}
			if !strings.HasSuffix(filepath.ToSlash(got), tt.suffix) {
				t.Errorf("resolved to %q, want suffix %q", got, tt.suffix)
			}
		})
	}
}

func TestArchive_ResolvePathRefMemoizesMisses(t *testing.T) {
	c := newCorpus(t)
	c.addArchive("arch", stexManifest("arch"))
	c.addFile("arch/source/seed.tex", "%\n")
	mh := c.open(t)
	a := mh.Archive("arch")

	if _, ok := a.ResolvePathRef("late", "source", "en"); ok {
		t.Fatal("unexpected hit before the file exists")
	}
	c.addFile("arch/source/late.tex", "%\n")
	if _, ok := a.ResolvePathRef("late", "source", "en"); ok {
		t.Error("memoized miss should persist until the next rescan")
	}
	mh.Update()
	if _, ok := a.ResolvePathRef("late", "source", "en"); !ok {
		t.Error("rescan did not reset the resolution cache")
	}
}

func TestResolveDependency(t *testing.T) {
	ctx := context.Background()
	c := newCorpus(t)
	c.addArchive("smglom/sets", stexManifest("smglom/sets"))
	c.addArchive("smglom/numbers", stexManifest("smglom/numbers"))
	srcPath := c.addFile("smglom/sets/source/main.en.tex", moduleSource("main"))
	// Both a directory-per-module layout and a flat sibling exist; the
	// module-suffixed lookup must win.
	c.addFile("smglom/sets/source/grp/grp.en.tex", moduleSource("grp"))
	c.addFile("smglom/sets/source/grp.en.tex", moduleSource("decoy"))
	c.addFile("smglom/sets/source/onlyplain.en.tex", moduleSource("onlyplain"))
	c.addFile("smglom/sets/source/deep/inner.en.tex", moduleSource("inner"))
	c.addFile("smglom/sets/source/deep/helper.en.tex", moduleSource("helper"))
	c.addFile("smglom/sets/lib/preamble.tex", "%\n")
	c.addFile("smglom/numbers/source/nat.en.tex", moduleSource("nat"))

	mh := c.open(t)
	src := mh.Document(srcPath)
	if src == nil {
		t.Fatal("source document not found")
	}

	t.Run("module suffixed path wins", func(t *testing.T) {
		doc, mod := mh.ResolveDependency(ctx, src, stex.Dependency{
			Archive: "smglom/sets", FileHint: "grp", ModuleName: "grp",
		})
		if doc == nil {
			t.Fatal("dependency did not resolve")
		}
		if got := doc.RelPath(); got != "source/grp/grp.en.tex" {
			t.Errorf("resolved %q, want source/grp/grp.en.tex", got)
		}
		if mod == nil || mod.Name != "grp" {
			t.Errorf("module = %+v, want grp", mod)
		}
	})

	t.Run("plain file hint", func(t *testing.T) {
		doc, mod := mh.ResolveDependency(ctx, src, stex.Dependency{
			Archive: "smglom/sets", FileHint: "onlyplain", ModuleName: "onlyplain",
		})
		if doc == nil || doc.RelPath() != "source/onlyplain.en.tex" {
			t.Fatalf("doc = %v", doc)
		}
		if mod == nil || mod.Name != "onlyplain" {
			t.Errorf("module = %+v, want onlyplain", mod)
		}
	})

	t.Run("named module absent", func(t *testing.T) {
		doc, mod := mh.ResolveDependency(ctx, src, stex.Dependency{
			Archive: "smglom/sets", FileHint: "onlyplain", ModuleName: "ghost",
		})
		if doc == nil {
			t.Fatal("file should still resolve")
		}
		if mod != nil {
			t.Errorf("module = %+v, want nil", mod)
		}
	})

	t.Run("cross archive", func(t *testing.T) {
		doc, mod := mh.ResolveDependency(ctx, src, stex.Dependency{
			Archive: "smglom/numbers", FileHint: "nat", ModuleName: "nat",
		})
		if doc == nil || doc.Archive().Name() != "smglom/numbers" {
			t.Fatalf("doc = %v", doc)
		}
		if mod == nil || mod.Name != "nat" {
			t.Errorf("module = %+v, want nat", mod)
		}
	})

	t.Run("relative to declaring file", func(t *testing.T) {
		inner := mh.Archive("smglom/sets").Document("source/deep/inner.en.tex")
		doc, _ := mh.ResolveDependency(ctx, inner, stex.Dependency{
			Archive: "smglom/sets", FileHint: "helper", ModuleName: "helper", RelativeOK: true,
		})
		if doc == nil || doc.RelPath() != "source/deep/helper.en.tex" {
			t.Fatalf("doc = %v, want the sibling below deep/", doc)
		}
	})

	t.Run("relative needs opt-in", func(t *testing.T) {
		inner := mh.Archive("smglom/sets").Document("source/deep/inner.en.tex")
		doc, _ := mh.ResolveDependency(ctx, inner, stex.Dependency{
			Archive: "smglom/sets", FileHint: "helper", ModuleName: "helper",
		})
		if doc != nil {
			t.Errorf("doc = %v, want nil without RelativeOK", doc)
		}
	})

	t.Run("lib dependency", func(t *testing.T) {
		doc, _ := mh.ResolveDependency(ctx, src, stex.Dependency{
			Archive: "smglom/sets", FileHint: "preamble", Flags: stex.DepLib,
		})
		if doc == nil || doc.RelPath() != "lib/preamble.tex" {
			t.Fatalf("doc = %v, want lib/preamble.tex", doc)
		}
	})

	t.Run("unknown archive", func(t *testing.T) {
		doc, mod := mh.ResolveDependency(ctx, src, stex.Dependency{
			Archive: "not/installed", FileHint: "x",
		})
		if doc != nil || mod != nil {
			t.Errorf("got (%v, %v), want (nil, nil)", doc, mod)
		}
	})

	t.Run("empty file hint", func(t *testing.T) {
		doc, mod := mh.ResolveDependency(ctx, src, stex.Dependency{Archive: "smglom/sets"})
		if doc != nil || mod != nil {
			t.Errorf("got (%v, %v), want (nil, nil)", doc, mod)
		}
	})
}

func TestUpdate_PicksUpNewFiles(t *testing.T) {
	c := newCorpus(t)
	c.addArchive("arch", stexManifest("arch"))
	c.addFile("arch/source/first.en.tex", moduleSource("first"))
	mh := c.open(t)

	if got := len(mh.Documents()); got != 1 {
		t.Fatalf("got %d documents, want 1", got)
	}
	c.addFile("arch/source/second.en.tex", moduleSource("second"))
	mh.Update()
	if got := len(mh.Documents()); got != 2 {
		t.Errorf("got %d documents after rescan, want 2", got)
	}
}

func TestUpdate_DropsVanishedArchive(t *testing.T) {
	c := newCorpus(t)
	c.addArchive("keep", stexManifest("keep"))
	c.addArchive("gone", stexManifest("gone"))
	c.addFile("gone/source/x.en.tex", moduleSource("x"))
	mh := c.open(t)

	if mh.Archive("gone") == nil {
		t.Fatal("archive missing before removal")
	}
	if err := os.RemoveAll(filepath.Join(c.root, "gone")); err != nil {
		t.Fatalf("removing archive: %v", err)
	}
	mh.Update()
	if mh.Archive("gone") != nil {
		t.Error("vanished archive still listed")
	}
	if mh.Archive("keep") == nil {
		t.Error("surviving archive dropped")
	}
}
