// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stex

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

const defaultMaxFileSize = 10 * 1024 * 1024 // 10MB

// ScannerOption configures a Scanner instance.
type ScannerOption func(*Scanner)

// WithScannerLogger sets the logger used for scan diagnostics.
func WithScannerLogger(logger *slog.Logger) ScannerOption {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxFileSize sets the maximum source size the scanner will accept.
func WithMaxFileSize(bytes int64) ScannerOption {
	return func(s *Scanner) {
		if bytes > 0 {
			s.maxFileSize = bytes
		}
	}
}

// Scanner extracts a DocInfo from sTeX source text.
//
// Description:
//
//	The scanner is a single-pass, tolerant macro scanner, not a full
//	LaTeX parser: it tracks comments, balanced braces, and the
//	environments and macros that carry linking information (smodule,
//	mathstructure/extstructure, the dependency macro family, symdef/
//	symdecl, and the verbalization macros). Everything else is skipped.
//	Malformed input never fails a scan; it degrades to fewer extracted
//	facts, logged at debug level.
//
// Thread Safety:
//
//	A Scanner is stateless and safe for concurrent use; each Scan call
//	builds its own traversal state.
type Scanner struct {
	logger      *slog.Logger
	maxFileSize int64
}

// NewScanner creates a Scanner with the given options applied.
func NewScanner(opts ...ScannerOption) *Scanner {
	s := &Scanner{
		logger:      slog.Default(),
		maxFileSize: defaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScanRequest identifies the document being scanned. RelPath is the
// slash-separated path below the archive's source/ directory; it
// supplies the language tag and the sibling file for signature
// dependencies. ArchiveName fills in dependencies that name no archive
// explicitly.
type ScanRequest struct {
	Path        string
	RelPath     string
	ArchiveName string
	Source      []byte
}

// Scan extracts the document facts from req.Source. The returned
// DocInfo is finalized; ModTimeMilli is left zero for the caller to
// stamp.
func (s *Scanner) Scan(ctx context.Context, req ScanRequest) (*DocInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan canceled: %w", err)
	}
	if int64(len(req.Source)) > s.maxFileSize {
		return nil, fmt.Errorf("file %s exceeds maximum size (%d > %d bytes)",
			req.Path, len(req.Source), s.maxFileSize)
	}

	doc := &DocInfo{
		Lang:   LangFromFilename(req.RelPath),
		Length: len(req.Source),
	}

	walk := &docWalk{
		src:    req.Source,
		req:    req,
		doc:    doc,
		logger: s.logger,
	}
	walk.run()

	doc.Finalize()
	return doc, nil
}

// LangFromFilename derives the language tag from a document filename:
// "set.de.tex" yields "de", "set.tex" defaults to "en".
func LangFromFilename(name string) string {
	parts := strings.Split(path.Base(name), ".")
	if len(parts) < 3 {
		return "en"
	}
	return parts[len(parts)-2]
}

// depProducer describes how one dependency macro maps to a Dependency
// record.
type depProducer struct {
	refsModule   bool // main argument is path?module, not a bare file
	optIsArchive bool // \macro[ARCHIVE]{...}
	archiveInKV  bool // \macro[...,archive=ARCHIVE,...]{...}
	flags        DepFlag
}

var depProducers = map[string]depProducer{
	"usemodule":         {refsModule: true, optIsArchive: true, flags: DepUse},
	"requiremodule":     {refsModule: true, optIsArchive: true, flags: DepUse},
	"importmodule":      {refsModule: true, optIsArchive: true},
	"usestructure":      {refsModule: true, flags: DepUseStruct},
	"inputref":          {optIsArchive: true, flags: DepInput},
	"mhinput":           {optIsArchive: true, flags: DepInput},
	"mhgraphics":        {archiveInKV: true, flags: DepNoTeX},
	"cmhgraphics":       {archiveInKV: true, flags: DepNoTeX},
	"mhtikzinput":       {archiveInKV: true, flags: DepNoTeX},
	"cmhtikzinput":      {archiveInKV: true, flags: DepNoTeX},
	"lstinputmhlisting": {archiveInKV: true, flags: DepNoTeX},
	"includeproblem":    {archiveInKV: true, flags: DepInput},
	"includeassignment": {archiveInKV: true, flags: DepInput},
	"libinput":          {optIsArchive: true, flags: DepLib},
	"addmhbibresource":  {archiveInKV: true, flags: DepNoTeX | DepLib},
}

// verbMacros are the macros that produce Verbalization records.
var verbMacros = map[string]bool{
	"sn": true, "sns": true, "Sn": true, "Sns": true, "sr": true,
	"definiendum": true, "definame": true, "Definame": true,
}

// depFixup points at a Dependency whose scope end is patched when the
// enclosing environment closes.
type depFixup struct {
	owner     *ModuleInfo // nil means document level
	idx       int
	alsoIntro bool
}

// envFrame is one open \begin{...} environment.
type envFrame struct {
	name    string
	start   int
	module  *ModuleInfo // set when the environment opened a module or structure
	prevMod *ModuleInfo
	fixups  []depFixup
	// structure symbol declared in the parent module, if any
	symOwner *ModuleInfo
	symIdx   int
}

// docWalk is the per-scan traversal state.
type docWalk struct {
	src    []byte
	pos    int
	req    ScanRequest
	doc    *DocInfo
	logger *slog.Logger

	frames []*envFrame
	cur    *ModuleInfo // innermost open module; nil at document level
}

func (w *docWalk) run() {
	for w.pos < len(w.src) {
		switch w.src[w.pos] {
		case '%':
			w.skipComment()
		case '\\':
			w.scanMacro()
		default:
			w.pos++
		}
	}
	// Unclosed environments get the document end as their end offset.
	for len(w.frames) > 0 {
		f := w.frames[len(w.frames)-1]
		w.logger.Debug("unclosed environment at end of document",
			slog.String("path", w.req.Path),
			slog.String("env", f.name))
		w.closeTopFrame(len(w.src))
	}
}

func (w *docWalk) skipComment() {
	for w.pos < len(w.src) && w.src[w.pos] != '\n' {
		w.pos++
	}
}

func (w *docWalk) scanMacro() {
	start := w.pos
	w.pos++ // backslash
	nameStart := w.pos
	for w.pos < len(w.src) && isMacroLetter(w.src[w.pos]) {
		w.pos++
	}
	if w.pos == nameStart {
		// Escaped single character, e.g. \% or \{.
		if w.pos < len(w.src) {
			w.pos++
		}
		return
	}
	name := string(w.src[nameStart:w.pos])

	switch {
	case name == "begin":
		if env, _, ok := w.readBraceArg(); ok {
			w.handleBegin(start, env)
		}
	case name == "end":
		if env, _, ok := w.readBraceArg(); ok {
			w.handleEnd(env)
		}
	case name == "symdef" || name == "symdecl":
		w.handleSymbolDecl(start, name)
	case verbMacros[name]:
		w.handleVerbalization(start, name)
	default:
		if p, ok := depProducers[name]; ok {
			w.produceDependency(start, p)
		}
	}
}

func (w *docWalk) handleBegin(start int, env string) {
	switch env {
	case "smodule":
		opt, _ := w.readOptArg()
		name, _, ok := w.readBraceArg()
		if !ok {
			w.logger.Debug("smodule without a name argument",
				slog.String("path", w.req.Path), slog.Int("offset", start))
			w.pushFrame(&envFrame{name: env, start: start, symIdx: -1})
			return
		}
		full := name
		if w.cur != nil {
			full = w.cur.Name + "/" + name
		}
		mod := &ModuleInfo{Name: full, Valid: Span{Start: start, End: len(w.src)}}
		w.attachModule(mod)

		frame := &envFrame{name: env, start: start, module: mod, prevMod: w.cur, symIdx: -1}

		// A "sig=<lang>" parameter points at the sibling signature file
		// (e.g. set.de.tex declaring sig=en imports from set.en.tex).
		if sig := parseKeyVals(opt)["sig"]; sig != "" {
			hint := siblingWithLang(w.req.RelPath, sig)
			mod.Dependencies = append(mod.Dependencies, Dependency{
				Archive:    w.req.ArchiveName,
				FileHint:   hint,
				ModuleName: full,
				Scope:      Span{Start: start, End: len(w.src)},
				Intro:      Span{Start: start, End: len(w.src)},
				RelativeOK: true,
			})
			frame.fixups = append(frame.fixups, depFixup{owner: mod, idx: len(mod.Dependencies) - 1, alsoIntro: true})
		}

		w.pushFrame(frame)
		w.cur = mod

	case "mathstructure", "extstructure":
		isExt := env == "extstructure"
		w.readStar()
		name, _, ok := w.readBraceArg()
		if !ok {
			w.pushFrame(&envFrame{name: env, start: start, symIdx: -1})
			return
		}
		opt, _ := w.readOptArg()
		var structDeps []string
		if isExt {
			if deps, _, ok := w.readBraceArg(); ok {
				for _, d := range strings.Split(deps, ",") {
					if d = strings.TrimSpace(d); d != "" {
						structDeps = append(structDeps, d)
					}
				}
			}
		}
		if w.cur == nil {
			w.logger.Warn("structure declared outside of a module",
				slog.String("path", w.req.Path), slog.String("structure", name))
			w.pushFrame(&envFrame{name: env, start: start, symIdx: -1})
			return
		}

		symName := name
		if opt != "" {
			if first := strings.TrimSpace(strings.Split(opt, ",")[0]); first != "" {
				symName = first
			}
		}
		w.cur.Symbols = append(w.cur.Symbols, Symbol{Name: symName, Decl: Span{Start: start, End: len(w.src)}})

		mod := &ModuleInfo{
			Name:        w.cur.Name + "/" + name + "-module",
			StructName:  name,
			Valid:       Span{Start: start, End: len(w.src)},
			IsStructure: true,
			StructDeps:  structDeps,
		}
		w.cur.Modules = append(w.cur.Modules, mod)

		w.pushFrame(&envFrame{
			name:     env,
			start:    start,
			module:   mod,
			prevMod:  w.cur,
			symOwner: w.cur,
			symIdx:   len(w.cur.Symbols) - 1,
		})
		w.cur = mod

	default:
		w.pushFrame(&envFrame{name: env, start: start, symIdx: -1})
	}
}

func (w *docWalk) handleEnd(env string) {
	// Find the matching open frame; tolerate stray \end by ignoring it.
	match := -1
	for i := len(w.frames) - 1; i >= 0; i-- {
		if w.frames[i].name == env {
			match = i
			break
		}
	}
	if match < 0 {
		return
	}
	end := w.pos
	for len(w.frames) > match {
		w.closeTopFrame(end)
	}
}

func (w *docWalk) pushFrame(f *envFrame) {
	w.frames = append(w.frames, f)
}

func (w *docWalk) closeTopFrame(end int) {
	f := w.frames[len(w.frames)-1]
	w.frames = w.frames[:len(w.frames)-1]

	for _, fix := range f.fixups {
		deps := w.doc.Dependencies
		if fix.owner != nil {
			deps = fix.owner.Dependencies
		}
		deps[fix.idx].Scope.End = end
		if fix.alsoIntro {
			deps[fix.idx].Intro.End = end
		}
	}
	if f.symIdx >= 0 && f.symOwner != nil {
		f.symOwner.Symbols[f.symIdx].Decl.End = end
	}
	if f.module != nil {
		f.module.Valid.End = end
		w.cur = f.prevMod
	}
}

func (w *docWalk) attachModule(mod *ModuleInfo) {
	if w.cur != nil {
		w.cur.Modules = append(w.cur.Modules, mod)
	} else {
		w.doc.Modules = append(w.doc.Modules, mod)
	}
}

func (w *docWalk) produceDependency(start int, p depProducer) {
	w.readStar()
	var archive string
	if p.optIsArchive {
		if opt, ok := w.readOptArg(); ok {
			archive = strings.TrimSpace(opt)
		}
	} else if p.archiveInKV {
		if opt, ok := w.readOptArg(); ok {
			archive = parseKeyVals(opt)["archive"]
		}
	}
	main, _, ok := w.readBraceArg()
	if !ok {
		return
	}
	if archive == "" {
		archive = w.req.ArchiveName
	}

	dep := Dependency{
		Archive:    archive,
		Flags:      p.flags,
		Scope:      Span{Start: start, End: len(w.src)},
		Intro:      Span{Start: start, End: w.pos},
		RelativeOK: !p.flags.Has(DepNoTeX),
	}
	switch {
	case p.refsModule:
		if file, module, found := strings.Cut(main, "?"); found {
			dep.FileHint = file
			dep.ModuleName = module
		} else {
			dep.FileHint = main
			dep.ModuleName = main[strings.LastIndex(main, "/")+1:]
		}
	case p.flags.Has(DepNoTeX):
		// Target file is irrelevant for linking; keep the metadata only.
	default:
		dep.FileHint = main
	}
	w.addDependency(dep)
}

func (w *docWalk) addDependency(dep Dependency) {
	var fix depFixup
	if w.cur != nil {
		w.cur.Dependencies = append(w.cur.Dependencies, dep)
		fix = depFixup{owner: w.cur, idx: len(w.cur.Dependencies) - 1}
	} else {
		w.doc.Dependencies = append(w.doc.Dependencies, dep)
		fix = depFixup{owner: nil, idx: len(w.doc.Dependencies) - 1}
	}
	if n := len(w.frames); n > 0 {
		top := w.frames[n-1]
		top.fixups = append(top.fixups, fix)
	}
}

func (w *docWalk) handleSymbolDecl(start int, macro string) {
	var name string
	switch macro {
	case "symdef":
		first, _, ok := w.readBraceArg()
		if !ok {
			return
		}
		opt, _ := w.readOptArg()
		name = parseKeyVals(opt)["name"]
		if name == "" {
			name = first
		}
	case "symdecl":
		w.readStar()
		n, _, ok := w.readBraceArg()
		if !ok {
			return
		}
		name = n
	}
	if w.cur == nil {
		w.logger.Warn("symbol declared outside of a module",
			slog.String("path", w.req.Path), slog.String("symbol", name))
		return
	}
	w.cur.Symbols = append(w.cur.Symbols, Symbol{Name: name, Decl: Span{Start: start, End: w.pos}})
}

func (w *docWalk) handleVerbalization(start int, macro string) {
	var pre, post string
	var symbol, text string

	if macro == "sr" || macro == "definiendum" {
		w.readOptArg()
		a, _, ok1 := w.readBraceArg()
		b, _, ok2 := w.readBraceArg()
		if !ok1 || !ok2 {
			return
		}
		symbol, text = a, b
	} else {
		if opt, ok := w.readOptArg(); ok {
			kv := parseKeyVals(opt)
			pre, post = kv["pre"], kv["post"]
		}
		a, _, ok := w.readBraceArg()
		if !ok {
			return
		}
		symbol = a
		text = symbol[strings.LastIndex(symbol, "?")+1:]
	}

	if macro == "Sn" || macro == "Sns" || macro == "Definame" {
		if text == "" {
			return
		}
		r, size := utf8.DecodeRuneInString(text)
		text = string(unicode.ToUpper(r)) + text[size:]
	}
	if macro == "sns" || macro == "Sns" {
		text += "s"
	}
	text = collapseWS(pre + text + post)
	symbol = collapseWS(symbol)

	var hint string
	name := symbol
	if i := strings.LastIndex(symbol, "?"); i >= 0 {
		hint, name = symbol[:i], symbol[i+1:]
	}

	w.doc.Verbalizations = append(w.doc.Verbalizations, Verbalization{
		SymbolName: name,
		PathHint:   hint,
		Text:       text,
		Lang:       w.doc.Lang,
		Macro:      Span{Start: start, End: w.pos},
		Defining:   macro == "definiendum" || macro == "definame" || macro == "Definame",
	})
}

// ---- low-level token readers ----

func isMacroLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (w *docWalk) skipSpace() {
	for w.pos < len(w.src) {
		switch w.src[w.pos] {
		case ' ', '\t', '\n', '\r':
			w.pos++
		default:
			return
		}
	}
}

// readStar consumes an optional star following a macro name.
func (w *docWalk) readStar() bool {
	w.skipSpace()
	if w.pos < len(w.src) && w.src[w.pos] == '*' {
		w.pos++
		return true
	}
	return false
}

// readOptArg consumes an optional [...] argument and returns its inner
// text. Brackets do not nest; braces inside the argument are honored.
func (w *docWalk) readOptArg() (string, bool) {
	w.skipSpace()
	if w.pos >= len(w.src) || w.src[w.pos] != '[' {
		return "", false
	}
	start := w.pos + 1
	depth := 0
	for i := start; i < len(w.src); i++ {
		switch w.src[i] {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case ']':
			if depth == 0 {
				w.pos = i + 1
				return string(w.src[start:i]), true
			}
		}
	}
	// Unterminated; treat as absent.
	return "", false
}

// readBraceArg consumes a balanced {...} argument and returns its inner
// text plus the span including the braces.
func (w *docWalk) readBraceArg() (string, Span, bool) {
	w.skipSpace()
	if w.pos >= len(w.src) || w.src[w.pos] != '{' {
		return "", Span{}, false
	}
	start := w.pos
	depth := 0
	for i := w.pos; i < len(w.src); i++ {
		switch w.src[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				w.pos = i + 1
				return string(w.src[start+1 : i]), Span{Start: start, End: i + 1}, true
			}
		}
	}
	return "", Span{}, false
}

// parseKeyVals splits "a=1, b={x,y}, flag" into a key/value map.
// Commas inside braces do not split; one surrounding brace layer is
// stripped from values.
func parseKeyVals(s string) map[string]string {
	out := make(map[string]string)
	if s == "" {
		return out
	}
	depth := 0
	start := 0
	flush := func(end int) {
		item := strings.TrimSpace(s[start:end])
		if item == "" {
			return
		}
		key, val, found := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if !found {
			out[key] = ""
			return
		}
		val = strings.TrimSpace(val)
		if len(val) >= 2 && val[0] == '{' && val[len(val)-1] == '}' {
			val = val[1 : len(val)-1]
		}
		out[key] = val
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				flush(i)
				start = i + 1
			}
		}
	}
	flush(len(s))
	return out
}

// collapseWS normalizes all whitespace runs to single spaces.
func collapseWS(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// siblingWithLang swaps the language segment of a document filename:
// siblingWithLang("sets/set.de.tex", "en") returns "sets/set.en.tex".
// Returns "" when the filename carries no language segment.
func siblingWithLang(relPath, lang string) string {
	base := path.Base(relPath)
	parts := strings.Split(base, ".")
	if len(parts) <= 2 {
		return ""
	}
	parts[len(parts)-2] = lang
	dir := path.Dir(relPath)
	if dir == "." {
		return strings.Join(parts, ".")
	}
	return dir + "/" + strings.Join(parts, ".")
}
