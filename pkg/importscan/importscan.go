// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package importscan extracts import/export/require specifiers from
// JavaScript and TypeScript source text via Tree-sitter, the same
// grammar-walking approach the teacher's ingestion parser uses for
// function and call extraction (pkg/ingestion/parser_treesitter.go,
// parser_javascript.go), pointed instead at module-level specifiers.
package importscan

import (
	"context"
	"log/slog"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Kind classifies how a specifier is referenced.
type Kind int

const (
	Named Kind = iota
	Default
	Namespace
	ReExportNamed
	ReExportAll
	Require
	TypeOnly
)

func (k Kind) String() string {
	switch k {
	case Named:
		return "named"
	case Default:
		return "default"
	case Namespace:
		return "namespace"
	case ReExportNamed:
		return "re_export_named"
	case ReExportAll:
		return "re_export_all"
	case Require:
		return "require"
	case TypeOnly:
		return "type_only"
	default:
		return "unknown"
	}
}

// Specifier is a single occurrence of a module reference in source order.
type Specifier struct {
	Value string
	Kind  Kind
}

// MaxSpecifiers bounds the number of specifiers returned per file; past
// this the list is truncated and a warning logged (spec §4.2).
const MaxSpecifiers = 500

// Language selects the grammar used to parse a file, distinguishing the
// TSX dialect which needs its own grammar to parse JSX inside .tsx files.
type Language int

const (
	JavaScript Language = iota
	TypeScript
	TSX
)

// LanguageForExt maps a lowercase file extension (including the leading
// dot) to the grammar that should parse it. The second return value is
// false for extensions this package does not scan.
func LanguageForExt(ext string) (Language, bool) {
	switch ext {
	case ".js", ".jsx", ".mjs", ".cjs":
		return JavaScript, true
	case ".ts", ".mts", ".cts":
		return TypeScript, true
	case ".tsx":
		return TSX, true
	default:
		return 0, false
	}
}

var (
	jsPool  sync.Pool
	tsPool  sync.Pool
	tsxPool sync.Pool
	once    sync.Once
)

func initPools() {
	once.Do(func() {
		jsPool.New = func() any {
			p := sitter.NewParser()
			p.SetLanguage(javascript.GetLanguage())
			return p
		}
		tsPool.New = func() any {
			p := sitter.NewParser()
			p.SetLanguage(typescript.GetLanguage())
			return p
		}
		tsxPool.New = func() any {
			p := sitter.NewParser()
			p.SetLanguage(tsx.GetLanguage())
			return p
		}
	})
}

func poolFor(lang Language) *sync.Pool {
	switch lang {
	case TypeScript:
		return &tsPool
	case TSX:
		return &tsxPool
	default:
		return &jsPool
	}
}

// Scan parses content with the grammar for lang and returns every import,
// export, and require specifier in source order. A parse tree containing
// any syntax error yields an empty, logged result rather than a partial
// or best-effort one (spec §4.2): partial ASTs from broken source make
// unreliable graph edges.
func Scan(logger *slog.Logger, path string, content []byte, lang Language) []Specifier {
	if logger == nil {
		logger = slog.Default()
	}
	initPools()

	pool := poolFor(lang)
	parserObj := pool.Get()
	parser, ok := parserObj.(*sitter.Parser)
	if !ok {
		logger.Error("importscan.bad_parser_type", "path", path)
		return nil
	}
	defer pool.Put(parser)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		logger.Warn("importscan.parse_failed", "path", path, "error", err)
		return nil
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		logger.Warn("importscan.syntax_errors", "path", path)
		return nil
	}

	var out []Specifier
	walk(root, content, &out)

	if len(out) > MaxSpecifiers {
		logger.Warn("importscan.truncated", "path", path, "count", len(out), "max", MaxSpecifiers)
		out = out[:MaxSpecifiers]
	}
	return out
}

func walk(n *sitter.Node, src []byte, out *[]Specifier) {
	switch n.Type() {
	case "import_statement":
		handleImportStatement(n, src, out)
	case "export_statement":
		handleExportStatement(n, src, out)
	case "call_expression":
		handleCallExpression(n, src, out)
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), src, out)
	}
}

func text(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(src)
}

// stringValue strips the surrounding quotes from a tree-sitter "string"
// node's raw content.
func stringValue(n *sitter.Node, src []byte) string {
	s := text(n, src)
	if len(s) >= 2 {
		return s[1 : len(s)-1]
	}
	return s
}

func sourceNode(n *sitter.Node) *sitter.Node {
	return n.ChildByFieldName("source")
}

func handleImportStatement(n *sitter.Node, src []byte, out *[]Specifier) {
	src2 := sourceNode(n)
	if src2 == nil {
		return
	}
	value := stringValue(src2, src)

	isTypeOnly := false
	var clause *sitter.Node
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == "type" {
			isTypeOnly = true
		}
		if c.Type() == "import_clause" {
			clause = c
		}
	}
	if isTypeOnly {
		*out = append(*out, Specifier{Value: value, Kind: TypeOnly})
		return
	}
	if clause == nil {
		// Side-effect import: import 'x';
		*out = append(*out, Specifier{Value: value, Kind: Named})
		return
	}

	kind := classifyImportClause(clause)
	*out = append(*out, Specifier{Value: value, Kind: kind})
}

func classifyImportClause(clause *sitter.Node) Kind {
	kind := Named
	for i := 0; i < int(clause.ChildCount()); i++ {
		c := clause.Child(i)
		switch c.Type() {
		case "identifier":
			kind = Default
		case "namespace_import":
			kind = Namespace
		case "named_imports":
			kind = Named
		}
	}
	return kind
}

func handleExportStatement(n *sitter.Node, src []byte, out *[]Specifier) {
	src2 := sourceNode(n)
	if src2 == nil {
		return
	}
	value := stringValue(src2, src)

	isTypeOnly := false
	hasStar := false
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == "type" {
			isTypeOnly = true
		}
		if c.Type() == "*" {
			hasStar = true
		}
	}
	switch {
	case isTypeOnly:
		*out = append(*out, Specifier{Value: value, Kind: TypeOnly})
	case hasStar:
		*out = append(*out, Specifier{Value: value, Kind: ReExportAll})
	default:
		*out = append(*out, Specifier{Value: value, Kind: ReExportNamed})
	}
}

func handleCallExpression(n *sitter.Node, src []byte, out *[]Specifier) {
	fn := n.ChildByFieldName("function")
	if fn == nil || fn.Type() != "identifier" || text(fn, src) != "require" {
		return
	}
	args := n.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return
	}
	arg := args.NamedChild(0)
	if arg == nil || arg.Type() != "string" {
		return
	}
	*out = append(*out, Specifier{Value: stringValue(arg, src), Kind: Require})
}
