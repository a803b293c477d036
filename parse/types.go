/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package parse

// EdgeKind classifies how an importer depends on a module.
type EdgeKind int

const (
	// Static dependencies are evaluated before the importer.
	Static EdgeKind = iota
	// Dynamic dependencies are loaded on demand with import().
	Dynamic
	// Async dependencies (worker and asset URLs) run in their own context.
	Async
)

func (k EdgeKind) String() string {
	switch k {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	case Async:
		return "async"
	}
	return "unknown"
}

// Form is the syntactic shape of an import.
type Form int

const (
	FormImport      Form = iota // import ... from "x"; import "x"
	FormReExport                // export { a } from "x"; export * as ns from "x"
	FormReExportAll             // export * from "x"
	FormDynamic                 // import("x")
	FormRequire                 // require("x")
	FormURL                     // new URL("x", import.meta.url)
	FormCSSImport               // @import "x"
)

// Binding names one imported value. Imported is "default" for default
// imports and "*" for namespace imports. Local is empty for re-exports.
type Binding struct {
	Imported string
	Local    string
}

// Import is one dependency specifier found in a source file.
type Import struct {
	Specifier string
	Kind      EdgeKind
	Form      Form
	Bindings  []Binding

	// Start and End delimit the source to replace when rewriting: the
	// whole statement for import and re-export forms, the call or new
	// expression otherwise.
	Start, End int

	// Line and Column are 1-based.
	Line, Column int

	// Statement is the index of the enclosing top-level statement, or -1.
	Statement int
}

// Export is one name a module exports.
type Export struct {
	Name string

	// Local is the module-scope binding holding the value. Empty for
	// re-exports.
	Local string

	// Import is the index of the re-exporting import, or -1.
	Import int
	// Imported is the name in the source module; "*" for export * as ns.
	Imported string
}

// IsReExport reports whether the export forwards another module's binding.
func (e Export) IsReExport() bool {
	return e.Import >= 0
}

// StatementKind classifies top-level statements.
type StatementKind int

const (
	StmtOther StatementKind = iota
	StmtImport
	StmtReExport
	StmtExportList        // export { a, b as c }
	StmtExportDecl        // export const a = 1; export function f() {}
	StmtExportDefaultDecl // export default function f() {}
	StmtExportDefaultExpr // export default <expr>
	StmtDeclaration
	StmtType // TypeScript-only syntax with no runtime effect
)

// Statement describes one top-level statement.
type Statement struct {
	Kind       StatementKind
	Start, End int

	// DeclStart is where the declaration or expression begins, after the
	// export keywords, for export statements.
	DeclStart int

	Declares   []string
	References []string

	// SideEffects is false when evaluating the statement cannot be
	// observed except through the names it declares.
	SideEffects bool

	// Import is the index into Analysis.Imports for import and re-export
	// statements, or -1.
	Import int
}

// Ref is a reference to a module-scope name.
type Ref struct {
	Name       string
	Start, End int
	// Shorthand is set for object literal shorthand ({ name }).
	Shorthand bool
}

// Range is a byte range.
type Range struct {
	Start, End int
}

// Accept describes a module's HMR acceptance declarations.
type Accept struct {
	// Self is set by import.meta.hot.accept() with no dependency list.
	Self bool
	// Deps lists specifiers whose updates the module handles.
	Deps []string
	// Declined is set by import.meta.hot.decline().
	Declined bool
}

// Position is a 1-based source location.
type Position struct {
	Line, Column int
}

// DefaultExportLocal is the binding that holds an anonymous default export.
const DefaultExportLocal = "__default"

// Analysis is the structure of one script.
type Analysis struct {
	Imports     []Import
	Exports     []Export
	StarExports []int // indexes into Imports of export * from
	Statements  []Statement
	Refs        []Ref

	// HotRefs are occurrences of import.meta.hot (or module.hot).
	HotRefs []Range
	Accept  Accept

	// SideEffects is the in-source pragma, nil when absent.
	SideEffects *bool

	// ESM is set when the source uses module syntax. CommonJS is set when
	// it relies on module, exports or require without module syntax.
	ESM      bool
	CommonJS bool

	// SyntaxErrors lists positions of unparseable regions.
	SyntaxErrors []Position
}

// ExportNames returns the names exported by the module itself, excluding
// those contributed by export *.
func (a *Analysis) ExportNames() []string {
	names := make([]string, 0, len(a.Exports))
	for _, e := range a.Exports {
		names = append(names, e.Name)
	}
	return names
}

// ImportsOf returns the import bindings keyed by local name.
func (a *Analysis) ImportsOf() map[string]ImportedBinding {
	out := make(map[string]ImportedBinding)
	for i, imp := range a.Imports {
		if imp.Form != FormImport {
			continue
		}
		for _, b := range imp.Bindings {
			out[b.Local] = ImportedBinding{Import: i, Imported: b.Imported}
		}
	}
	return out
}

// ImportedBinding locates a local name's source.
type ImportedBinding struct {
	Import   int
	Imported string
}
