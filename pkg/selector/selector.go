// Package selector is the compile-time half of the store tracker: a static
// analysis over Go function bodies that decides, per local and parameter,
// whether to track it by value or by address, and rewrites the body to call
// the tracker at method entry and at every store site.
//
// A variable whose address is observably taken (explicit &x or capture by a
// function literal) is tracked by a single address record at entry: once
// aliased, the tracker cannot intercept mutations made through the alias,
// so per-assignment records would be misleading. Everything else gets a
// value-store call after each assignment, lowered to the overload matching
// its static type, with named integer types lowered through their
// underlying type and pointer-free structs through the raw-memory overload.
//
// The pass degrades silently: a store whose specialized overload is not
// available falls back to the boxed overload, and a function for which no
// entry overload resolves at all is left uninstrumented without diagnostic.
package selector

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/format"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ast/astutil"
	"golang.org/x/tools/go/packages"

	"github.com/tmat/storetracker/pkg/encoding"
)

// DefaultTrackerImport is the import path of the runtime tracker package
// whose entry points the rewritten code calls.
const DefaultTrackerImport = "github.com/tmat/storetracker/pkg/tracker"

// logVar is the local the entry call binds the logger handle to.
const logVar = "__storeLog"

// OverloadSet lists the tracker methods available in the target process.
// Missing specialized overloads fall back to the boxed overload; a missing
// entry overload disables instrumentation of the whole function.
type OverloadSet map[string]bool

// AllOverloads returns the full overload set of the tracker package.
func AllOverloads() OverloadSet {
	set := OverloadSet{
		"LogMethodEntry":              true,
		"LogMethodEntryWithAddresses": true,
		"LogLambdaEntry":              true,
		"LogReturn":                   true,
		"LogLocalStore":               true,
		"LogParameterStore":           true,
		"LogLocalStoreUnmanaged":      true,
		"LogParameterStoreUnmanaged":  true,
		"LogLocalAddress":             true,
		"LogParameterAddress":         true,
	}
	for _, suffix := range typedSuffixes {
		set["LogLocalStore"+suffix] = true
		set["LogParameterStore"+suffix] = true
	}
	return set
}

var typedSuffixes = []string{
	"Bool", "Int8", "Uint8", "Int16", "Uint16", "Int32", "Uint32",
	"Int64", "Uint64", "Float32", "Float64", "Char", "String",
}

// Options configures an instrumentation run.
type Options struct {
	// TrackerImport is the import path of the tracker package. Defaults to
	// DefaultTrackerImport.
	TrackerImport string
	// Overloads restricts the encoder methods the pass may target. Nil
	// means all of them.
	Overloads OverloadSet
	// FirstMethodID is the id assigned to the first instrumented function.
	// Defaults to 1.
	FirstMethodID uint32
}

// Result is the outcome of an instrumentation run.
type Result struct {
	// Files maps file names to rewritten sources.
	Files map[string][]byte
	// Metadata is the method table consumers need to decode captures.
	Metadata encoding.Metadata
	// Skipped counts functions left uninstrumented because no entry
	// overload was resolvable.
	Skipped int
}

// InstrumentSource type-checks and instruments a single self-contained
// source file.
func InstrumentSource(filename string, src []byte, opt Options) (*Result, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	info := newInfo()
	conf := types.Config{Importer: importer.Default()}
	if _, err := conf.Check(file.Name.Name, fset, []*ast.File{file}, info); err != nil {
		return nil, fmt.Errorf("failed to type-check %s: %w", filename, err)
	}

	in := newInstrumenter(fset, info, opt)
	in.file(file)
	return in.result(), nil
}

// InstrumentPackages loads the packages matching pattern rooted at dir and
// instruments their sources.
func InstrumentPackages(dir, pattern string, opt Options) (*Result, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedSyntax |
			packages.NeedTypes | packages.NeedTypesInfo | packages.NeedDeps,
		Dir: dir,
	}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", pattern, err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		return nil, fmt.Errorf("packages matching %s contain errors", pattern)
	}

	var in *instrumenter
	for _, pkg := range pkgs {
		if in == nil {
			in = newInstrumenter(pkg.Fset, pkg.TypesInfo, opt)
		} else {
			in.fset, in.info = pkg.Fset, pkg.TypesInfo
		}
		for _, file := range pkg.Syntax {
			in.file(file)
		}
	}
	if in == nil {
		return nil, fmt.Errorf("no packages match %s", pattern)
	}
	return in.result(), nil
}

func newInfo() *types.Info {
	return &types.Info{
		Defs:  map[*ast.Ident]types.Object{},
		Uses:  map[*ast.Ident]types.Object{},
		Types: map[ast.Expr]types.TypeAndValue{},
	}
}

type instrumenter struct {
	fset *token.FileSet
	info *types.Info
	opt  Options

	meta   encoding.Metadata
	nextID uint32

	files   map[string][]byte
	skipped int

	needUnsafe bool // current file references unsafe.Pointer
}

func newInstrumenter(fset *token.FileSet, info *types.Info, opt Options) *instrumenter {
	if opt.TrackerImport == "" {
		opt.TrackerImport = DefaultTrackerImport
	}
	if opt.Overloads == nil {
		opt.Overloads = AllOverloads()
	}
	if opt.FirstMethodID == 0 {
		opt.FirstMethodID = 1
	}
	return &instrumenter{
		fset:   fset,
		info:   info,
		opt:    opt,
		meta:   encoding.Metadata{},
		nextID: opt.FirstMethodID,
		files:  map[string][]byte{},
	}
}

func (in *instrumenter) result() *Result {
	return &Result{Files: in.files, Metadata: in.meta, Skipped: in.skipped}
}

// file instruments every function declaration of one file and renders the
// rewritten source.
func (in *instrumenter) file(file *ast.File) {
	in.needUnsafe = false
	changed := false
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if ok && fn.Body != nil && in.funcDecl(file, fn) {
			changed = true
		}
	}
	name := in.fset.Position(file.Pos()).Filename
	if changed {
		astutil.AddImport(in.fset, file, in.opt.TrackerImport)
		if in.needUnsafe {
			astutil.AddImport(in.fset, file, "unsafe")
		}
	}

	var buf bytes.Buffer
	if err := format.Node(&buf, in.fset, file); err != nil {
		// Rendering a rewritten AST only fails on malformed injections;
		// surface it loudly rather than emitting a broken file.
		panic(fmt.Sprintf("failed to render %s: %v", name, err))
	}
	in.files[name] = buf.Bytes()
}

// variable is the per-local/per-parameter tracking decision.
type variable struct {
	obj          *types.Var
	index        int
	param        bool
	addressTaken bool
	class        wireClass
}

type fnState struct {
	in     *instrumenter
	id     uint32
	vars   map[types.Object]*variable
	locals []*variable
	params []*variable

	nextLambda uint32
	uses       int // emitted references to the logger handle

	// instrumented guards against revisiting a function literal: nested
	// statement lists are rewritten before their enclosing statement is
	// inspected for literals.
	instrumented map[*ast.FuncLit]bool
}

func (in *instrumenter) funcDecl(file *ast.File, fn *ast.FuncDecl) bool {
	entry := "LogMethodEntry"
	if !in.opt.Overloads[entry] {
		// No resolvable entry overload: skip the function silently.
		in.skipped++
		return false
	}

	state := &fnState{
		in:           in,
		id:           in.nextID,
		vars:         map[types.Object]*variable{},
		instrumented: map[*ast.FuncLit]bool{},
	}
	in.nextID++

	state.collectParams(fn.Recv)
	state.collectParams(fn.Type.Params)
	state.collectLocals(fn.Body)
	state.markAddressTaken(fn.Body)

	if len(state.locals) > 0 && state.locals[len(state.locals)-1].index > int(encoding.MaxTrackedLocal) {
		// Typed store tags must stay inside the compact tag space. The
		// encoder does not check this, so the selector must.
		in.skipped++
		in.nextID--
		return false
	}

	hasAddresses := false
	for _, v := range state.vars {
		if v.addressTaken {
			hasAddresses = true
			break
		}
	}
	if hasAddresses && in.opt.Overloads["LogMethodEntryWithAddresses"] {
		entry = "LogMethodEntryWithAddresses"
	}

	var head []ast.Stmt
	head = append(head, entryStmt(trackerName(in.opt.TrackerImport), entry,
		intLit(int64(state.id))))
	head = append(head, state.addressRecords(state.params)...)

	body := state.rewriteList(fn.Body.List)
	body = append(head, body...)
	if len(fn.Body.List) == 0 || !terminating(fn.Body.List[len(fn.Body.List)-1]) {
		body = append(body, state.returnRecord()...)
	}
	if state.uses == 0 {
		// Nothing references the handle: bind-less entry keeps the file
		// compiling ("declared and not used").
		body[0] = &ast.ExprStmt{X: body[0].(*ast.AssignStmt).Rhs[0]}
	}
	fn.Body.List = body

	in.recordMetadata(file, fn, state)
	return true
}

func (in *instrumenter) recordMetadata(file *ast.File, fn *ast.FuncDecl, state *fnState) {
	name := file.Name.Name + "." + fn.Name.Name
	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		name = file.Name.Name + "." + types.ExprString(fn.Recv.List[0].Type) + "." + fn.Name.Name
	}

	mi := encoding.MethodInfo{Name: name}
	for _, v := range state.locals {
		vt := v.class.varType()
		vt.Name = v.obj.Name()
		mi.Locals = append(mi.Locals, vt)
	}
	for _, v := range state.params {
		vt := v.class.varType()
		vt.Name = v.obj.Name()
		mi.Params = append(mi.Params, vt)
	}
	in.meta[state.id] = mi
}

// collectParams assigns parameter indices in declaration order, receiver
// first.
func (s *fnState) collectParams(fields *ast.FieldList) {
	if fields == nil {
		return
	}
	for _, field := range fields.List {
		for _, name := range field.Names {
			s.declare(name, true)
		}
	}
}

// collectLocals assigns local indices in order of appearance. Function
// literal locals and parameters share the enclosing function's tables:
// lambda entry records carry the enclosing method id, so the consumer
// resolves them against the same metadata.
func (s *fnState) collectLocals(body *ast.BlockStmt) {
	ast.Inspect(body, func(n ast.Node) bool {
		switch st := n.(type) {
		case *ast.AssignStmt:
			if st.Tok == token.DEFINE {
				for _, lhs := range st.Lhs {
					if id, ok := lhs.(*ast.Ident); ok {
						s.declare(id, false)
					}
				}
			}
		case *ast.DeclStmt:
			if gd, ok := st.Decl.(*ast.GenDecl); ok && gd.Tok == token.VAR {
				for _, spec := range gd.Specs {
					if vs, ok := spec.(*ast.ValueSpec); ok {
						for _, name := range vs.Names {
							s.declare(name, false)
						}
					}
				}
			}
		case *ast.RangeStmt:
			if st.Tok == token.DEFINE {
				if id, ok := st.Key.(*ast.Ident); ok {
					s.declare(id, false)
				}
				if id, ok := st.Value.(*ast.Ident); ok {
					s.declare(id, false)
				}
			}
		case *ast.FuncLit:
			for _, field := range st.Type.Params.List {
				for _, name := range field.Names {
					s.declare(name, true)
				}
			}
		case *ast.TypeSwitchStmt:
			// The per-clause objects of a type switch binding are distinct
			// per case; not tracked.
			return true
		}
		return true
	})
}

func (s *fnState) declare(id *ast.Ident, param bool) {
	if id.Name == "_" {
		return
	}
	obj, ok := s.in.info.Defs[id].(*types.Var)
	if !ok || obj == nil {
		return
	}
	if _, dup := s.vars[obj]; dup {
		return
	}
	v := &variable{obj: obj, param: param, class: classify(obj.Type())}
	if param {
		v.index = len(s.params)
		s.params = append(s.params, v)
	} else {
		v.index = len(s.locals)
		s.locals = append(s.locals, v)
	}
	s.vars[obj] = v
}

// markAddressTaken marks variables whose address observably escapes:
// explicit &x, and capture by a function literal.
func (s *fnState) markAddressTaken(body *ast.BlockStmt) {
	ast.Inspect(body, func(n ast.Node) bool {
		switch e := n.(type) {
		case *ast.UnaryExpr:
			if e.Op == token.AND {
				if id, ok := e.X.(*ast.Ident); ok {
					if v := s.lookup(id); v != nil {
						v.addressTaken = true
					}
				}
			}
		case *ast.FuncLit:
			// Any reference inside the literal to a variable declared
			// outside it is a capture.
			ast.Inspect(e.Body, func(inner ast.Node) bool {
				if id, ok := inner.(*ast.Ident); ok {
					if v := s.lookup(id); v != nil && v.obj.Pos() < e.Pos() {
						v.addressTaken = true
					}
				}
				return true
			})
		}
		return true
	})
}

func (s *fnState) lookup(id *ast.Ident) *variable {
	if obj := s.in.info.Uses[id]; obj != nil {
		return s.vars[obj]
	}
	if obj := s.in.info.Defs[id]; obj != nil {
		return s.vars[obj]
	}
	return nil
}

// rewriteList rewrites one statement list: store records after assignments,
// return records before returns, recursion into nested statements and
// function literals.
func (s *fnState) rewriteList(list []ast.Stmt) []ast.Stmt {
	var out []ast.Stmt
	for _, stmt := range list {
		s.rewriteNested(stmt)
		s.instrumentLambdas(stmt)

		if ret, ok := stmt.(*ast.ReturnStmt); ok {
			out = append(out, s.returnRecord()...)
			out = append(out, ret)
			continue
		}

		out = append(out, stmt)
		out = append(out, s.storesAfter(stmt)...)
	}
	return out
}

// rewriteNested recurses into the statement lists nested inside stmt.
func (s *fnState) rewriteNested(stmt ast.Stmt) {
	switch st := stmt.(type) {
	case *ast.BlockStmt:
		st.List = s.rewriteList(st.List)
	case *ast.IfStmt:
		st.Body.List = s.rewriteList(st.Body.List)
		if st.Else != nil {
			s.rewriteNested(st.Else)
		}
	case *ast.ForStmt:
		st.Body.List = s.rewriteList(st.Body.List)
	case *ast.RangeStmt:
		body := s.rewriteList(st.Body.List)
		// Loop variables are assigned at the top of every iteration.
		st.Body.List = append(s.rangeStores(st), body...)
	case *ast.SwitchStmt:
		for _, clause := range st.Body.List {
			if cc, ok := clause.(*ast.CaseClause); ok {
				cc.Body = s.rewriteList(cc.Body)
			}
		}
	case *ast.TypeSwitchStmt:
		for _, clause := range st.Body.List {
			if cc, ok := clause.(*ast.CaseClause); ok {
				cc.Body = s.rewriteList(cc.Body)
			}
		}
	case *ast.SelectStmt:
		for _, clause := range st.Body.List {
			if cc, ok := clause.(*ast.CommClause); ok {
				cc.Body = s.rewriteList(cc.Body)
			}
		}
	case *ast.LabeledStmt:
		s.rewriteNested(st.Stmt)
	}
}

// instrumentLambdas rewrites the bodies of function literals appearing in
// stmt, giving each a lambda entry record against the enclosing method id.
func (s *fnState) instrumentLambdas(stmt ast.Stmt) {
	ast.Inspect(stmt, func(n ast.Node) bool {
		fl, ok := n.(*ast.FuncLit)
		if !ok {
			return true
		}
		s.instrumentLambda(fl)
		return false // instrumentLambda handles nested literals
	})
}

func (s *fnState) instrumentLambda(fl *ast.FuncLit) {
	if s.instrumented[fl] || !s.in.opt.Overloads["LogLambdaEntry"] {
		return
	}
	s.instrumented[fl] = true
	lambdaID := s.nextLambda
	s.nextLambda++

	var params []*variable
	for _, field := range fl.Type.Params.List {
		for _, name := range field.Names {
			if v := s.lookupDef(name); v != nil {
				params = append(params, v)
			}
		}
	}

	// The literal declares its own handle, shadowing the enclosing one, so
	// its uses count against the literal only.
	saved := s.uses
	s.uses = 0

	head := []ast.Stmt{entryStmt(trackerName(s.in.opt.TrackerImport), "LogLambdaEntry",
		intLit(int64(s.id)), intLit(int64(lambdaID)))}
	head = append(head, s.addressRecords(params)...)

	body := s.rewriteList(fl.Body.List)
	body = append(head, body...)
	if len(fl.Body.List) == 0 || !terminating(fl.Body.List[len(fl.Body.List)-1]) {
		body = append(body, s.returnRecord()...)
	}
	if s.uses == 0 {
		body[0] = &ast.ExprStmt{X: body[0].(*ast.AssignStmt).Rhs[0]}
	}
	fl.Body.List = body
	s.uses = saved
}

func (s *fnState) lookupDef(id *ast.Ident) *variable {
	if obj := s.in.info.Defs[id]; obj != nil {
		return s.vars[obj]
	}
	return nil
}

// addressRecords builds the entry-time address records for address-tracked
// variables among vars.
func (s *fnState) addressRecords(vars []*variable) []ast.Stmt {
	var out []ast.Stmt
	for _, v := range vars {
		if !v.addressTaken {
			continue
		}
		method := "LogLocalAddress"
		if v.param {
			method = "LogParameterAddress"
		}
		if !s.in.opt.Overloads[method] {
			continue
		}
		s.in.needUnsafe = true
		s.uses++
		out = append(out, logCall(method,
			unsafePointerOf(v.obj.Name()), intLit(int64(v.index))))
	}
	return out
}

func (s *fnState) returnRecord() []ast.Stmt {
	if !s.in.opt.Overloads["LogReturn"] {
		return nil
	}
	s.uses++
	return []ast.Stmt{logCall("LogReturn")}
}

// storesAfter builds the store records to insert after stmt.
func (s *fnState) storesAfter(stmt ast.Stmt) []ast.Stmt {
	var out []ast.Stmt
	switch st := stmt.(type) {
	case *ast.AssignStmt:
		for _, lhs := range st.Lhs {
			if id, ok := lhs.(*ast.Ident); ok {
				out = append(out, s.storeRecord(id, st.Tok == token.DEFINE)...)
			}
		}
	case *ast.IncDecStmt:
		if id, ok := st.X.(*ast.Ident); ok {
			out = append(out, s.storeRecord(id, false)...)
		}
	case *ast.DeclStmt:
		gd, ok := st.Decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.VAR {
			break
		}
		for _, spec := range gd.Specs {
			vs, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			for _, name := range vs.Names {
				if len(vs.Values) == 0 {
					// Zero-value declaration: no store happened, but an
					// address-tracked local still needs its address record.
					if v := s.lookupDef(name); v != nil && v.addressTaken && !v.param {
						out = append(out, s.addressRecords([]*variable{v})...)
					}
					continue
				}
				out = append(out, s.storeRecord(name, true)...)
			}
		}
	}
	return out
}

func (s *fnState) rangeStores(st *ast.RangeStmt) []ast.Stmt {
	if st.Tok != token.DEFINE {
		return nil
	}
	var out []ast.Stmt
	if id, ok := st.Key.(*ast.Ident); ok {
		out = append(out, s.storeRecord(id, true)...)
	}
	if id, ok := st.Value.(*ast.Ident); ok {
		out = append(out, s.storeRecord(id, true)...)
	}
	return out
}

// storeRecord builds the record call for a store to id, or nothing when the
// variable is untracked, address-tracked, or no overload resolves.
func (s *fnState) storeRecord(id *ast.Ident, define bool) []ast.Stmt {
	v := s.lookup(id)
	if v == nil {
		return nil
	}
	if v.addressTaken {
		if !define || v.param {
			return nil
		}
		// First store of an address-taken local: record the address once.
		return s.addressRecords([]*variable{v})
	}

	kind := "Local"
	if v.param {
		kind = "Parameter"
	}
	index := intLit(int64(v.index))

	switch {
	case v.class.unmanaged:
		if s.in.opt.Overloads["Log"+kind+"StoreUnmanaged"] {
			s.in.needUnsafe = true
			s.uses++
			return []ast.Stmt{logCall("Log"+kind+"StoreUnmanaged",
				unsafePointerOf(id.Name), sizeOf(id.Name), index)}
		}

	case v.class.suffix != "":
		if s.in.opt.Overloads["Log"+kind+"Store"+v.class.suffix] {
			s.uses++
			var arg ast.Expr = ast.NewIdent(id.Name)
			if v.class.conv != "" {
				arg = &ast.CallExpr{Fun: ast.NewIdent(v.class.conv), Args: []ast.Expr{arg}}
			}
			return []ast.Stmt{logCall("Log"+kind+"Store"+v.class.suffix, arg, index)}
		}
	}

	// Boxed fallback; skip silently when even that is unavailable.
	if !s.in.opt.Overloads["Log"+kind+"Store"] {
		return nil
	}
	s.uses++
	return []ast.Stmt{logCall("Log"+kind+"Store", ast.NewIdent(id.Name), index)}
}

// terminating reports whether stmt unconditionally leaves the enclosing
// function, in which case no trailing return record is needed.
func terminating(stmt ast.Stmt) bool {
	switch st := stmt.(type) {
	case *ast.ReturnStmt:
		return true
	case *ast.ExprStmt:
		call, ok := st.X.(*ast.CallExpr)
		if !ok {
			return false
		}
		id, ok := call.Fun.(*ast.Ident)
		return ok && id.Name == "panic"
	case *ast.ForStmt:
		return st.Cond == nil && !hasBreak(st.Body)
	}
	return false
}

func hasBreak(body *ast.BlockStmt) bool {
	found := false
	ast.Inspect(body, func(n ast.Node) bool {
		switch n.(type) {
		case *ast.BranchStmt:
			if n.(*ast.BranchStmt).Tok == token.BREAK {
				found = true
			}
		case *ast.ForStmt, *ast.RangeStmt, *ast.SwitchStmt, *ast.TypeSwitchStmt, *ast.SelectStmt:
			return false // break would bind to the inner statement
		}
		return !found
	})
	return found
}
