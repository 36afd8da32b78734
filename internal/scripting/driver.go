package scripting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"

	"github.com/microworld/stage/internal/compile"
)

// Driver compiles Lua units: parse, compile to bytecode, lint, then copy the
// sources of a clean job to their output paths.
type Driver struct {
	Lint bool
	log  *zap.Logger
}

func NewDriver(lint bool, log *zap.Logger) *Driver {
	return &Driver{Lint: lint, log: log.Named("luac")}
}

// Compile implements compile.Driver.
func (d *Driver) Compile(ctx context.Context, job *compile.Job, report func(compile.Diagnostic) error) (bool, error) {
	ok := true
	srcs := make([][]byte, len(job.Units))
	for i, u := range job.Units {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		src, diags, err := d.check(u)
		if err != nil {
			return false, err
		}
		srcs[i] = src
		for _, diag := range diags {
			if diag.Severity == compile.SeverityError {
				ok = false
			}
			if err := report(diag); err != nil {
				return false, err
			}
		}
	}
	if !ok {
		return false, nil
	}
	for i, u := range job.Units {
		if err := writeOutput(u.Output, srcs[i]); err != nil {
			return false, err
		}
	}
	d.log.Debug("job compiled", zap.Int("job", job.ID), zap.Int("units", len(job.Units)))
	return true, nil
}

// check returns the unit source and its diagnostics. The error is only for
// failures outside the user's code.
func (d *Driver) check(u *compile.Unit) ([]byte, []compile.Diagnostic, error) {
	src, err := os.ReadFile(u.Source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, []compile.Diagnostic{{
				Unit: u.Name, File: u.Source, Severity: compile.SeverityError,
				Message: "source file not found",
			}}, nil
		}
		return nil, nil, fmt.Errorf("read %s: %w", u.Source, err)
	}

	diag := func(line, col int, sev compile.Severity, msg string) compile.Diagnostic {
		return compile.Diagnostic{Unit: u.Name, File: u.Source, Line: line, Column: col, Severity: sev, Message: msg}
	}
	chunk, err := parse.Parse(bytes.NewReader(src), u.Source)
	if err != nil {
		var pe *parse.Error
		if errors.As(err, &pe) {
			return src, []compile.Diagnostic{diag(max(pe.Pos.Line, 0), pe.Pos.Column, compile.SeverityError, pe.Message)}, nil
		}
		return src, []compile.Diagnostic{diag(0, 0, compile.SeverityError, err.Error())}, nil
	}
	if _, err := lua.Compile(chunk, u.Source); err != nil {
		var ce *lua.CompileError
		if errors.As(err, &ce) {
			return src, []compile.Diagnostic{diag(ce.Line, 0, compile.SeverityError, ce.Message)}, nil
		}
		return src, []compile.Diagnostic{diag(0, 0, compile.SeverityError, err.Error())}, nil
	}

	var diags []compile.Diagnostic
	if d.Lint {
		for _, w := range lint(chunk) {
			diags = append(diags, diag(w.line, 0, compile.SeverityWarning, w.message))
		}
	}
	return src, diags, nil
}

func writeOutput(path string, src []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("output dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, src, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

type warning struct {
	line    int
	message string
}

// lint flags an empty chunk and functions that mix "return" with and without
// values.
func lint(chunk []ast.Stmt) []warning {
	var out []warning
	if len(chunk) == 0 {
		out = append(out, warning{line: 1, message: "empty unit"})
	}
	var fns []*ast.FunctionExpr
	walkStmts(chunk, func(f *ast.FunctionExpr) { fns = append(fns, f) })
	for _, f := range fns {
		var bare, valued []int
		returnsOf(f.Stmts, func(r *ast.ReturnStmt) {
			if len(r.Exprs) == 0 {
				bare = append(bare, r.Line())
			} else {
				valued = append(valued, r.Line())
			}
		})
		if len(bare) > 0 && len(valued) > 0 {
			for _, line := range bare {
				out = append(out, warning{line: line, message: "return without a value in a function that returns values"})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].line < out[j].line })
	return out
}

// returnsOf visits the return statements of one function body, not those of
// nested functions.
func returnsOf(stmts []ast.Stmt, fn func(*ast.ReturnStmt)) {
	for _, s := range stmts {
		switch s := s.(type) {
		case *ast.ReturnStmt:
			fn(s)
		case *ast.DoBlockStmt:
			returnsOf(s.Stmts, fn)
		case *ast.WhileStmt:
			returnsOf(s.Stmts, fn)
		case *ast.RepeatStmt:
			returnsOf(s.Stmts, fn)
		case *ast.IfStmt:
			returnsOf(s.Then, fn)
			returnsOf(s.Else, fn)
		case *ast.NumberForStmt:
			returnsOf(s.Stmts, fn)
		case *ast.GenericForStmt:
			returnsOf(s.Stmts, fn)
		}
	}
}

// walkStmts visits every function expression in stmts, nested ones included.
func walkStmts(stmts []ast.Stmt, fn func(*ast.FunctionExpr)) {
	for _, s := range stmts {
		switch s := s.(type) {
		case *ast.FuncDefStmt:
			walkExpr(s.Func, fn)
		case *ast.LocalAssignStmt:
			walkExprs(s.Exprs, fn)
		case *ast.AssignStmt:
			walkExprs(s.Rhs, fn)
		case *ast.FuncCallStmt:
			walkExpr(s.Expr, fn)
		case *ast.ReturnStmt:
			walkExprs(s.Exprs, fn)
		case *ast.DoBlockStmt:
			walkStmts(s.Stmts, fn)
		case *ast.WhileStmt:
			walkExpr(s.Condition, fn)
			walkStmts(s.Stmts, fn)
		case *ast.RepeatStmt:
			walkExpr(s.Condition, fn)
			walkStmts(s.Stmts, fn)
		case *ast.IfStmt:
			walkExpr(s.Condition, fn)
			walkStmts(s.Then, fn)
			walkStmts(s.Else, fn)
		case *ast.NumberForStmt:
			walkStmts(s.Stmts, fn)
		case *ast.GenericForStmt:
			walkExprs(s.Exprs, fn)
			walkStmts(s.Stmts, fn)
		}
	}
}

func walkExprs(exprs []ast.Expr, fn func(*ast.FunctionExpr)) {
	for _, e := range exprs {
		walkExpr(e, fn)
	}
}

func walkExpr(e ast.Expr, fn func(*ast.FunctionExpr)) {
	switch e := e.(type) {
	case *ast.FunctionExpr:
		fn(e)
		walkStmts(e.Stmts, fn)
	case *ast.FuncCallExpr:
		walkExpr(e.Func, fn)
		walkExpr(e.Receiver, fn)
		walkExprs(e.Args, fn)
	case *ast.TableExpr:
		for _, f := range e.Fields {
			walkExpr(f.Key, fn)
			walkExpr(f.Value, fn)
		}
	case *ast.AttrGetExpr:
		walkExpr(e.Object, fn)
		walkExpr(e.Key, fn)
	case *ast.LogicalOpExpr:
		walkExpr(e.Lhs, fn)
		walkExpr(e.Rhs, fn)
	case *ast.RelationalOpExpr:
		walkExpr(e.Lhs, fn)
		walkExpr(e.Rhs, fn)
	case *ast.StringConcatOpExpr:
		walkExpr(e.Lhs, fn)
		walkExpr(e.Rhs, fn)
	case *ast.ArithmeticOpExpr:
		walkExpr(e.Lhs, fn)
		walkExpr(e.Rhs, fn)
	case *ast.UnaryMinusOpExpr:
		walkExpr(e.Expr, fn)
	case *ast.UnaryNotOpExpr:
		walkExpr(e.Expr, fn)
	case *ast.UnaryLenOpExpr:
		walkExpr(e.Expr, fn)
	}
}

// Analyzer lists the top-level functions and required modules of a unit.
type Analyzer struct{}

// Analyze implements compile.Analyzer.
func (Analyzer) Analyze(u *compile.Unit) (compile.Analysis, error) {
	src, err := os.ReadFile(u.Source)
	if err != nil {
		return compile.Analysis{}, fmt.Errorf("read %s: %w", u.Source, err)
	}
	chunk, err := parse.Parse(bytes.NewReader(src), u.Source)
	if err != nil {
		return compile.Analysis{}, fmt.Errorf("analyze %s: %w", u.Name, err)
	}
	a := compile.Analysis{Unit: u.Name, Fingerprint: compile.Fingerprint(src)}
	for _, s := range chunk {
		switch s := s.(type) {
		case *ast.FuncDefStmt:
			if name := funcName(s.Name); name != "" {
				a.Functions = append(a.Functions, name)
			}
		case *ast.LocalAssignStmt:
			for _, e := range s.Exprs {
				if mod := requireOf(e); mod != "" {
					a.Requires = append(a.Requires, mod)
				}
			}
		case *ast.AssignStmt:
			for _, e := range s.Rhs {
				if mod := requireOf(e); mod != "" {
					a.Requires = append(a.Requires, mod)
				}
			}
		case *ast.FuncCallStmt:
			if mod := requireOf(s.Expr); mod != "" {
				a.Requires = append(a.Requires, mod)
			}
		}
	}
	return a, nil
}

func funcName(n *ast.FuncName) string {
	if n.Method != "" {
		if r := exprName(n.Receiver); r != "" {
			return r + ":" + n.Method
		}
		return n.Method
	}
	return exprName(n.Func)
}

func exprName(e ast.Expr) string {
	switch e := e.(type) {
	case *ast.IdentExpr:
		return e.Value
	case *ast.AttrGetExpr:
		obj := exprName(e.Object)
		key, ok := e.Key.(*ast.StringExpr)
		if obj == "" || !ok {
			return ""
		}
		return obj + "." + key.Value
	}
	return ""
}

// requireOf returns m for an expression of the form require("m").
func requireOf(e ast.Expr) string {
	call, ok := e.(*ast.FuncCallExpr)
	if !ok || len(call.Args) != 1 {
		return ""
	}
	if id, ok := call.Func.(*ast.IdentExpr); !ok || id.Value != "require" {
		return ""
	}
	if s, ok := call.Args[0].(*ast.StringExpr); ok {
		return s.Value
	}
	return ""
}

var (
	_ compile.Driver   = (*Driver)(nil)
	_ compile.Analyzer = Analyzer{}
)
