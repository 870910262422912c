package selector

import (
	"go/ast"
	"go/token"
	"path"
	"strconv"
)

// trackerName returns the identifier the tracker import binds to.
func trackerName(importPath string) string {
	return path.Base(importPath)
}

func intLit(v int64) ast.Expr {
	return &ast.BasicLit{Kind: token.INT, Value: strconv.FormatInt(v, 10)}
}

// entryStmt builds `__storeLog := tracker.LogMethodEntry(args...)`.
func entryStmt(pkgName, method string, args ...ast.Expr) ast.Stmt {
	return &ast.AssignStmt{
		Lhs: []ast.Expr{ast.NewIdent(logVar)},
		Tok: token.DEFINE,
		Rhs: []ast.Expr{&ast.CallExpr{
			Fun: &ast.SelectorExpr{
				X:   ast.NewIdent(pkgName),
				Sel: ast.NewIdent(method),
			},
			Args: args,
		}},
	}
}

// logCall builds `__storeLog.<method>(args...)`.
func logCall(method string, args ...ast.Expr) ast.Stmt {
	return &ast.ExprStmt{X: &ast.CallExpr{
		Fun: &ast.SelectorExpr{
			X:   ast.NewIdent(logVar),
			Sel: ast.NewIdent(method),
		},
		Args: args,
	}}
}

// unsafePointerOf builds `unsafe.Pointer(&name)`.
func unsafePointerOf(name string) ast.Expr {
	return &ast.CallExpr{
		Fun: &ast.SelectorExpr{
			X:   ast.NewIdent("unsafe"),
			Sel: ast.NewIdent("Pointer"),
		},
		Args: []ast.Expr{&ast.UnaryExpr{
			Op: token.AND,
			X:  ast.NewIdent(name),
		}},
	}
}

// sizeOf builds `unsafe.Sizeof(name)`.
func sizeOf(name string) ast.Expr {
	return &ast.CallExpr{
		Fun: &ast.SelectorExpr{
			X:   ast.NewIdent("unsafe"),
			Sel: ast.NewIdent("Sizeof"),
		},
		Args: []ast.Expr{ast.NewIdent(name)},
	}
}
