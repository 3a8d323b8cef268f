package dsl

// Expr is a parsed expression node.
type Expr interface {
	exprNode()
}

// NumberLit is a numeric literal. All numbers evaluate as float64.
type NumberLit struct {
	Value float64
}

// StringLit is a string literal.
type StringLit struct {
	Value string
}

// BoolLit is true or false.
type BoolLit struct {
	Value bool
}

// NullLit is the null literal.
type NullLit struct{}

// Ident is a variable reference, resolved against the permitted namespace.
type Ident struct {
	Name string
	Pos  int
}

// ListLit is a bracketed list of expressions.
type ListLit struct {
	Elems []Expr
}

// UnaryExpr is unary plus/minus or "not".
type UnaryExpr struct {
	Op string // "-", "+", "not"
	X  Expr
}

// BinaryExpr covers arithmetic and boolean connectives.
type BinaryExpr struct {
	Op   string // "+", "-", "*", "/", "%", "and", "or"
	L, R Expr
}

// CompareExpr is a single, non-associative comparison.
type CompareExpr struct {
	Op   string // "<", "<=", ">", ">=", "==", "!=", "in", "not in"
	L, R Expr
}

// CallExpr invokes an allow-listed function.
type CallExpr struct {
	Name string
	Args []Expr
	Pos  int
}

func (*NumberLit) exprNode()   {}
func (*StringLit) exprNode()   {}
func (*BoolLit) exprNode()     {}
func (*NullLit) exprNode()     {}
func (*Ident) exprNode()       {}
func (*ListLit) exprNode()     {}
func (*UnaryExpr) exprNode()   {}
func (*BinaryExpr) exprNode()  {}
func (*CompareExpr) exprNode() {}
func (*CallExpr) exprNode()    {}
