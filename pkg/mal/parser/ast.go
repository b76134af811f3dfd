package parser

import (
	"bytes"
	"strings"
)

type Node interface {
	TokenLiteral() string
	String() string
}

type Statement interface {
	Node
	statementNode()
}

type Expression interface {
	Node
	expressionNode()
}

type BlockStatement struct {
	Token      Token // the '{' token
	Statements []Statement
}

func (bs *BlockStatement) statementNode()       {}
func (bs *BlockStatement) TokenLiteral() string { return bs.Token.Literal }
func (bs *BlockStatement) String() string {
	var out bytes.Buffer
	out.WriteString("{")
	for i, s := range bs.Statements {
		if i > 0 {
			out.WriteString("; ")
		}
		out.WriteString(s.String())
	}
	out.WriteString("}")
	return out.String()
}

type ExpressionStatement struct {
	Token      Token // the first token of the expression
	Expression Expression
}

func (es *ExpressionStatement) statementNode()       {}
func (es *ExpressionStatement) TokenLiteral() string { return es.Token.Literal }
func (es *ExpressionStatement) String() string {
	if es.Expression != nil {
		return es.Expression.String()
	}
	return ""
}

// AssignStatement is `target = value` inside a closure body.
type AssignStatement struct {
	Token  Token // the '=' token
	Target Expression
	Value  Expression
}

func (as *AssignStatement) statementNode()       {}
func (as *AssignStatement) TokenLiteral() string { return as.Token.Literal }
func (as *AssignStatement) String() string {
	return as.Target.String() + " = " + as.Value.String()
}

type IfStatement struct {
	Token       Token // the 'if' token
	Condition   Expression
	Consequence *BlockStatement
	Alternative *BlockStatement // nil when there is no else; `else if` is a nested block
}

func (is *IfStatement) statementNode()       {}
func (is *IfStatement) TokenLiteral() string { return is.Token.Literal }
func (is *IfStatement) String() string {
	var out bytes.Buffer
	out.WriteString("if (")
	out.WriteString(is.Condition.String())
	out.WriteString(") ")
	out.WriteString(is.Consequence.String())
	if is.Alternative != nil {
		out.WriteString(" else ")
		out.WriteString(is.Alternative.String())
	}
	return out.String()
}

type Identifier struct {
	Token Token // the token.IDENT token
	Value string
}

func (i *Identifier) expressionNode()      {}
func (i *Identifier) TokenLiteral() string { return i.Token.Literal }
func (i *Identifier) String() string       { return i.Value }

// NumberLiteral holds both integer and float literals. Integer reports
// whether the source text had no fractional part.
type NumberLiteral struct {
	Token   Token
	Value   float64
	Integer bool
}

func (nl *NumberLiteral) expressionNode()      {}
func (nl *NumberLiteral) TokenLiteral() string { return nl.Token.Literal }
func (nl *NumberLiteral) String() string       { return nl.Token.Literal }

type StringLiteral struct {
	Token Token
	Value string
}

func (sl *StringLiteral) expressionNode()      {}
func (sl *StringLiteral) TokenLiteral() string { return sl.Token.Literal }
func (sl *StringLiteral) String() string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\t", `\t`)
	return "'" + r.Replace(sl.Value) + "'"
}

type BooleanLiteral struct {
	Token Token
	Value bool
}

func (bl *BooleanLiteral) expressionNode()      {}
func (bl *BooleanLiteral) TokenLiteral() string { return bl.Token.Literal }
func (bl *BooleanLiteral) String() string       { return bl.Token.Literal }

type ListLiteral struct {
	Token    Token // the '[' token
	Elements []Expression
}

func (ll *ListLiteral) expressionNode()      {}
func (ll *ListLiteral) TokenLiteral() string { return ll.Token.Literal }
func (ll *ListLiteral) String() string {
	elems := make([]string, len(ll.Elements))
	for i, e := range ll.Elements {
		elems[i] = e.String()
	}
	return "[" + strings.Join(elems, ", ") + "]"
}

// GroupedExpression keeps explicit parentheses in the tree.
type GroupedExpression struct {
	Token Token // the '(' token
	Inner Expression
}

func (ge *GroupedExpression) expressionNode()      {}
func (ge *GroupedExpression) TokenLiteral() string { return ge.Token.Literal }
func (ge *GroupedExpression) String() string {
	if ge.Inner == nil {
		return "()"
	}
	return "(" + ge.Inner.String() + ")"
}

type InfixExpression struct {
	Token    Token // the operator token, e.g. +, -, *, /, ==, !=, <, >, <=, >=
	Left     Expression
	Operator string
	Right    Expression
}

func (oe *InfixExpression) expressionNode()      {}
func (oe *InfixExpression) TokenLiteral() string { return oe.Token.Literal }
func (oe *InfixExpression) String() string {
	var out bytes.Buffer
	if oe.Left != nil {
		out.WriteString(oe.Left.String())
	}
	out.WriteString(" " + oe.Operator + " ")
	if oe.Right != nil {
		out.WriteString(oe.Right.String())
	}
	return out.String()
}

type PrefixExpression struct {
	Token    Token // the prefix token, e.g. !, -
	Operator string
	Right    Expression
}

func (pe *PrefixExpression) expressionNode()      {}
func (pe *PrefixExpression) TokenLiteral() string { return pe.Token.Literal }
func (pe *PrefixExpression) String() string {
	var out bytes.Buffer
	out.WriteString(pe.Operator)
	if pe.Right != nil {
		out.WriteString(pe.Right.String())
	}
	return out.String()
}

// DotExpression is a property access without a call: Layer.GENERAL, tags.host.
type DotExpression struct {
	Token Token // the '.' token
	Left  Expression
	Name  *Identifier
}

func (de *DotExpression) expressionNode()      {}
func (de *DotExpression) TokenLiteral() string { return de.Token.Literal }
func (de *DotExpression) String() string {
	var out bytes.Buffer
	if de.Left != nil {
		out.WriteString(de.Left.String())
	}
	out.WriteString(".")
	if de.Name != nil {
		out.WriteString(de.Name.Value)
	}
	return out.String()
}

// MethodCallExpression is receiver.method(arguments).
type MethodCallExpression struct {
	Token     Token // the '.' token
	Receiver  Expression
	Method    *Identifier
	Arguments []Expression
}

func (mc *MethodCallExpression) expressionNode()      {}
func (mc *MethodCallExpression) TokenLiteral() string { return mc.Token.Literal }
func (mc *MethodCallExpression) String() string {
	var out bytes.Buffer
	args := make([]string, len(mc.Arguments))
	for i, a := range mc.Arguments {
		args[i] = a.String()
	}
	if mc.Receiver != nil {
		out.WriteString(mc.Receiver.String())
	}
	out.WriteString(".")
	out.WriteString(mc.Method.Value)
	out.WriteString("(")
	out.WriteString(strings.Join(args, ", "))
	out.WriteString(")")
	return out.String()
}

type IndexExpression struct {
	Token Token // the '[' token
	Left  Expression
	Index Expression
}

func (ie *IndexExpression) expressionNode()      {}
func (ie *IndexExpression) TokenLiteral() string { return ie.Token.Literal }
func (ie *IndexExpression) String() string {
	return ie.Left.String() + "[" + ie.Index.String() + "]"
}

// ClosureLiteral is { p1, p2 -> body }. Params is empty for { body }.
type ClosureLiteral struct {
	Token  Token // the '{' token
	Params []*Identifier
	Body   *BlockStatement
}

func (cl *ClosureLiteral) expressionNode()      {}
func (cl *ClosureLiteral) TokenLiteral() string { return cl.Token.Literal }
func (cl *ClosureLiteral) String() string {
	var out bytes.Buffer
	out.WriteString("{")
	if len(cl.Params) > 0 {
		names := make([]string, len(cl.Params))
		for i, p := range cl.Params {
			names[i] = p.Value
		}
		out.WriteString(strings.Join(names, ", "))
		out.WriteString(" ->")
	}
	for i, s := range cl.Body.Statements {
		if i > 0 {
			out.WriteString(";")
		}
		out.WriteString(" ")
		out.WriteString(s.String())
	}
	out.WriteString(" }")
	return out.String()
}

// Walk calls fn for node and every node below it, depth first. Walking
// stops descending into a node when fn returns false.
func Walk(node Node, fn func(Node) bool) {
	if node == nil || !fn(node) {
		return
	}
	switch n := node.(type) {
	case *BlockStatement:
		for _, s := range n.Statements {
			Walk(s, fn)
		}
	case *ExpressionStatement:
		walkExpr(n.Expression, fn)
	case *AssignStatement:
		walkExpr(n.Target, fn)
		walkExpr(n.Value, fn)
	case *IfStatement:
		walkExpr(n.Condition, fn)
		if n.Consequence != nil {
			Walk(n.Consequence, fn)
		}
		if n.Alternative != nil {
			Walk(n.Alternative, fn)
		}
	case *ListLiteral:
		for _, e := range n.Elements {
			walkExpr(e, fn)
		}
	case *GroupedExpression:
		walkExpr(n.Inner, fn)
	case *InfixExpression:
		walkExpr(n.Left, fn)
		walkExpr(n.Right, fn)
	case *PrefixExpression:
		walkExpr(n.Right, fn)
	case *DotExpression:
		walkExpr(n.Left, fn)
	case *MethodCallExpression:
		walkExpr(n.Receiver, fn)
		for _, a := range n.Arguments {
			walkExpr(a, fn)
		}
	case *IndexExpression:
		walkExpr(n.Left, fn)
		walkExpr(n.Index, fn)
	case *ClosureLiteral:
		if n.Body != nil {
			Walk(n.Body, fn)
		}
	}
}

// walkExpr guards against typed nil expressions left behind by parse errors.
func walkExpr(e Expression, fn func(Node) bool) {
	if e == nil {
		return
	}
	Walk(e, fn)
}

// CountNodes returns the number of nodes in the tree rooted at node.
func CountNodes(node Node) int {
	count := 0
	Walk(node, func(Node) bool {
		count++
		return true
	})
	return count
}
