package condition

// Node is a parsed expression.
type Node interface {
	node()
}

type (
	// Literal is a string, number, bool or null constant.
	Literal struct {
		Value any
	}

	// Ident is a root variable reference. A leading $ is stripped.
	Ident struct {
		Name string
	}

	// Member is dotted access: X.Name.
	Member struct {
		X    Node
		Name string
	}

	// Index is bracket access: X[Index].
	Index struct {
		X     Node
		Index Node
	}

	// Call is a function call: Func(Args...).
	Call struct {
		Func string
		Args []Node
	}

	// MethodCall is a call on a value: Recv.Name(Args...).
	MethodCall struct {
		Recv Node
		Name string
		Args []Node
	}

	// Unary is "not X" or "-X".
	Unary struct {
		Op string
		X  Node
	}

	// Binary is a comparison, boolean or arithmetic operation.
	Binary struct {
		Op   string
		L, R Node
	}

	// List is a list literal.
	List struct {
		Items []Node
	}
)

func (*Literal) node()    {}
func (*Ident) node()      {}
func (*Member) node()     {}
func (*Index) node()      {}
func (*Call) node()       {}
func (*MethodCall) node() {}
func (*Unary) node()      {}
func (*Binary) node()     {}
func (*List) node()       {}

// Walk calls fn for n and each of its descendants, depth-first.
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch v := n.(type) {
	case *Member:
		Walk(v.X, fn)
	case *Index:
		Walk(v.X, fn)
		Walk(v.Index, fn)
	case *Call:
		for _, a := range v.Args {
			Walk(a, fn)
		}
	case *MethodCall:
		Walk(v.Recv, fn)
		for _, a := range v.Args {
			Walk(a, fn)
		}
	case *Unary:
		Walk(v.X, fn)
	case *Binary:
		Walk(v.L, fn)
		Walk(v.R, fn)
	case *List:
		for _, it := range v.Items {
			Walk(it, fn)
		}
	}
}
