package rel

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// JoinHow selects the join flavor.
type JoinHow int

const (
	// InnerJoin keeps matching pairs.
	InnerJoin JoinHow = iota
	// LeftOuterJoin keeps all left rows, NULL-padding unmatched right columns.
	LeftOuterJoin
	// SemiJoin keeps left rows with at least one match; output schema is the
	// left schema.
	SemiJoin
	// AntiJoin keeps left rows with no match; output schema is the left schema.
	AntiJoin
)

// JoinOptions controls output column naming.
type JoinOptions struct {
	How JoinHow
	// LeftSuffix and RightSuffix disambiguate output columns. Defaults are
	// "_l" and "_r".
	LeftSuffix  string
	RightSuffix string
	// RenameAll suffixes every output column; otherwise only names present
	// on both sides are suffixed.
	RenameAll bool
}

// Algorithm classifies how a join predicate will be executed.
type Algorithm int

const (
	// EmptyResult means the predicate is constant-false.
	EmptyResult Algorithm = iota
	// HashJoin means at least one cross-side equality clause keys the probe.
	HashJoin
	// NestedLoopJoin means every pair of rows is tested.
	NestedLoopJoin
	// CrossProduct means the predicate is constant-true.
	CrossProduct
)

func (a Algorithm) String() string {
	switch a {
	case EmptyResult:
		return "EMPTY_RESULT"
	case HashJoin:
		return "HASH_JOIN"
	case NestedLoopJoin:
		return "NESTED_LOOP_JOIN"
	case CrossProduct:
		return "CROSS_PRODUCT"
	default:
		return "UNKNOWN"
	}
}

// sideOf classifies which join operand an expression reads from. Unbound
// column references resolve against whichever side uniquely owns the name.
func sideOf(e Expr, left, right *bindings) (Side, error) {
	resolved := map[Side]bool{}
	for s := range Sides(e) {
		if s != Unbound {
			resolved[s] = true
		}
	}
	for _, c := range unboundNames(e) {
		inL, inR := left.has(c), right.has(c)
		switch {
		case inL && inR:
			return Unbound, fmt.Errorf("ambiguous column reference %q: present in both join operands", c)
		case inL:
			resolved[Left] = true
		case inR:
			resolved[Right] = true
		default:
			return Unbound, fmt.Errorf("column %q not found in either join operand", c)
		}
	}
	switch {
	case resolved[Left] && resolved[Right]:
		return Unbound, nil
	case resolved[Left]:
		return Left, nil
	case resolved[Right]:
		return Right, nil
	default:
		return Unbound, nil
	}
}

func unboundNames(e Expr) []string {
	var out []string
	var walk func(Expr)
	walk = func(e Expr) {
		switch x := e.(type) {
		case *Column:
			if x.Table == Unbound {
				out = append(out, x.Name)
			}
		case *Eq:
			walk(x.L)
			walk(x.R)
		case *Lt:
			walk(x.L)
			walk(x.R)
		case *And:
			for _, op := range x.Operands {
				walk(op)
			}
		case *Or:
			for _, op := range x.Operands {
				walk(op)
			}
		case *Not:
			walk(x.Operand)
		}
	}
	walk(e)
	return out
}

// equiClause is one hashable cross-side equality extracted from a predicate.
type equiClause struct {
	left, right Expr
}

// splitPredicate partitions a predicate's conjuncts into hashable equality
// clauses and a residual predicate (nil when nothing remains).
func splitPredicate(pred Expr, left, right *bindings) ([]equiClause, Expr, error) {
	conjuncts := []Expr{pred}
	if a, ok := pred.(*And); ok {
		conjuncts = a.Operands
	}
	var clauses []equiClause
	var residual []Expr
	for _, c := range conjuncts {
		eq, ok := c.(*Eq)
		if !ok {
			residual = append(residual, c)
			continue
		}
		ls, err := sideOf(eq.L, left, right)
		if err != nil {
			return nil, nil, err
		}
		rs, err := sideOf(eq.R, left, right)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case ls == Left && rs == Right:
			clauses = append(clauses, equiClause{left: eq.L, right: eq.R})
		case ls == Right && rs == Left:
			clauses = append(clauses, equiClause{left: eq.R, right: eq.L})
		default:
			residual = append(residual, c)
		}
	}
	if len(residual) == 0 {
		return clauses, nil, nil
	}
	return clauses, AndOf(residual...), nil
}

// JoinAlgorithm reports how the engine would execute a join of left and
// right on pred, without executing it.
func JoinAlgorithm(left, right Table, pred Expr) (Algorithm, error) {
	if lit, ok := pred.(*Literal); ok {
		b, isBool := lit.Value.(bool)
		if !isBool {
			return NestedLoopJoin, fmt.Errorf("join predicate literal %v is not boolean", lit.Value)
		}
		if b {
			return CrossProduct, nil
		}
		return EmptyResult, nil
	}
	lb, rb := newBindings(left.Schema()), newBindings(right.Schema())
	clauses, _, err := splitPredicate(pred, lb, rb)
	if err != nil {
		return NestedLoopJoin, err
	}
	if len(clauses) > 0 {
		return HashJoin, nil
	}
	return NestedLoopJoin, nil
}

type joinTable struct {
	left, right Table
	pred        Expr
	opts        JoinOptions
	schema      *arrow.Schema
	// rightMap maps output positions to right-side columns; for semi/anti
	// joins the output is the left row alone.
}

func (t *joinTable) Schema() *arrow.Schema { return t.schema }

func (t *joinTable) execute(ctx context.Context) ([]Row, error) {
	lrows, err := t.left.execute(ctx)
	if err != nil {
		return nil, err
	}
	rrows, err := t.right.execute(ctx)
	if err != nil {
		return nil, err
	}
	lb, rb := newBindings(t.left.Schema()), newBindings(t.right.Schema())
	clauses, residual, err := splitPredicate(t.pred, lb, rb)
	if err != nil {
		return nil, err
	}
	if lit, ok := t.pred.(*Literal); ok {
		if b, isBool := lit.Value.(bool); isBool && b {
			// Constant-true predicate: full cross product via nested loop.
			clauses, residual = nil, nil
		}
	}

	env := &evalEnv{left: lb, right: rb}
	matches := func(lrow, rrow Row) (bool, error) {
		env.lrow, env.rrow = lrow, rrow
		if residual == nil && len(clauses) > 0 {
			return true, nil
		}
		pred := t.pred
		if len(clauses) > 0 {
			pred = residual
		}
		return evalBool(pred, env)
	}

	var out []Row
	emit := func(lrow, rrow Row) {
		switch t.opts.How {
		case SemiJoin, AntiJoin:
			out = append(out, lrow)
		default:
			nr := make(Row, 0, len(lrow)+t.right.Schema().NumFields())
			nr = append(nr, lrow...)
			if rrow != nil {
				nr = append(nr, rrow...)
			} else {
				for i := 0; i < t.right.Schema().NumFields(); i++ {
					nr = append(nr, nil)
				}
			}
			out = append(out, nr)
		}
	}

	if len(clauses) > 0 {
		// Hash join: build on the right, probe with the left. NULL keys
		// never match.
		build := make(map[string][]Row, len(rrows))
		keyBuf := make([]Value, len(clauses))
		for _, rrow := range rrows {
			env.lrow, env.rrow = nil, rrow
			skip := false
			for i, cl := range clauses {
				v, err := evalExpr(cl.right, env)
				if err != nil {
					return nil, err
				}
				if v == nil {
					skip = true
					break
				}
				keyBuf[i] = v
			}
			if skip {
				continue
			}
			key, _ := encodeKey(keyBuf)
			build[key] = append(build[key], rrow)
		}
		for _, lrow := range lrows {
			env.lrow, env.rrow = lrow, nil
			skip := false
			for i, cl := range clauses {
				v, err := evalExpr(cl.left, env)
				if err != nil {
					return nil, err
				}
				if v == nil {
					skip = true
					break
				}
				keyBuf[i] = v
			}
			var candidates []Row
			if !skip {
				key, _ := encodeKey(keyBuf)
				candidates = build[key]
			}
			matched := false
			for _, rrow := range candidates {
				ok, err := matches(lrow, rrow)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				matched = true
				if t.opts.How == SemiJoin {
					break
				}
				if t.opts.How == AntiJoin {
					break
				}
				emit(lrow, rrow)
			}
			switch t.opts.How {
			case SemiJoin:
				if matched {
					emit(lrow, nil)
				}
			case AntiJoin:
				if !matched {
					emit(lrow, nil)
				}
			case LeftOuterJoin:
				if !matched {
					emit(lrow, nil)
				}
			}
		}
		return out, nil
	}

	// Nested loop over all pairs.
	for _, lrow := range lrows {
		matched := false
		for _, rrow := range rrows {
			var ok bool
			if t.pred == nil {
				ok = true
			} else if lit, isLit := t.pred.(*Literal); isLit {
				ok, _ = lit.Value.(bool)
			} else {
				var err error
				ok, err = matches(lrow, rrow)
				if err != nil {
					return nil, err
				}
			}
			if !ok {
				continue
			}
			matched = true
			if t.opts.How == SemiJoin || t.opts.How == AntiJoin {
				break
			}
			emit(lrow, rrow)
		}
		switch t.opts.How {
		case SemiJoin:
			if matched {
				emit(lrow, nil)
			}
		case AntiJoin:
			if !matched {
				emit(lrow, nil)
			}
		case LeftOuterJoin:
			if !matched {
				emit(lrow, nil)
			}
		}
	}
	return out, nil
}

// Join combines two tables on a predicate. Output columns are the left
// columns followed by the right columns, suffixed per opts. Semi and anti
// joins keep the left schema unchanged.
func Join(left, right Table, pred Expr, opts JoinOptions) (Table, error) {
	if pred == nil {
		return nil, fmt.Errorf("join predicate must not be nil")
	}
	if opts.LeftSuffix == "" {
		opts.LeftSuffix = "_l"
	}
	if opts.RightSuffix == "" {
		opts.RightSuffix = "_r"
	}
	if _, err := inferType(pred, left.Schema(), right.Schema()); err != nil {
		return nil, fmt.Errorf("join predicate %s: %w", pred, err)
	}
	var schema *arrow.Schema
	if opts.How == SemiJoin || opts.How == AntiJoin {
		schema = left.Schema()
	} else {
		var err error
		schema, err = joinSchema(left.Schema(), right.Schema(), opts)
		if err != nil {
			return nil, err
		}
	}
	return &joinTable{left: left, right: right, pred: pred, opts: opts, schema: schema}, nil
}

func joinSchema(left, right *arrow.Schema, opts JoinOptions) (*arrow.Schema, error) {
	collides := make(map[string]bool)
	for _, f := range left.Fields() {
		if len(right.FieldIndices(f.Name)) > 0 {
			collides[f.Name] = true
		}
	}
	fields := make([]arrow.Field, 0, left.NumFields()+right.NumFields())
	seen := make(map[string]bool)
	add := func(f arrow.Field, suffix string, rename bool) error {
		name := f.Name
		if rename {
			name += suffix
		}
		if seen[name] {
			return fmt.Errorf("join would produce duplicate output column %q", name)
		}
		seen[name] = true
		fields = append(fields, arrow.Field{Name: name, Type: f.Type, Nullable: true})
		return nil
	}
	for _, f := range left.Fields() {
		if err := add(f, opts.LeftSuffix, opts.RenameAll || collides[f.Name]); err != nil {
			return nil, err
		}
	}
	for _, f := range right.Fields() {
		if err := add(f, opts.RightSuffix, opts.RenameAll || collides[f.Name]); err != nil {
			return nil, err
		}
	}
	return arrow.NewSchema(fields, nil), nil
}
