// Package reasoning evaluates the entity-type hierarchy as a Datalog
// closure instead of a hand-walked graph. Parent edges go in as facts;
// the transitive ancestor/descendant relation comes back out as rows
// derived by the Mangle engine.
package reasoning

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	_ "github.com/google/mangle/packages"
	"github.com/google/mangle/parse"

	"justmemory/internal/errs"
)

// typeHierarchySchema declares the two predicates the entity-type
// hierarchy needs: the extensional parent_type edges an entity-type
// definition contributes, and the intensional ancestor_type closure
// over them.
const typeHierarchySchema = `
Decl parent_type(Child, Parent)
  bound [/string, /string].

Decl ancestor_type(Descendant, Ancestor)
  bound [/string, /string].

ancestor_type(Descendant, Ancestor) :- parent_type(Descendant, Ancestor).
ancestor_type(Descendant, Ancestor) :- parent_type(Descendant, Mid), ancestor_type(Mid, Ancestor).
`

// Engine holds the compiled schema for the type hierarchy. It carries no
// mutable fact store between calls: Compute rebuilds the store from the
// caller's current parent edges on every call, since the hierarchy is
// small and re-derived from store.EntityType rows rather than maintained
// incrementally.
type Engine struct {
	mu          sync.Mutex
	programInfo *analysis.ProgramInfo
	parentSym   ast.PredicateSym
	ancestorSym ast.PredicateSym
}

// New compiles the type hierarchy schema.
func New() (*Engine, error) {
	unit, err := parse.Unit(strings.NewReader(typeHierarchySchema))
	if err != nil {
		return nil, errs.Wrap(errs.InvariantViolation, err, "parse type hierarchy schema")
	}

	programInfo, err := analysis.AnalyzeOneUnit(parse.SourceUnit{Clauses: unit.Clauses, Decls: unit.Decls}, nil)
	if err != nil {
		return nil, errs.Wrap(errs.InvariantViolation, err, "analyze type hierarchy schema")
	}

	index := make(map[string]ast.PredicateSym, len(programInfo.Decls))
	for sym := range programInfo.Decls {
		index[sym.Symbol] = sym
	}
	parentSym, ok := index["parent_type"]
	if !ok {
		return nil, errs.New(errs.InvariantViolation, "type hierarchy schema missing parent_type")
	}
	ancestorSym, ok := index["ancestor_type"]
	if !ok {
		return nil, errs.New(errs.InvariantViolation, "type hierarchy schema missing ancestor_type")
	}

	return &Engine{programInfo: programInfo, parentSym: parentSym, ancestorSym: ancestorSym}, nil
}

// Closure is the ancestor/descendant index produced by Compute.
type Closure struct {
	Ancestors   map[string][]string
	Descendants map[string][]string
}

// Compute takes a child→parent map (one entry per entity type that has a
// parent) and returns, for every type that appears in it, the full set of
// ancestors and descendants reachable through the parent chain.
func (e *Engine) Compute(parents map[string]string) (Closure, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := factstore.NewSimpleInMemoryStore()
	store := factstore.NewConcurrentFactStore(base)
	for child, parent := range parents {
		store.Add(ast.Atom{Predicate: e.parentSym, Args: []ast.BaseTerm{ast.String(child), ast.String(parent)}})
	}

	if _, err := mengine.EvalProgramWithStats(e.programInfo, store); err != nil {
		return Closure{}, errs.Wrap(errs.InvariantViolation, err, "evaluate type hierarchy")
	}

	closure := Closure{Ancestors: map[string][]string{}, Descendants: map[string][]string{}}
	err := store.GetFacts(ast.NewQuery(e.ancestorSym), func(a ast.Atom) error {
		child, ok := stringArg(a.Args[0])
		if !ok {
			return nil
		}
		ancestor, ok := stringArg(a.Args[1])
		if !ok {
			return nil
		}
		closure.Ancestors[child] = append(closure.Ancestors[child], ancestor)
		closure.Descendants[ancestor] = append(closure.Descendants[ancestor], child)
		return nil
	})
	if err != nil {
		return Closure{}, errs.Wrap(errs.InvariantViolation, err, "read type hierarchy facts")
	}

	for k := range closure.Ancestors {
		sort.Strings(closure.Ancestors[k])
	}
	for k := range closure.Descendants {
		sort.Strings(closure.Descendants[k])
	}
	return closure, nil
}

// HasCycle reports whether adding child→parent to the existing parents
// map would make the hierarchy non-acyclic: true when the proposed
// parent is child itself, or child already appears as one of parent's
// ancestors (so parent already sits beneath child).
func (e *Engine) HasCycle(parents map[string]string, child, parent string) (bool, error) {
	if child == parent {
		return true, nil
	}
	closure, err := e.Compute(parents)
	if err != nil {
		return false, err
	}
	for _, ancestor := range closure.Ancestors[parent] {
		if ancestor == child {
			return true, nil
		}
	}
	return false, nil
}

func stringArg(term ast.BaseTerm) (string, bool) {
	c, ok := term.(ast.Constant)
	if !ok || c.Type != ast.StringType {
		return "", false
	}
	return c.Symbol, true
}
