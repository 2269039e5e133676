package weaveast

import (
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/kinds"
)

// CollectAliasesInResponsePath returns the alias (or field name, if
// unaliased) at every level of a GraphQLResolveInfo response path, from the
// operation root down to (and including) the leaf the path names.
func CollectAliasesInResponsePath(path *graphql.ResponsePath) []string {
	var reversed []string
	for p := path; p != nil; p = p.Prev {
		if key, ok := p.Key.(string); ok {
			reversed = append(reversed, key)
		}
		// Integer keys are list indices; they don't correspond to a field
		// selection and are skipped.
	}
	aliases := make([]string, len(reversed))
	for i, a := range reversed {
		aliases[len(reversed)-1-i] = a
	}
	return aliases
}

// fieldByOutputKey looks, at this level only (descending through fragment
// spreads and inline fragments, which contribute no path step of their
// own), for the field selection whose output key is alias.
func fieldByOutputKey(set *ast.SelectionSet, alias string, fragments map[string]*ast.FragmentDefinition) *ast.Field {
	if set == nil {
		return nil
	}
	for _, sel := range set.Selections {
		switch s := sel.(type) {
		case *ast.Field:
			if OutputKey(s) == alias {
				return s
			}
		case *ast.FragmentSpread:
			if frag, ok := fragments[s.Name.Value]; ok {
				if f := fieldByOutputKey(frag.SelectionSet, alias, fragments); f != nil {
					return f
				}
			}
		case *ast.InlineFragment:
			if f := fieldByOutputKey(s.SelectionSet, alias, fragments); f != nil {
				return f
			}
		}
	}
	return nil
}

// CollectFieldNodesInPath walks rootSelectionSet by following aliases (as
// produced by CollectAliasesInResponsePath), resolving fragment spreads and
// inline fragments transparently, and returns the chain of *ast.Field nodes
// that produced each step of the path.
func CollectFieldNodesInPath(rootSelectionSet *ast.SelectionSet, aliases []string, fragments map[string]*ast.FragmentDefinition) []*ast.Field {
	chain := make([]*ast.Field, 0, len(aliases))
	set := rootSelectionSet
	for _, alias := range aliases {
		f := fieldByOutputKey(set, alias, fragments)
		if f == nil {
			return chain
		}
		chain = append(chain, f)
		set = f.SelectionSet
	}
	return chain
}

// CloneSelectionChain rebuilds the ancestor nesting described by
// fieldNodesInPath -- the chain an upstream query needs between its
// operation root and the field actually being resolved -- wrapping
// innermostSelectionSet (or, if nil, the last field node's own selection
// set) at the bottom. Each field node along the path is cloned shallowly
// (same name/alias/args, new SelectionSet) so the original AST, which may
// be shared by concurrently-running resolvers of the same request, is never
// mutated.
func CloneSelectionChain(fieldNodesInPath []*ast.Field, innermostSelectionSet *ast.SelectionSet) *ast.SelectionSet {
	if len(fieldNodesInPath) == 0 {
		return innermostSelectionSet
	}

	inner := innermostSelectionSet
	if inner == nil {
		inner = fieldNodesInPath[len(fieldNodesInPath)-1].SelectionSet
	}

	for i := len(fieldNodesInPath) - 1; i >= 0; i-- {
		orig := fieldNodesInPath[i]
		clone := &ast.Field{
			Kind:         kinds.Field,
			Alias:        orig.Alias,
			Name:         orig.Name,
			Arguments:    orig.Arguments,
			Directives:   orig.Directives,
			SelectionSet: inner,
		}
		inner = &ast.SelectionSet{Kind: kinds.SelectionSet, Selections: []ast.Selection{clone}}
	}
	return inner
}
