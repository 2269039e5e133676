// Package weaveast provides pure, allocation-new helpers for building and
// rewriting GraphQL query ASTs (github.com/graphql-go/graphql/language/ast).
// Every function here returns new nodes; none mutates its arguments, so
// callers are free to reuse subtrees of the original AST by reference.
package weaveast

import (
	"fmt"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/kinds"
)

// NewField builds a minimal field selection with no arguments and no
// sub-selection: `name`.
func NewField(name string) *ast.Field {
	return &ast.Field{
		Kind: kinds.Field,
		Name: &ast.Name{Kind: kinds.Name, Value: name},
	}
}

// SelectionChain wraps inner in a chain of field selections named by outer,
// in order, and returns the outermost selection set. An empty outer list
// returns inner unchanged.
//
// SelectionChain([]string{"a", "b"}, inner) produces the selection set for
//
//	a { b { <inner> } }
func SelectionChain(outer []string, inner *ast.SelectionSet) *ast.SelectionSet {
	set := inner
	for i := len(outer) - 1; i >= 0; i-- {
		field := NewField(outer[i])
		field.SelectionSet = set
		set = &ast.SelectionSet{
			Kind:       kinds.SelectionSet,
			Selections: []ast.Selection{field},
		}
	}
	return set
}

// AddVariableDefinitionSafely returns a new variable-definitions slice with
// one more entry for a variable of type t, named baseName or, if that name
// is taken, baseName2, baseName3, and so on. It preserves the order of
// existing and appends the new definition last.
func AddVariableDefinitionSafely(defs []*ast.VariableDefinition, baseName string, t ast.Type) ([]*ast.VariableDefinition, string) {
	used := make(map[string]bool, len(defs))
	for _, d := range defs {
		used[d.Variable.Name.Value] = true
	}

	name := baseName
	for i := 2; used[name]; i++ {
		name = fmt.Sprintf("%s%d", baseName, i)
	}

	out := make([]*ast.VariableDefinition, len(defs), len(defs)+1)
	copy(out, defs)
	out = append(out, &ast.VariableDefinition{
		Kind:     kinds.VariableDefinition,
		Variable: &ast.Variable{Kind: kinds.Variable, Name: &ast.Name{Kind: kinds.Name, Value: name}},
		Type:     t,
	})
	return out, name
}

// OutputKey returns the effective response key of a selection: its alias
// if set, otherwise its field name. It is the shared primitive behind
// AddFieldSelectionSafely and the key-field join's result-remapping.
func OutputKey(f *ast.Field) string {
	if f.Alias != nil && f.Alias.Value != "" {
		return f.Alias.Value
	}
	return f.Name.Value
}

// outputKeysInSet walks selectionSet, including fields reachable through
// fragment spreads and inline fragments, collecting every response key that
// is already produced at this level. It does not descend into nested
// selection sets.
func outputKeysInSet(set *ast.SelectionSet, fragments map[string]*ast.FragmentDefinition, keys map[string]bool) {
	if set == nil {
		return
	}
	for _, sel := range set.Selections {
		switch s := sel.(type) {
		case *ast.Field:
			keys[OutputKey(s)] = true
		case *ast.FragmentSpread:
			if frag, ok := fragments[s.Name.Value]; ok {
				outputKeysInSet(frag.SelectionSet, fragments, keys)
			}
		case *ast.InlineFragment:
			outputKeysInSet(s.SelectionSet, fragments, keys)
		}
	}
}

// findUnaliasedField looks, at this level only (descending through fragment
// spreads and inline fragments), for a selection of fieldName that has no
// alias, returning it if present.
func findUnaliasedField(set *ast.SelectionSet, fieldName string, fragments map[string]*ast.FragmentDefinition) *ast.Field {
	if set == nil {
		return nil
	}
	for _, sel := range set.Selections {
		switch s := sel.(type) {
		case *ast.Field:
			if s.Name.Value == fieldName && (s.Alias == nil || s.Alias.Value == "") {
				return s
			}
		case *ast.FragmentSpread:
			if frag, ok := fragments[s.Name.Value]; ok {
				if f := findUnaliasedField(frag.SelectionSet, fieldName, fragments); f != nil {
					return f
				}
			}
		case *ast.InlineFragment:
			if f := findUnaliasedField(s.SelectionSet, fieldName, fragments); f != nil {
				return f
			}
		}
	}
	return nil
}

// AddFieldSelectionSafely ensures fieldName is selected (without an alias
// collision) somewhere in set. If an unaliased selection of fieldName
// already exists anywhere in set -- including inside fragment spreads and
// inline fragments -- its output key is returned unchanged and set is
// returned as-is. Otherwise a new, aliased selection of fieldName is
// appended whose alias does not collide with any existing output key, and
// the new selection set (set is never mutated) is returned.
func AddFieldSelectionSafely(set *ast.SelectionSet, fieldName string, fragments map[string]*ast.FragmentDefinition) (string, *ast.SelectionSet) {
	if existing := findUnaliasedField(set, fieldName, fragments); existing != nil {
		return OutputKey(existing), set
	}

	used := map[string]bool{}
	outputKeysInSet(set, fragments, used)

	alias := fieldName
	for i := 2; used[alias]; i++ {
		alias = fmt.Sprintf("%s%d", fieldName, i)
	}

	field := NewField(fieldName)
	field.Alias = &ast.Name{Kind: kinds.Name, Value: alias}

	var selections []ast.Selection
	if set != nil {
		selections = make([]ast.Selection, len(set.Selections), len(set.Selections)+1)
		copy(selections, set.Selections)
	}
	selections = append(selections, field)

	newSet := &ast.SelectionSet{Kind: kinds.SelectionSet, Selections: selections}
	return alias, newSet
}

// HasTypeDiscriminatingSelection reports whether set contains any fragment
// spread or inline fragment, i.e. whether resolving it upstream needs
// __typename to pick a concrete type.
func HasTypeDiscriminatingSelection(set *ast.SelectionSet) bool {
	if set == nil {
		return false
	}
	for _, sel := range set.Selections {
		switch sel.(type) {
		case *ast.FragmentSpread, *ast.InlineFragment:
			return true
		}
	}
	return false
}

// HasUnaliasedTypename reports whether set already selects __typename
// without an alias.
func HasUnaliasedTypename(set *ast.SelectionSet) bool {
	if set == nil {
		return false
	}
	for _, sel := range set.Selections {
		if f, ok := sel.(*ast.Field); ok && f.Name.Value == "__typename" && (f.Alias == nil || f.Alias.Value == "") {
			return true
		}
	}
	return false
}

// AddTypenameIfAbsent returns a selection set that is guaranteed to select
// an unaliased __typename, appending one if set does not already have it.
// set is never mutated.
func AddTypenameIfAbsent(set *ast.SelectionSet) *ast.SelectionSet {
	if HasUnaliasedTypename(set) {
		return set
	}
	selections := make([]ast.Selection, 0, len(set.Selections)+1)
	selections = append(selections, set.Selections...)
	selections = append(selections, NewField("__typename"))
	return &ast.SelectionSet{Kind: kinds.SelectionSet, Selections: selections}
}

// ReservedAliasError indicates a selection aliases some field to
// "__typename", which AddTypenameIfAbsent is not allowed to clobber.
type ReservedAliasError struct {
	FieldName string
}

func (e *ReservedAliasError) Error() string {
	return fmt.Sprintf("field %q is aliased to the reserved name \"__typename\"", e.FieldName)
}

// CheckNoReservedAlias walks set (and, recursively, every nested selection
// set reachable through direct selections, fragment spreads, and inline
// fragments) and returns a *ReservedAliasError if any non-__typename field
// is aliased to "__typename".
func CheckNoReservedAlias(set *ast.SelectionSet, fragments map[string]*ast.FragmentDefinition) error {
	if set == nil {
		return nil
	}
	for _, sel := range set.Selections {
		switch s := sel.(type) {
		case *ast.Field:
			if s.Alias != nil && s.Alias.Value == "__typename" && s.Name.Value != "__typename" {
				return &ReservedAliasError{FieldName: s.Name.Value}
			}
			if err := CheckNoReservedAlias(s.SelectionSet, fragments); err != nil {
				return err
			}
		case *ast.FragmentSpread:
			if frag, ok := fragments[s.Name.Value]; ok {
				if err := CheckNoReservedAlias(frag.SelectionSet, fragments); err != nil {
					return err
				}
			}
		case *ast.InlineFragment:
			if err := CheckNoReservedAlias(s.SelectionSet, fragments); err != nil {
				return err
			}
		}
	}
	return nil
}
