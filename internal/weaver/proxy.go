package weaver

import (
	"context"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/kinds"
	"github.com/samsarahq/go/oops"

	"github.com/samsarahq/weaver/internal/weaveast"
)

// ProxyResolve reconstructs the upstream-facing sub-query for the resolved
// root field's entire subtree, dispatches it through ep.Client, and returns
// the decoded leaf value; the fields beneath it are read from that value by
// the resolvers Weave installs (aliasAwareResolve and link resolvers).
func ProxyResolve(ep *Endpoint) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		info := p.Info
		fragments := fragmentDefinitions(info.Fragments)

		seen := map[*ast.FragmentDefinition]bool{}
		selectionSet := combineFieldASTs(info.FieldASTs)
		if selectionSet != nil {
			if err := weaveast.CheckNoReservedAlias(selectionSet, fragments); err != nil {
				return nil, asReservedFieldAlias(err)
			}
			selectionSet = reverseRenameAndDiscriminate(selectionSet, ep.Namespace, linkKeyFields(ep), fragments, seen)
		}

		operationDef, _ := info.Operation.(*ast.OperationDefinition)
		var rootSelectionSet *ast.SelectionSet
		if operationDef != nil {
			rootSelectionSet = operationDef.SelectionSet
		}

		aliases := weaveast.CollectAliasesInResponsePath(info.Path)
		var ancestors []*ast.Field
		if len(aliases) > 1 {
			ancestors = weaveast.CollectFieldNodesInPath(rootSelectionSet, aliases[:len(aliases)-1], fragments)
		}

		upstreamFieldName := info.FieldName
		if len(aliases) == 1 { // a root field's own name was prefixed by MergeSchemas
			upstreamFieldName = Unprefix(ep.Namespace, info.FieldName)
		}

		resolvedField := &ast.Field{
			Kind:         kinds.Field,
			Name:         &ast.Name{Kind: kinds.Name, Value: upstreamFieldName},
			Arguments:    firstFieldArguments(info.FieldASTs),
			SelectionSet: selectionSet,
		}

		wrapped := weaveast.CloneSelectionChain(ancestors, &ast.SelectionSet{
			Kind:       kinds.SelectionSet,
			Selections: []ast.Selection{resolvedField},
		})

		usedVars := map[string]bool{}
		collectSelectionSetVariables(wrapped, fragments, usedVars)

		varDefs, varValues := filterVariables(operationDef, ep.Namespace, info.VariableValues, usedVars)

		operation := "query"
		if operationDef != nil && operationDef.Operation != "" {
			operation = operationDef.Operation
		}

		doc := &ast.Document{
			Kind: kinds.Document,
			Definitions: append([]ast.Node{&ast.OperationDefinition{
				Kind:                kinds.OperationDefinition,
				Operation:           operation,
				VariableDefinitions: varDefs,
				SelectionSet:        wrapped,
			}}, fragmentNodes(referencedFragments(fragments, seen))...),
		}

		ctx, _ := p.Context.(context.Context)
		if ctx == nil {
			ctx = context.Background()
		}

		result, err := ep.Client.Execute(ctx, doc, varValues)
		if err != nil {
			return nil, oops.Wrapf(err, "dispatching sub-query to endpoint %q", ep.Name)
		}

		outerPath := aliasPathPrefix(info.Path)
		for i := range result.Errors {
			result.Errors[i] = RewriteErrorPath(result.Errors[i], outerPath, len(ancestors)+1)
		}

		dataPath := make([]string, 0, len(ancestors)+1)
		for _, a := range ancestors {
			dataPath = append(dataPath, weaveast.OutputKey(a))
		}
		dataPath = append(dataPath, upstreamFieldName)

		value := result.Data
		for _, key := range dataPath {
			if value == nil {
				break
			}
			v, ok := descend(value, key)
			if !ok {
				return nil, &UpstreamContractViolation{Endpoint: ep.Name, Path: dataPath}
			}
			value = v
		}

		if len(result.Errors) > 0 {
			if value == nil {
				return nil, upstreamErrors(result.Errors)
			}
			value = inlineFieldErrors(value, result.Errors, len(outerPath))
		}
		if errValue, ok := value.(error); ok {
			return nil, errValue
		}
		return value, nil
	}
}

// combineFieldASTs concatenates the selections of every collected FieldAST
// for this field into one selection set. The GraphQL executor is assumed to
// collapse aliased duplicates across the merged set; returns nil if every
// FieldAST selects nothing (a scalar field).
func combineFieldASTs(fieldASTs []*ast.Field) *ast.SelectionSet {
	var selections []ast.Selection
	for _, f := range fieldASTs {
		if f.SelectionSet == nil {
			continue
		}
		selections = append(selections, f.SelectionSet.Selections...)
	}
	if len(selections) == 0 {
		return nil
	}
	return &ast.SelectionSet{Kind: kinds.SelectionSet, Selections: selections}
}

func firstFieldArguments(fieldASTs []*ast.Field) []*ast.Argument {
	for _, f := range fieldASTs {
		if len(f.Arguments) > 0 {
			return f.Arguments
		}
	}
	return nil
}

func fragmentDefinitions(raw map[string]ast.Definition) map[string]*ast.FragmentDefinition {
	out := make(map[string]*ast.FragmentDefinition, len(raw))
	for name, def := range raw {
		if frag, ok := def.(*ast.FragmentDefinition); ok {
			out[name] = frag
		}
	}
	return out
}

// referencedFragments narrows fragments to the definitions the rewrite
// actually visited (transitively, through spreads), keyed by name. Only
// these belong in the dispatched document: a fragment the sub-query never
// spreads may condition on another namespace's types, which the upstream
// would reject.
func referencedFragments(fragments map[string]*ast.FragmentDefinition, seen map[*ast.FragmentDefinition]bool) map[string]*ast.FragmentDefinition {
	out := make(map[string]*ast.FragmentDefinition, len(seen))
	for frag := range seen {
		if cur, ok := fragments[frag.Name.Value]; ok {
			out[frag.Name.Value] = cur
		}
	}
	return out
}

func fragmentNodes(fragments map[string]*ast.FragmentDefinition) []ast.Node {
	out := make([]ast.Node, 0, len(fragments))
	for _, f := range fragments {
		out = append(out, f)
	}
	return out
}

// linkKeyFields maps every synthetic link field name an endpoint's weaving
// installed ("countryCode_link") to the scalar key field the link resolver
// reads off the parent object ("countryCode"). The proxy resolver uses it
// to keep link fields out of upstream sub-queries while guaranteeing the
// join key is fetched.
func linkKeyFields(ep *Endpoint) map[string]string {
	if len(ep.Links) == 0 {
		return nil
	}
	out := make(map[string]string, len(ep.Links))
	for key := range ep.Links {
		_, field := splitOnce(key, '.')
		out[field+LinkFieldSuffix] = field
	}
	return out
}

// reverseRenameAndDiscriminate deep-clones set (and every fragment it
// transitively references, in place in the fragments map), rewriting every
// type condition's name from its merged, prefixed form back to the
// upstream's own name, dropping synthetic link fields (replacing each with
// a selection of its join-key field, which the upstream does know), and
// injecting an unaliased __typename into any selection set that carries a
// fragment spread or inline fragment. Neither set nor the fragments map's
// prior values are mutated. seen is a request-scoped set of fragment
// definitions already rewritten in place, so a fragment spread more than
// once is only processed once.
func reverseRenameAndDiscriminate(set *ast.SelectionSet, ns string, linkKeys map[string]string, fragments map[string]*ast.FragmentDefinition, seen map[*ast.FragmentDefinition]bool) *ast.SelectionSet {
	if set == nil {
		return nil
	}

	selections := make([]ast.Selection, 0, len(set.Selections))
	neededKeys := []string{}
	for _, sel := range set.Selections {
		switch s := sel.(type) {
		case *ast.Field:
			if keyField, isLink := linkKeys[s.Name.Value]; isLink {
				neededKeys = append(neededKeys, keyField)
				continue
			}
			clone := *s
			clone.SelectionSet = reverseRenameAndDiscriminate(s.SelectionSet, ns, linkKeys, fragments, seen)
			selections = append(selections, &clone)
		case *ast.InlineFragment:
			clone := *s
			if s.TypeCondition != nil {
				clone.TypeCondition = &ast.Named{Kind: kinds.Named, Name: &ast.Name{Kind: kinds.Name, Value: Unprefix(ns, s.TypeCondition.Name.Value)}}
			}
			clone.SelectionSet = reverseRenameAndDiscriminate(s.SelectionSet, ns, linkKeys, fragments, seen)
			selections = append(selections, &clone)
		case *ast.FragmentSpread:
			if frag, ok := fragments[s.Name.Value]; ok && !seen[frag] {
				rewriteFragmentOnce(frag, ns, linkKeys, fragments, seen)
			}
			clone := *s
			selections = append(selections, &clone)
		default:
			selections = append(selections, sel)
		}
	}

	newSet := &ast.SelectionSet{Kind: kinds.SelectionSet, Selections: selections}
	for _, keyField := range neededKeys {
		_, newSet = weaveast.AddFieldSelectionSafely(newSet, keyField, fragments)
	}
	if weaveast.HasTypeDiscriminatingSelection(newSet) {
		newSet = weaveast.AddTypenameIfAbsent(newSet)
	}
	return newSet
}

func rewriteFragmentOnce(frag *ast.FragmentDefinition, ns string, linkKeys map[string]string, fragments map[string]*ast.FragmentDefinition, seen map[*ast.FragmentDefinition]bool) {
	seen[frag] = true
	clone := *frag
	if frag.TypeCondition != nil {
		clone.TypeCondition = &ast.Named{Kind: kinds.Named, Name: &ast.Name{Kind: kinds.Name, Value: Unprefix(ns, frag.TypeCondition.Name.Value)}}
	}
	clone.SelectionSet = reverseRenameAndDiscriminate(frag.SelectionSet, ns, linkKeys, fragments, seen)
	fragments[frag.Name.Value] = &clone
}

func collectSelectionSetVariables(set *ast.SelectionSet, fragments map[string]*ast.FragmentDefinition, out map[string]bool) {
	if set == nil {
		return
	}
	for _, sel := range set.Selections {
		switch s := sel.(type) {
		case *ast.Field:
			for _, arg := range s.Arguments {
				collectValueVariables(arg.Value, out)
			}
			collectSelectionSetVariables(s.SelectionSet, fragments, out)
		case *ast.InlineFragment:
			collectSelectionSetVariables(s.SelectionSet, fragments, out)
		case *ast.FragmentSpread:
			if frag, ok := fragments[s.Name.Value]; ok {
				collectSelectionSetVariables(frag.SelectionSet, fragments, out)
			}
		}
	}
}

func collectValueVariables(v ast.Value, out map[string]bool) {
	switch val := v.(type) {
	case *ast.Variable:
		out[val.Name.Value] = true
	case *ast.ListValue:
		for _, item := range val.Values {
			collectValueVariables(item, out)
		}
	case *ast.ObjectValue:
		for _, f := range val.Fields {
			collectValueVariables(f.Value, out)
		}
	}
}

// filterVariables narrows op's variable definitions and values to the used
// subset, reverse-renaming each definition's type (the client declared it
// against the merged schema's prefixed names) so the upstream recognizes it.
func filterVariables(op *ast.OperationDefinition, ns string, values map[string]interface{}, used map[string]bool) ([]*ast.VariableDefinition, map[string]interface{}) {
	filteredValues := make(map[string]interface{}, len(used))
	if op == nil {
		return nil, filteredValues
	}
	var defs []*ast.VariableDefinition
	for _, d := range op.VariableDefinitions {
		name := d.Variable.Name.Value
		if !used[name] {
			continue
		}
		defs = append(defs, &ast.VariableDefinition{
			Kind:         kinds.VariableDefinition,
			Variable:     d.Variable,
			Type:         unprefixASTType(d.Type, ns),
			DefaultValue: d.DefaultValue,
		})
		if v, ok := values[name]; ok {
			filteredValues[name] = v
		}
	}
	return defs, filteredValues
}

func unprefixASTType(t ast.Type, ns string) ast.Type {
	switch v := t.(type) {
	case *ast.NonNull:
		return &ast.NonNull{Kind: kinds.NonNull, Type: unprefixASTType(v.Type, ns)}
	case *ast.List:
		return &ast.List{Kind: kinds.List, Type: unprefixASTType(v.Type, ns)}
	case *ast.Named:
		return &ast.Named{Kind: kinds.Named, Name: &ast.Name{Kind: kinds.Name, Value: Unprefix(ns, v.Name.Value)}}
	default:
		return t
	}
}

func aliasPathPrefix(path *graphql.ResponsePath) []interface{} {
	var reversed []interface{}
	for p := path; p != nil; p = p.Prev {
		reversed = append(reversed, p.Key)
	}
	out := make([]interface{}, len(reversed))
	for i, v := range reversed {
		out[len(reversed)-1-i] = v
	}
	return out
}

// descend looks up key in data, where data is expected to be a
// map[string]interface{} (the decoded JSON object an upstream response's
// "data" field holds).
func descend(data interface{}, key string) (interface{}, bool) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

func upstreamErrors(errs []UpstreamError) error {
	if len(errs) == 0 {
		return nil
	}
	return &SubqueryError{Errors: errs}
}
