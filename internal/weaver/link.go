package weaver

import (
	"context"
	"fmt"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/kinds"

	"github.com/samsarahq/weaver/batch"
	"github.com/samsarahq/weaver/internal/schematransform"
	"github.com/samsarahq/weaver/internal/weaveast"
)

// LinkFieldSuffix names the sibling field a link installs next to the
// key-holding field it links from, e.g. the link declared under
// "Person.countryCode" is exposed to clients as "countryCode_link".
const LinkFieldSuffix = "_link"

// linkEntry pairs a configured LinkSpec with the endpoint that declared it
// (the endpoint owning the key-holding field, not the link's target).
type linkEntry struct {
	parentType string // prefixed, merged type name, e.g. "A_Person"
	field      string // the key-holding field's local name, e.g. "countryCode"
	spec       LinkSpec
	source     *Endpoint
}

// linkTarget resolves a LinkSpec's Field dot-path against the merged
// (pre-link) schema's root Query type: the owning endpoint, the chain of
// field definitions from the root down to the leaf, and the argument path
// split from LinkSpec.Argument.
type linkTarget struct {
	endpoint  *Endpoint
	pathNames []string // root field name, then nested field names
	fields    []*graphql.FieldDefinition
	argPath   []string
}

func (t linkTarget) leaf() *graphql.FieldDefinition { return t.fields[len(t.fields)-1] }

// BuildLinkIndex flattens every endpoint's configured Links into one map
// keyed by "<prefixed parent type>.<field>", ready for InstallLinks.
func BuildLinkIndex(endpoints []*Endpoint) map[string]linkEntry {
	index := make(map[string]linkEntry)
	for _, ep := range endpoints {
		for key, spec := range ep.Links {
			parentLocal, field := splitOnce(key, '.')
			prefixedParent := Prefix(ep.Namespace, parentLocal)
			index[prefixedParent+"."+field] = linkEntry{
				parentType: prefixedParent,
				field:      field,
				spec:       spec,
				source:     ep,
			}
		}
	}
	return index
}

// resolveLinkTarget walks spec.Field against queryRoot, the merged schema's
// Query object, to find the target endpoint (via owners) and the chain of
// field definitions the path names.
func resolveLinkTarget(spec LinkSpec, queryRoot *graphql.Object, owners map[string]*Endpoint) (linkTarget, error) {
	pathNames := splitPath(spec.Field)
	if len(pathNames) == 0 {
		return linkTarget{}, fmt.Errorf("weaver: link field path is empty")
	}

	ep, ok := owners[pathNames[0]]
	if !ok {
		return linkTarget{}, fmt.Errorf("weaver: link target field %q is not a root field of any endpoint", pathNames[0])
	}

	fields := make([]*graphql.FieldDefinition, 0, len(pathNames))
	def, ok := queryRoot.Fields()[pathNames[0]]
	if !ok {
		return linkTarget{}, fmt.Errorf("weaver: link target field %q not found", pathNames[0])
	}
	fields = append(fields, def)

	cur := def.Type
	for _, seg := range pathNames[1:] {
		obj, ok := unwrapObject(cur)
		if !ok {
			return linkTarget{}, fmt.Errorf("weaver: link target path segment %q has no sub-fields", seg)
		}
		next, ok := obj.Fields()[seg]
		if !ok {
			return linkTarget{}, fmt.Errorf("weaver: link target field %q not found under %q", seg, obj.Name())
		}
		fields = append(fields, next)
		cur = next.Type
	}

	return linkTarget{
		endpoint:  ep,
		pathNames: pathNames,
		fields:    fields,
		argPath:   splitPath(spec.Argument),
	}, nil
}

func unwrapObject(t graphql.Type) (*graphql.Object, bool) {
	switch v := t.(type) {
	case *graphql.NonNull:
		return unwrapObject(v.OfType)
	case *graphql.List:
		return unwrapObject(v.OfType)
	case *graphql.Object:
		return v, true
	default:
		return nil, false
	}
}

// installedLink is one validated, ready-to-install link field.
type installedLink struct {
	fieldName string
	target    linkTarget
	resolver  graphql.FieldResolveFn
}

// InstallLinks runs the final weaving pass: every object or interface named
// in index gains a new sibling field (per linkEntry) whose resolver
// performs the join described by its LinkSpec. Per-link problems are
// collected into the returned slice rather than aborting the whole pass:
// a link whose key field, target field or argument cannot be found is left
// out (an absent field rather than a failed boot), while an incompatible
// key/argument scalar type is reported and the link is still installed.
//
// Validation happens once, up front, against the pre-link schema. The field
// thunks below may be re-evaluated any number of times (graphql-go rebuilds
// an Object's field map on every Fields call), so they only append the
// already-validated fields, mapping the target's type into the new schema
// through the transform context.
func InstallLinks(schema *graphql.Schema, index map[string]linkEntry, owners *rootOwners) (*graphql.Schema, []error) {
	var weavingErrors []error
	queryRoot := schema.QueryType()

	installed := map[string][]installedLink{}
	for _, entry := range index {
		localDef, ok := parentFieldDef(schema, entry.parentType, entry.field)
		if !ok {
			weavingErrors = append(weavingErrors, &WeavingError{ParentType: entry.parentType, Field: entry.field, Message: "link declared on a field that does not exist"})
			continue
		}

		target, err := resolveLinkTarget(entry.spec, queryRoot, owners.query)
		if err != nil {
			weavingErrors = append(weavingErrors, &WeavingError{ParentType: entry.parentType, Field: entry.field, Message: err.Error()})
			continue
		}

		argType, err := resolveArgumentLeafType(target.leaf(), target.argPath)
		if err != nil {
			weavingErrors = append(weavingErrors, &WeavingError{ParentType: entry.parentType, Field: entry.field, Message: err.Error()})
			continue
		}
		if !scalarNamesMatch(localDef.Type, argType) {
			weavingErrors = append(weavingErrors, &WeavingError{
				ParentType: entry.parentType, Field: entry.field,
				Message: fmt.Sprintf("key type %s does not match argument type %s; installing best-effort passthrough", typeNameOf(localDef.Type), typeNameOf(argType)),
			})
		}

		installed[entry.parentType] = append(installed[entry.parentType], installedLink{
			fieldName: entry.field + LinkFieldSuffix,
			target:    target,
			resolver:  buildLinkResolver(entry.field, entry.spec, target),
		})
	}

	objectInstaller := func(cfg *graphql.ObjectConfig, old *graphql.Object, ctx *schematransform.Context) {
		// A link declared on an interface must surface on every implementor
		// too: execution resolves fields against the concrete object type.
		links := append([]installedLink{}, installed[old.Name()]...)
		for _, iface := range old.Interfaces() {
			links = append(links, installed[iface.Name()]...)
		}
		if len(links) == 0 {
			return
		}
		thunk, ok := cfg.Fields.(graphql.FieldsThunk)
		if !ok {
			return
		}
		cfg.Fields = graphql.FieldsThunk(func() graphql.Fields {
			fields := thunk()
			addLinkFields(fields, links, ctx)
			return fields
		})
	}
	interfaceInstaller := func(cfg *graphql.InterfaceConfig, old *graphql.Interface, ctx *schematransform.Context) {
		links := installed[old.Name()]
		if len(links) == 0 {
			return
		}
		thunk, ok := cfg.Fields.(graphql.FieldsThunk)
		if !ok {
			return
		}
		cfg.Fields = graphql.FieldsThunk(func() graphql.Fields {
			fields := thunk()
			addLinkFields(fields, links, ctx)
			return fields
		})
	}

	newSchema, err := schematransform.Transform(schema, schematransform.TransformerSet{
		Object:    []func(*graphql.ObjectConfig, *graphql.Object, *schematransform.Context){objectInstaller},
		Interface: []func(*graphql.InterfaceConfig, *graphql.Interface, *schematransform.Context){interfaceInstaller},
	})
	if err != nil {
		return nil, append(weavingErrors, err)
	}
	return newSchema, weavingErrors
}

// parentFieldDef looks up typeName's field fieldName in schema, accepting
// both object and interface parents.
func parentFieldDef(schema *graphql.Schema, typeName, fieldName string) (*graphql.FieldDefinition, bool) {
	switch t := schema.TypeMap()[typeName].(type) {
	case *graphql.Object:
		def, ok := t.Fields()[fieldName]
		return def, ok
	case *graphql.Interface:
		def, ok := t.Fields()[fieldName]
		return def, ok
	default:
		return nil, false
	}
}

// addLinkFields appends every validated link field to a freshly-built field
// map, mapping the target's type and arguments into the new schema. Runs
// inside a FieldsThunk, so mapping failures panic (matching
// schematransform's own thunk behavior) and surface from NewSchema.
func addLinkFields(fields graphql.Fields, links []installedLink, ctx *schematransform.Context) {
	for _, il := range links {
		mapped, err := ctx.MapType(il.target.leaf().Type)
		if err != nil {
			panic(fmt.Errorf("link field %q: %w", il.fieldName, err))
		}
		output, ok := mapped.(graphql.Output)
		if !ok {
			panic(fmt.Errorf("link field %q did not map to an output type", il.fieldName))
		}
		fields[il.fieldName] = &graphql.Field{
			Name:    il.fieldName,
			Type:    output,
			Args:    mapArgsToConfig(il.target.leaf().Args, ctx),
			Resolve: il.resolver,
		}
	}
}

func mapArgsToConfig(args []*graphql.Argument, ctx *schematransform.Context) graphql.FieldConfigArgument {
	out := make(graphql.FieldConfigArgument, len(args))
	for _, a := range args {
		mapped, err := ctx.MapType(a.Type)
		if err != nil {
			panic(fmt.Errorf("link argument %q: %w", a.Name(), err))
		}
		input, ok := mapped.(graphql.Input)
		if !ok {
			panic(fmt.Errorf("link argument %q did not map to an input type", a.Name()))
		}
		out[a.Name()] = &graphql.ArgumentConfig{
			Type:         input,
			DefaultValue: a.DefaultValue,
			Description:  a.Description(),
		}
	}
	return out
}

func resolveArgumentLeafType(field *graphql.FieldDefinition, argPath []string) (graphql.Input, error) {
	if len(argPath) == 0 {
		return nil, fmt.Errorf("link argument path is empty")
	}
	var arg *graphql.Argument
	for _, a := range field.Args {
		if a.Name() == argPath[0] {
			arg = a
			break
		}
	}
	if arg == nil {
		return nil, fmt.Errorf("target field %q has no argument %q", field.Name, argPath[0])
	}
	t := arg.Type
	for _, seg := range argPath[1:] {
		io, ok := unwrapInputObject(t)
		if !ok {
			return nil, fmt.Errorf("argument path segment %q is not an input object field", seg)
		}
		inner, ok := io.Fields()[seg]
		if !ok {
			return nil, fmt.Errorf("input object %q has no field %q", io.Name(), seg)
		}
		t = inner.Type
	}
	return t, nil
}

func unwrapInputObject(t graphql.Input) (*graphql.InputObject, bool) {
	switch v := t.(type) {
	case *graphql.NonNull:
		inner, ok := v.OfType.(graphql.Input)
		if !ok {
			return nil, false
		}
		return unwrapInputObject(inner)
	case *graphql.InputObject:
		return v, true
	default:
		return nil, false
	}
}

func scalarNamesMatch(a, b graphql.Type) bool {
	return unwrapTypeName(a) == unwrapTypeName(b)
}

func unwrapTypeName(t graphql.Type) string {
	switch v := t.(type) {
	case *graphql.NonNull:
		return unwrapTypeName(v.OfType)
	case *graphql.List:
		return unwrapTypeName(v.OfType)
	default:
		return t.Name()
	}
}

func typeNameOf(t graphql.Type) string { return unwrapTypeName(t) }

func splitOnce(s string, sep byte) (string, string) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

func splitPath(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// linkInvocation is what a single resolver call enqueues with the batcher:
// its join key, plus the client-requested sub-selection for the linked
// field (built once per call, since it depends on that call's own
// p.Info.FieldASTs/fragments). Every invocation batched together here
// originates from the same field position in one query document, so their
// selection sets and extra arguments are identical; the batch dispatcher
// uses the first invocation's.
type linkInvocation struct {
	key          interface{}
	selectionSet *ast.SelectionSet
	fragments    map[string]*ast.FragmentDefinition
	extraArgs    []*ast.Argument
	varDefs      []*ast.VariableDefinition
	varValues    map[string]interface{}
}

// buildLinkResolver returns the resolver installed on the synthetic
// "<field>_link" sibling field: single-object, batched order-preserving,
// batched key-field, and filter-argument joins.
func buildLinkResolver(keyFieldName string, spec LinkSpec, target linkTarget) graphql.FieldResolveFn {
	batcher := &batch.Func{
		Many: func(ctx context.Context, args []interface{}) ([]interface{}, error) {
			invocations := make([]linkInvocation, len(args))
			for i, a := range args {
				invocations[i] = a.(linkInvocation)
			}
			return dispatchBatchedLink(ctx, spec, target, invocations)
		},
	}

	return func(p graphql.ResolveParams) (interface{}, error) {
		key, present := extractKey(p.Source, keyFieldName)
		if !present {
			return nil, nil
		}
		if causeErr, isErr := key.(error); isErr {
			return nil, &KeyFieldError{ParentType: p.Info.ParentType.Name(), Field: keyFieldName, Cause: causeErr}
		}

		fragments := fragmentDefinitions(p.Info.Fragments)
		seen := map[*ast.FragmentDefinition]bool{}
		selectionSet := combineFieldASTs(p.Info.FieldASTs)
		if selectionSet != nil {
			if err := weaveast.CheckNoReservedAlias(selectionSet, fragments); err != nil {
				return nil, asReservedFieldAlias(err)
			}
			selectionSet = reverseRenameAndDiscriminate(selectionSet, target.endpoint.Namespace, linkKeyFields(target.endpoint), fragments, seen)
		}
		fragments = referencedFragments(fragments, seen)
		extraArgs := forwardedArguments(firstFieldArguments(p.Info.FieldASTs), target.argPath)

		// Forward only the variables the rewritten sub-selection and the
		// passed-through arguments actually reference, with their
		// definitions, so the sub-query stays self-contained.
		usedVars := map[string]bool{}
		collectSelectionSetVariables(selectionSet, fragments, usedVars)
		for _, a := range extraArgs {
			collectValueVariables(a.Value, usedVars)
		}
		operationDef, _ := p.Info.Operation.(*ast.OperationDefinition)
		varDefs, varValues := filterVariables(operationDef, target.endpoint.Namespace, p.Info.VariableValues, usedVars)

		inv := linkInvocation{
			key:          key,
			selectionSet: selectionSet,
			fragments:    fragments,
			extraArgs:    extraArgs,
			varDefs:      varDefs,
			varValues:    varValues,
		}

		ctx, _ := p.Context.(context.Context)
		if ctx == nil {
			ctx = context.Background()
		}

		if spec.BatchMode && batch.HasBatching(ctx) {
			return batcher.Invoke(ctx, inv)
		}
		results, err := dispatchBatchedLink(ctx, spec, target, []linkInvocation{inv})
		if err != nil {
			return nil, err
		}
		return results[0], nil
	}
}

// forwardedArguments passes through any client-supplied argument on the
// "_link" field itself other than the key/filter argument link resolution
// already owns -- e.g. orderBy, first, or skip on a join-style link.
func forwardedArguments(clientArgs []*ast.Argument, argPath []string) []*ast.Argument {
	if len(argPath) == 0 {
		return nil
	}
	var out []*ast.Argument
	for _, a := range clientArgs {
		if a.Name.Value == argPath[0] {
			continue
		}
		out = append(out, a)
	}
	return out
}

func extractKey(source interface{}, fieldName string) (interface{}, bool) {
	m, ok := source.(map[string]interface{})
	if !ok {
		return nil, false
	}
	v, ok := m[fieldName]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// dispatchBatchedLink issues one sub-query for the full set of invocations
// and returns one result per invocation, in the same order. For
// keyField-mode links it additionally requests the key field on every
// result and remaps by value; for order-preserving batched (and
// single-key) links it trusts the upstream to echo results positionally.
func dispatchBatchedLink(ctx context.Context, spec LinkSpec, target linkTarget, invocations []linkInvocation) ([]interface{}, error) {
	first := invocations[0]
	keys := make([]interface{}, len(invocations))
	for i, inv := range invocations {
		keys[i] = inv.key
	}

	leafArgType := mustArgType(target.leaf(), target.argPath)
	varType := leafArgType
	var varValue interface{} = keys[0]
	if len(keys) > 1 || spec.BatchMode {
		// Batched calls carry the whole key set in one non-null-list
		// variable; an argument already declared as a list is used as-is.
		if !isListType(leafArgType) {
			varType = graphql.NewNonNull(graphql.NewList(leafArgType))
		}
		varValue = keys
	}

	// The key variable's name must not collide with any client variable the
	// sub-selection already forwards.
	varDefs, varName := weaveast.AddVariableDefinitionSafely(first.varDefs, "linkKeys", astTypeOf(varType, target.endpoint.Namespace))
	varValues := make(map[string]interface{}, len(first.varValues)+1)
	for k, v := range first.varValues {
		varValues[k] = v
	}
	varValues[varName] = varValue

	selectionSet := first.selectionSet
	var keyFieldAlias string
	if spec.KeyField != "" {
		keyFieldAlias, selectionSet = weaveast.AddFieldSelectionSafely(selectionSet, spec.KeyField, first.fragments)
	}

	// Only the root segment of the target path is namespace-prefixed in the
	// merged schema; everything beneath it is a plain upstream field name.
	upstreamPath := make([]string, len(target.pathNames))
	upstreamPath[0] = Unprefix(target.endpoint.Namespace, target.pathNames[0])
	copy(upstreamPath[1:], target.pathNames[1:])

	arguments := append([]*ast.Argument{buildKeyArgument(target.argPath, varName)}, first.extraArgs...)
	leafField := &ast.Field{
		Kind:         kinds.Field,
		Name:         &ast.Name{Kind: kinds.Name, Value: upstreamPath[len(upstreamPath)-1]},
		Arguments:    arguments,
		SelectionSet: selectionSet,
	}

	wrapped := weaveast.SelectionChain(upstreamPath[:len(upstreamPath)-1], &ast.SelectionSet{
		Kind:       kinds.SelectionSet,
		Selections: []ast.Selection{leafField},
	})

	doc := &ast.Document{
		Kind: kinds.Document,
		Definitions: append([]ast.Node{&ast.OperationDefinition{
			Kind:                kinds.OperationDefinition,
			Operation:           "query",
			VariableDefinitions: varDefs,
			SelectionSet:        wrapped,
		}}, fragmentNodes(first.fragments)...),
	}

	result, err := target.endpoint.Client.Execute(ctx, doc, varValues)
	if err != nil {
		return nil, fmt.Errorf("dispatching link sub-query to endpoint %q: %w", target.endpoint.Name, err)
	}

	raw, ok := descendPath(result.Data, upstreamPath)
	if !ok {
		if len(result.Errors) > 0 {
			return nil, &SubqueryError{Errors: stripErrorPrefixes(result.Errors, len(upstreamPath))}
		}
		return nil, &UpstreamContractViolation{Endpoint: target.endpoint.Name, Path: upstreamPath}
	}
	if len(result.Errors) > 0 {
		if raw == nil {
			return nil, &SubqueryError{Errors: stripErrorPrefixes(result.Errors, len(upstreamPath))}
		}
		raw = inlineFieldErrors(raw, result.Errors, len(upstreamPath))
	}
	// A whole result batch that is an error value, rather than an array, is
	// raised immediately; per-row field errors stay inline and surface
	// during final assembly.
	if errValue, ok := raw.(error); ok {
		return nil, errValue
	}

	// Single-object mode: the upstream returns one object, not a list.
	if !spec.BatchMode && len(keys) == 1 {
		return []interface{}{raw}, nil
	}

	if spec.KeyField != "" {
		return remapByKeyField(raw, keyFieldAlias, keys), nil
	}
	return remapByPosition(raw, len(keys)), nil
}

func isListType(t graphql.Input) bool {
	switch v := t.(type) {
	case *graphql.NonNull:
		inner, ok := v.OfType.(graphql.Input)
		return ok && isListType(inner)
	case *graphql.List:
		return true
	default:
		return false
	}
}

// stripErrorPrefixes rebases errs to the link field's own coordinate
// system, dropping the artificial ancestor chain the sub-query injected.
func stripErrorPrefixes(errs []UpstreamError, prefixLen int) []UpstreamError {
	out := make([]UpstreamError, len(errs))
	for i, e := range errs {
		out[i] = RewriteErrorPath(e, nil, prefixLen)
	}
	return out
}

func mustArgType(field *graphql.FieldDefinition, argPath []string) graphql.Input {
	t, err := resolveArgumentLeafType(field, argPath)
	if err != nil {
		// Weaving-time validation already reported this as a WeavingError;
		// fall back to a permissive ID so the batch can still attempt the
		// call rather than panic at request time.
		return graphql.ID
	}
	return t
}

func buildKeyArgument(argPath []string, varName string) *ast.Argument {
	value := ast.Value(&ast.Variable{Kind: kinds.Variable, Name: &ast.Name{Kind: kinds.Name, Value: varName}})
	for i := len(argPath) - 1; i >= 1; i-- {
		value = &ast.ObjectValue{Kind: kinds.ObjectValue, Fields: []*ast.ObjectField{{
			Kind:  kinds.ObjectField,
			Name:  &ast.Name{Kind: kinds.Name, Value: argPath[i]},
			Value: value,
		}}}
	}
	return &ast.Argument{Kind: kinds.Argument, Name: &ast.Name{Kind: kinds.Name, Value: argPath[0]}, Value: value}
}

// astTypeOf renders a merged-schema input type as the type reference the
// upstream knows: structural wrappers recurse, native scalars keep their
// shared name, and any other named type has ns's prefix stripped.
func astTypeOf(t graphql.Input, ns string) ast.Type {
	switch v := t.(type) {
	case *graphql.NonNull:
		return &ast.NonNull{Kind: kinds.NonNull, Type: astTypeOf(v.OfType.(graphql.Input), ns)}
	case *graphql.List:
		return &ast.List{Kind: kinds.List, Type: astTypeOf(v.OfType.(graphql.Input), ns)}
	default:
		name := t.Name()
		if !schematransform.IsNativeType(t) {
			name = Unprefix(ns, name)
		}
		return &ast.Named{Kind: kinds.Named, Name: &ast.Name{Kind: kinds.Name, Value: name}}
	}
}

func descendPath(data interface{}, path []string) (interface{}, bool) {
	cur := data
	for _, seg := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func remapByPosition(raw interface{}, n int) []interface{} {
	list, _ := raw.([]interface{})
	out := make([]interface{}, n)
	for i := range out {
		if i < len(list) {
			out[i] = list[i]
		}
	}
	return out
}

func remapByKeyField(raw interface{}, keyFieldAlias string, keys []interface{}) []interface{} {
	list, _ := raw.([]interface{})
	byKey := make(map[interface{}]interface{}, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if k, ok := obj[keyFieldAlias]; ok {
			byKey[k] = item
		}
	}
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		out[i] = byKey[k]
	}
	return out
}
