package schematransform

import "fmt"

// UnknownTypeReferenceError is raised when a transformer callback (or
// mapType) is asked to resolve a named type that has not yet been cloned
// into the new type map. It indicates a bug in a transformer callback, not
// a recoverable runtime condition.
type UnknownTypeReferenceError struct {
	Name string
}

func (e *UnknownTypeReferenceError) Error() string {
	return fmt.Sprintf("schematransform: unknown type reference %q", e.Name)
}

// DuplicateFieldError is raised when building a new type's field map finds
// two fields with the same name.
type DuplicateFieldError struct {
	Type  string
	Field string
}

func (e *DuplicateFieldError) Error() string {
	return fmt.Sprintf("schematransform: type %q has a duplicate field %q", e.Type, e.Field)
}
