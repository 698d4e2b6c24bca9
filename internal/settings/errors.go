package settings

import "fmt"

// KeyNotFoundError is returned when a key was never declared.
type KeyNotFoundError struct {
	Key string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("expected key not found: %s", e.Key)
}

// ValueNotFoundError is returned by the Require helpers when a declared key
// has neither a value nor a default.
type ValueNotFoundError struct {
	Key string
}

func (e *ValueNotFoundError) Error() string {
	return fmt.Sprintf("expected value not found with key: %s", e.Key)
}

// ParseError is returned when a value does not parse as the declared type,
// or when a key is read as a type other than the one it was declared with.
type ParseError struct {
	Key   string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse value as given type: %s = %q", e.Key, e.Value)
}

func (e *ParseError) Unwrap() error { return e.Err }
