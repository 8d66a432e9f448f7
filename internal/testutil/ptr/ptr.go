// Package ptr provides helpers for taking the address of literal values
// in tests.
package ptr

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// String returns a pointer to s.
func String(s string) *string { return &s }
