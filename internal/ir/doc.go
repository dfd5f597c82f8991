// Package ir provides the data model shared by every pdfjson component.
//
// The two artifacts of the round trip live here:
//   - Binary: the loaded or regenerated PDF bytes (immutable)
//   - Structural: the lossless qpdf JSON text the user edits
//
// Conversion results cross package boundaries as Outcome values, a tagged
// Success/Failure union, so callers cannot forget to inspect a failure.
//
// This package imports nothing internal. Every other internal package may
// import ir.
package ir
