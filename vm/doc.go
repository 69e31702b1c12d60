// Package vm implements the VavoomC virtual machine.
//
// This package contains:
//   - The type descriptor and member model shared with the compiler
//   - Tagged value representation and object layout
//   - VTable-based method dispatch
//   - Bytecode interpreter and native bridge
//   - Package file reader and writer
package vm
