// Package wasm runs compute functions compiled to WebAssembly.
//
// A module exports its linear memory, malloc(size i32) i32, free(ptr i32)
// and any number of compute functions of the form
//
//	fn(input_ptr i32, input_len i32) i64
//
// The host writes the resolution context as JSON into memory allocated with
// malloc and calls the function. The result packs (output_ptr << 32) |
// output_len and points at a JSON envelope:
//
//	{"value": <any JSON value>}
//	{"error": "message"}
//
// Each call runs in a fresh instance of the compiled module, bounded by the
// configured timeout and memory limit. Modules may import the WASI preview 1
// functions and env.log(ptr, len).
//
// Modules are usually loaded through a YAML manifest; see Manifest and Open.
package wasm
