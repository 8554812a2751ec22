// Package template parses {{...}} placeholders, validates lookup paths and
// walks context trees.
//
// Two placeholder forms are recognised:
//
//	{{fn:build_connection_string}}      compute pattern
//	{{env.API_NAME | 'default'}}        template pattern with a default literal
//
// Default literals are typed by InferLiteral. Paths are checked by
// ValidatePath before any lookup; Lookup itself never errors and reports a
// miss through its boolean result.
package template
