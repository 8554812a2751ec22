// Package resolver resolves placeholders in configuration trees.
//
// A Resolver walks a tree of mappings, sequences and scalars and replaces
// every string placeholder:
//
//	{{env.HOST}}              value at a dotted path in the context
//	{{env.PORT | '8080'}}     same, with a typed default
//	{{fn:request_id}}         result of a registered compute function
//	http://{{env.HOST}}/api   placeholders embedded in text are spliced
//
// A string that is exactly one placeholder keeps the native type of the
// resolved value. Paths are validated before lookup and security failures
// are never softened by the missing-value strategy.
//
// Resolution runs in a scope. A STARTUP pass may only call STARTUP
// functions; a REQUEST pass may call both.
//
// The package also provides the overwrite helpers used to lay resolved,
// context-dependent values over static configuration (ApplyOverwrites,
// ApplyOverwriteSection) and BuildContext, which assembles the standard
// {env, config, app, state, request} context.
package resolver
