package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaServer is the name of the built-in server configuration schema.
const SchemaServer = "server"

// schemaDefinition is the definition a schema may declare to constrain the
// whole tree. Schemas without it are unified as they are.
const schemaDefinition = "#Config"

// SchemaRegistry manages CUE schemas for validating resolved trees.
// Validation is serialized because a cue.Context is not safe for
// concurrent use.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.Mutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(SchemaServer, builtinServerSchema); err != nil {
		panic(fmt.Sprintf("built-in schema: %v", err))
	}

	return sr
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// RegisterSchemaFile registers the schema stored at path.
func (sr *SchemaRegistry) RegisterSchemaFile(name, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	return sr.RegisterSchema(name, string(content))
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Validate unifies tree with the named schema and requires the result to be
// concrete. Failures are returned as ValidationErrors.
func (sr *SchemaRegistry) Validate(ctx context.Context, name string, tree interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[name]
	if !ok {
		return fmt.Errorf("schema %s not found", name)
	}
	if def := schema.LookupPath(cue.ParsePath(schemaDefinition)); def.Exists() {
		schema = def
	}

	dataVal := sr.ctx.Encode(tree)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}

	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinServerSchema = `
#Config: {
	app: {
		name:         string & !=""
		version?:     string
		environment?: string
		...
	}

	server?: {
		host?: string
		port?: int & >0 & <=65535
		...
	}

	overwrite_from_context?: {...}

	...
}
`
