// Package config loads the raw configuration tree that placeholders are
// resolved against, and validates resolved trees with CUE schemas.
//
// # Loading
//
// A Loader reads an ordered list of YAML (.yml, .yaml), JSON (.json) and CUE
// (.cue) files and deep-merges them: mappings merge key by key, while lists
// and scalars from later files replace earlier ones. With only a directory
// configured it loads base.yml followed by the optional server.<env>.yaml
// overlay.
//
//	loader, err := config.NewLoader(config.LoaderOptions{Dir: "config", Env: "prod"}, logger)
//	if err != nil {
//	    return err
//	}
//	raw, err := loader.Load(ctx)
//
// Placeholders such as {{env.HOST}} are kept as plain strings; resolving
// them is the resolver package's job.
//
// # Schemas
//
// SchemaRegistry holds named CUE schemas. Validate unifies a resolved tree
// with a schema's #Config definition, or with the whole schema when it has
// none, and reports every failure with its CUE position:
//
//	sr := config.NewSchemaRegistry()
//	if err := sr.Validate(ctx, config.SchemaServer, resolved); err != nil {
//	    return err
//	}
//
// The built-in "server" schema requires app.name and constrains server.port.
//
// # Hot Reload
//
// Watcher watches the loader's files with fsnotify and, after a short quiet
// period, reloads them and passes the new raw tree to a callback. A failed
// load is logged and the previous tree stays in effect.
package config
