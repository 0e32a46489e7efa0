// Package config loads reconcile configuration written in CUE.
//
// # Overview
//
// A configuration is one .cue file or a directory of .cue files that are
// unified into a single value. The value is checked against the built-in
// #File schema, which closes the structure, constrains enumerations and
// supplies defaults, then decoded into File and validated with struct tags
// and cross-field rules.
//
// # Configuration Structure
//
//	workspace: {
//	    dir:     "."
//	    profile: "dev"
//	}
//
//	storage: backend: "sqlite"
//
//	policies: {
//	    paths: ["policies"]
//	    protected_items: ["db_config"]
//	}
//
//	flows: deploy: items: [
//	    {id: "app_config", kind: "file", params: {path: "app.conf", content: "port=80\n"}},
//	    {id: "restarts", kind: "counter", params: {goal: 1}, depends_on: ["app_config"]},
//	]
//
// # Usage Example
//
//	parser := config.NewParser(afero.NewOsFs())
//	file, err := parser.Parse(ctx, "reconcile.cue")
//	if err != nil {
//	    var perr *config.ParseError
//	    if errors.As(err, &perr) {
//	        for _, e := range perr.Errors {
//	            fmt.Println(e)
//	        }
//	    }
//	    return err
//	}
//	graph, err := file.BuildGraph("deploy", items.DefaultRegistry(), items.Env{Fs: fs})
//
// # Error Handling
//
// Parse and validation problems are collected rather than returned one at a
// time. ParseError carries every problem with its file, line and CUE path
// where known.
package config
