// Package items provides the built-in item kinds and the registry flows use
// to construct items from configuration.
//
// Two kinds are built in:
//
//   - file: manages a file's content on an afero filesystem.
//   - counter: drives an integer held in a shared resource entry to a goal
//     value.
//
// Further kinds are added with Registry.Register.
package items
