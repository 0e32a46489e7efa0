// Package stores provides the persistence backends for reconcile.
//
// Every backend implements Storage, a flat key/value blob store. Keys are
// slash-separated relative paths such as "dev/app/states_current.yaml".
// Three backends are available:
//
//   - FileStorage writes files under a root directory through afero, using
//     an atomic write-then-rename so readers never observe partial files.
//   - SQLiteStore keeps blobs in the artifacts table and additionally
//     records the execution history (see History).
//   - S3Storage keeps blobs as objects under a bucket prefix.
//
// Reading or probing a key that does not exist returns ErrNotFound.
package stores
