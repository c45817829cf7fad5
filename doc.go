// Package ddb is a single-node, multi-process, file-backed key-value store
// whose values are JSON dictionaries.
//
// A database is one JSON object stored as one file under a configured
// storage root, either uncompressed (<name>.json) or DEFLATE-compressed
// (<name>.ddb). Concurrent processes and goroutines on the same host read
// and mutate these files safely through a filesystem-based reader/writer
// lock protocol built on lock token files rather than native OS locks, so
// that liveness, fairness, and orphan reclamation can be implemented and
// tested independently of the host's flock semantics.
//
// The defining feature is byte-level partial access: Engine.PartialRead and
// Engine.PartialWrite locate and rewrite a single top-level key of a large
// JSON file without parsing or rewriting the rest of it, guided by a
// per-file byte-offset index that is verified by content hash before every
// use and silently rebuilt on a miss.
package ddb
