// Package qht implements the query hash table, a Bloom filter summarising the
// content a node, or the leaves behind a hub, can answer queries for.
//
// Strings are lower-cased before hashing, so lookups are case-insensitive.
// Content is usually added word by word; MayContain accepts a query when the
// whole text hits or when every word hits. Tables of the same geometry merge
// with a bitwise OR, which never clears a bit. A table travels on the wire as
// a QHaT message carrying the filter's binary form, compressed with zstd.
package qht
