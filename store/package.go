// Package store implements the content stores holding message headers and bodies.
//
// Content may be kept in the rows of a backend table, in badger, in memory or on disk.
// When stored on disk, it is encrypted in fixed size segments and optionally compressed.
package store
