// Package publisher pushes packaged bundles to a registry.
//
// Publishing is gated on a clean git working tree, checked once before any
// network call. Bundles are pushed independently: one failure neither rolls
// back nor blocks the others, and every outcome is reported.
package publisher
