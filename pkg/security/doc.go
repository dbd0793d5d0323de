// Package security holds the per-interface key state of a Thread node and the
// peer blacklist used when a parent or router fails validation.
package security
