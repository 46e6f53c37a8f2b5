// Package textutil sanitizes client-supplied filenames and extensions that
// end up on disk or in log fields.
package textutil
