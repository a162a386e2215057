// Package integration runs end-to-end scenarios against the assembled service.
package integration
