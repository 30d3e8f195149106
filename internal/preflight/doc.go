// Package preflight verifies that the daemon's directories and databases are
// usable before work starts. The CLI check command and the daemon share the
// same list.
package preflight
