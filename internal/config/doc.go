// Package config loads the beacon controller configuration.
//
// Precedence, lowest first: built-in defaults, YAML file (BCC_CONFIG or
// -config), BCC_* environment variables, command-line flags. The result is
// validated once at the end.
package config
