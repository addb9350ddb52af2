// Package config persists the CLI configuration: account credentials,
// region, the generated client device id, and the cached portal tokens.
//
// The file is JSON by default; paths ending in .yaml or .yml are read
// and written as YAML instead.
package config
