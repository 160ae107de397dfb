// Package provider defines the NodeProvider boundary (see provider.go)
// and ships InMemory, an in-process implementation used by
// the CLI's local mode and by every other package's tests. Real cloud
// providers live outside this module and satisfy the same interface.
package provider
