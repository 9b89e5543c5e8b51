// Package steps provides the built-in handler for every step kind and
// registers them on an engine.Registry.
package steps
