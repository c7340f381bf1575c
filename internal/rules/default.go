package rules

import _ "embed"

//go:embed default.yaml
var defaultCatalog []byte

// DefaultYAML returns the built-in starter catalog written by `po init`.
func DefaultYAML() []byte {
	return append([]byte(nil), defaultCatalog...)
}

// Default parses the built-in catalog. Its Path is empty.
func Default() *Catalog {
	return Parse(defaultCatalog)
}
