// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `internal/config/loader.go` calls `validateStruct` immediately after it
// unmarshals the merged Koanf tree into a `Config` instance.  Any tag
// mismatch or validation error aborts startup, ensuring the binary never
// runs with partial, malformed, or missing configuration.
//
// Beyond the built-in rules (`required_if` guards the registry URL when
// multi-tenant is enabled) we register `schema_name`, the character-class
// check for PostgreSQL schema identifiers shared with the registry layer.
//
// Notes
// -----
//   • Oxford commas, two spaces after periods.

package config

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

//
// validator instance (package-level singleton)
//

var v = validator.New()

// schemaNamePattern admits `[A-Za-z_][A-Za-z0-9_]*` with optional interior
// hyphens.  Hyphenated names are legal because every interpolation site
// double-quotes the identifier.
var schemaNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

func init() {
	_ = v.RegisterValidation("schema_name", func(fl validator.FieldLevel) bool {
		return schemaNamePattern.MatchString(fl.Field().String())
	})
}

//
// public API
//

// validateStruct returns the first validation error, or nil on success.
func validateStruct(c *Config) error {
	return v.Struct(c)
}

// ValidSchemaName reports whether s is an acceptable PostgreSQL schema
// identifier for an org.  Exported for the registry and migration layers.
func ValidSchemaName(s string) bool {
	return s != "" && schemaNamePattern.MatchString(s)
}
