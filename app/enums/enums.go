// Package enums provides type-safe enumeration types shared by the calculator core,
// the store and the web interface.
//
// The enum types are defined as unexported integer types in this file, and the
// go:generate directives invoke github.com/go-pkgz/enum to create the exported
// types with String, Parse, Must, text marshaling and database Scan/Value
// methods in separate *_enum.go files.
//
// Usage:
//
//	op, err := enums.ParseOperation("add")
//	if err != nil {
//	    // handle invalid input
//	}
//	fmt.Println(op.String()) // "add"
//
// To regenerate the enum types after modifications:
//
//	go generate ./app/enums
package enums

import "github.com/invopop/jsonschema"

//go:generate go run github.com/go-pkgz/enum@latest -type operation -lower
//go:generate go run github.com/go-pkgz/enum@latest -type theme -lower

// operation is an arithmetic operation tag.
// Use the exported Operation type and its constants in actual code.
type operation int

const (
	operationAdd operation = iota
	operationSub
)

// theme represents UI color themes.
// Use the exported Theme type and its constants in actual code.
type theme int

const (
	themeDark theme = iota
	themeLight
)

// JSONSchema describes Operation as a string restricted to known tags
func (Operation) JSONSchema() *jsonschema.Schema {
	names := OperationNames()
	values := make([]any, 0, len(names))
	for _, n := range names {
		values = append(values, n)
	}
	return &jsonschema.Schema{Type: "string", Enum: values, Description: "operation tag"}
}
