package databind

import (
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// tagPattern is the JSON Schema pattern for the string form of a Tag:
// a name, optionally followed by one slash and a version.
const tagPattern = `^[^/]+(?:/[^/]+)?$`

// SchemaForPrototype reflects a JSON Schema for the prototype's type. Tag
// fields appear as strings constrained to the tag syntax, matching how tags
// travel in documents. Raw and Unstructured have no schema: their shape is
// whatever the document says.
func SchemaForPrototype(prototype any) ([]byte, error) {
	if prototype == nil {
		return nil, fmt.Errorf("cannot generate a schema for a nil prototype")
	}

	switch prototype.(type) {
	case *Unstructured, Unstructured, *Raw, Raw:
		return nil, fmt.Errorf("unstructured and raw prototypes have no schema")
	}

	r := &jsonschema.Reflector{
		Mapper: func(rt reflect.Type) *jsonschema.Schema {
			if rt == reflect.TypeOf(Tag{}) {
				return &jsonschema.Schema{
					Type:    "string",
					Pattern: tagPattern,
				}
			}
			return nil
		},
	}

	schema, err := r.ReflectFromType(reflect.TypeOf(prototype)).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("generating schema for %T: %w", prototype, err)
	}
	return schema, nil
}
