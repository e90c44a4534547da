// Package databind converts Go values to and from structured documents.
//
// It separates what a document contains from how it travels: handlers convert
// values into token streams ([Sink] on the write side, [Source] on the read
// side), document trees collect the tokens, and codecs turn trees into bytes.
// The shipped codecs cover JSON, YAML and CBOR; the same handler performs the
// conversion no matter which codec carries the result.
//
// The core types are:
//   - Blueprint: the configured entry point. It owns the conversion features,
//     the tag registry, the construction strategies and the handler cache.
//     Blueprints are safe for concurrent use and meant to live for the whole
//     process.
//   - Operation: one conversion pass. Operations capture an immutable snapshot
//     of the handler cache, so a running conversion never observes concurrent
//     registrations.
//   - ValueHandler: the per-type conversion logic. Handlers are constructed on
//     first use through the blueprint's [HandlerFactory], resolved recursively
//     and cached across operations.
//   - TagRegistry: maps polymorphic discriminator tags to concrete types, so
//     interface-typed values can round trip.
//
// Converting a value needs nothing beyond a blueprint:
//
//	bp := databind.NewBlueprint()
//	data, err := bp.Encode(report, databind.JSON)
//	if err != nil {
//		// handle error
//	}
//	var out Report
//	err = bp.Decode(data, &out, databind.JSON)
//
// # Polymorphism
//
// Polymorphic values declare an interface member and register the concrete
// implementations:
//
//	reg := databind.NewTagRegistry()
//	reg.MustRegister(&PhysioPlan{}, "v1") // tag "PhysioPlan/v1"
//	bp := databind.NewBlueprint(databind.WithTagRegistry(reg))
//
// On the write side the registered tag is injected into the document under the
// configured tag field ("type" unless changed with [WithTagField]); on the
// read side that field selects the concrete type. Object-shaped values carry
// the tag inline next to their own fields, scalar- and array-shaped values are
// wrapped in a single-field object keyed by the tag. Unknown tags fail the
// read unless the registry was built with [WithAllowUnknown], in which case
// the fragment is preserved verbatim as a [Raw] and written back unchanged.
// [Unstructured] is the schema-free counterpart for object documents whose
// shape is not known ahead of time.
//
// # Construction
//
// Reading does not have to go through plain member binding. A blueprint
// accepts creator functions ([Blueprint.RegisterCreator]) that build values
// from a scalar document node, from a delegate value, or from a selected set
// of properties, mirroring the shapes a type can legitimately arrive in.
// A registered creator replaces the derived zero-value default; registering
// the same creator kind twice for one type is rejected eagerly.
//
// # Errors
//
// Conversion failures surface as a [MappingError] naming the failed type
// exactly once, document shape violations as a [TransportError] carrying the
// path to the offending node, and root type disagreements as a
// [TypeMismatchError].
package databind
