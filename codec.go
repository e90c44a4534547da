package databind

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"sigs.k8s.io/yaml"
)

// Codec turns document trees into wire bytes and back. The resolution core
// never interprets wire bytes itself; codecs are the only place a concrete
// format appears.
type Codec interface {
	Name() string
	Marshal(tree any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

// Built-in codecs.
var (
	JSON Codec = jsonCodec{}
	YAML Codec = yamlCodec{}
	CBOR Codec = newCBORCodec()
)

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(tree any) ([]byte, error) {
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("could not marshal json: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	// Numbers stay json.Number so large integers survive undamaged.
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("could not unmarshal json: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after json document")
	}
	return tree, nil
}

type yamlCodec struct{}

func (yamlCodec) Name() string { return "yaml" }

func (yamlCodec) Marshal(tree any) ([]byte, error) {
	data, err := yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("could not marshal yaml: %w", err)
	}
	return data, nil
}

func (yamlCodec) Unmarshal(data []byte) (any, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("could not unmarshal yaml: %w", err)
	}
	return tree, nil
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() Codec {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{
		// Untyped maps decode string-keyed so trees keep one object shape
		// across codecs.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string { return "cbor" }

func (c cborCodec) Marshal(tree any) ([]byte, error) {
	data, err := c.enc.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("could not marshal cbor: %w", err)
	}
	return data, nil
}

func (c cborCodec) Unmarshal(data []byte) (any, error) {
	var tree any
	if err := c.dec.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("could not unmarshal cbor: %w", err)
	}
	return tree, nil
}
