package databind

import (
	"encoding/json"
	"fmt"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/opencontainers/go-digest"
)

// Raw is a pre-encoded document fragment kept verbatim. Values with an
// unknown discriminator decode into Raw when the tag registry allows unknown
// tags, so they survive a round trip byte-for-byte. The fragment is
// canonicalized on unmarshal, which makes Digest stable across field order.
type Raw struct {
	Tag  Tag    `json:"type"`
	Data []byte `json:"-"`
}

var _ interface {
	json.Marshaler
	json.Unmarshaler
	Tagged
} = &Raw{}

func (r *Raw) String() string {
	return string(r.Data)
}

func (r *Raw) SetTag(t Tag) {
	r.Tag = t
}

func (r *Raw) GetTag() Tag {
	return r.Tag
}

// Digest returns the content digest of the fragment. After UnmarshalJSON the
// data is canonical JSON, so equal documents digest equally regardless of the
// field order they arrived in.
func (r *Raw) Digest() digest.Digest {
	return digest.FromBytes(r.Data)
}

// DeepCopy clones the fragment.
func (r *Raw) DeepCopy() *Raw {
	data := make([]byte, len(r.Data))
	copy(data, r.Data)
	return &Raw{Tag: r.Tag, Data: data}
}

func (r *Raw) MarshalJSON() ([]byte, error) {
	return r.Data, nil
}

func (r *Raw) UnmarshalJSON(data []byte) error {
	t := &struct {
		Tag Tag `json:"type"`
	}{}
	err := json.Unmarshal(data, t)
	if err != nil {
		return fmt.Errorf("could not unmarshal data into raw: %w", err)
	}
	r.Tag = t.Tag
	r.Data = data

	r.Data, err = jsoncanonicalizer.Transform(r.Data)
	if err != nil {
		return fmt.Errorf("could not canonicalize data: %w", err)
	}

	return nil
}
