package databind

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tagged is any value that carries its polymorphic discriminator tag in-band,
// typically as a dedicated field that is written alongside the value's own data.
type Tagged interface {
	// GetTag returns the value's discriminator tag.
	GetTag() Tag
	SetTag(Tag)
}

// Tag is the polymorphic discriminator written into documents to identify the
// concrete type of a value. A Version is a specific iteration of the tag,
// and Name is the name of the tagged type.
type Tag struct {
	Name    string
	Version string
}

// NewTag creates a new Tag without a version.
func NewTag(name string) Tag {
	return Tag{Name: name}
}

// NewVersionedTag creates a new Tag with a version.
func NewVersionedTag(name, version string) Tag {
	return Tag{Name: name, Version: version}
}

// ParseTag parses a tag string in the formats:
// - "name" (unversioned)
// - "name/version" (versioned)
func ParseTag(tag string) (Tag, error) {
	parts := strings.Split(tag, "/")

	// Only allow one or two parts (name or name/version)
	if len(parts) > 2 {
		return Tag{}, fmt.Errorf("invalid tag %q, too many segments", tag)
	}

	var t Tag
	if len(parts) == 1 {
		t = Tag{Name: parts[0]} // Unversioned format
	} else {
		t = Tag{Name: parts[0], Version: parts[1]} // Versioned format
	}

	// Validate name
	if t.Name == "" {
		return Tag{}, fmt.Errorf("invalid tag %q, missing name", tag)
	}

	return t, nil
}

// Equal checks if two Tags are the same.
func (t Tag) Equal(other Tag) bool {
	return t.Name == other.Name && t.Version == other.Version
}

// String returns the formatted tag string.
// - Unversioned: "name"
// - Versioned: "name/version"
func (t Tag) String() string {
	if t.Version != "" {
		return fmt.Sprintf("%s/%s", t.Name, t.Version)
	}
	return t.Name // Unversioned tag
}

// HasVersion checks if the tag has a version associated with it.
func (t Tag) HasVersion() bool {
	return t.Version != ""
}

// IsZero checks if the Tag is empty (no version or name).
func (t Tag) IsZero() bool {
	return t.Version == "" && t.Name == ""
}

// MarshalJSON converts the Tag to a JSON string.
func (t Tag) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON parses a JSON string into a Tag. As a fallback it accepts an
// object carrying the tag under its discriminator field, so a tag can be read
// straight out of a tagged document value.
func (t *Tag) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		var tagged struct {
			Tag string `json:"type"`
		}
		if err := json.Unmarshal(data, &tagged); err != nil {
			return fmt.Errorf("could not unmarshal tag: %w", err)
		}
		str = tagged.Tag
	}

	parsed, err := ParseTag(str)
	if err != nil {
		return err
	}

	*t = parsed
	return nil
}
