package databind

import "time"

// defaultTagField is the document field carrying the polymorphic
// discriminator unless configured otherwise.
const defaultTagField = "type"

// Feature is an on/off toggle read by the resolution core. Features combine
// into a bitmask; DefaultFeatures holds the ones enabled out of the box.
type Feature uint32

const (
	// FeatureWrapRootValue wraps root values in a single-key structure named
	// after the explicit or inferred root name.
	FeatureWrapRootValue Feature = 1 << iota
	// FeatureWriteTimesAsTimestamps renders time values as epoch milliseconds
	// instead of layout-formatted text.
	FeatureWriteTimesAsTimestamps
	// FeatureNullKeyAsEmpty substitutes an empty string for nil map keys
	// instead of failing the conversion.
	FeatureNullKeyAsEmpty
	// FeatureCacheUnknownHandlers commits unknown-type fallback handlers to
	// the shared cache. Off by default: fallbacks are failure sentinels and
	// caching them would mask a later successful registration.
	FeatureCacheUnknownHandlers
	// FeatureFailOnUnknownFields rejects document fields that bind to no
	// member of the target type.
	FeatureFailOnUnknownFields
)

// DefaultFeatures are the features enabled on a fresh blueprint.
const DefaultFeatures = FeatureWriteTimesAsTimestamps | FeatureFailOnUnknownFields

// Config is the immutable configuration snapshot shared by all operations of
// one blueprint.
type Config struct {
	Features Feature
	// TimeLayout renders time values when FeatureWriteTimesAsTimestamps is off.
	TimeLayout string
	// TimeZone is the IANA zone name times are rendered in; empty keeps each
	// value's own location. The zone is resolved lazily, once per operation.
	TimeZone string
	// TagField is the document field carrying the polymorphic discriminator.
	TagField string

	rootName *string
}

// Enabled reports whether f is set.
func (c Config) Enabled(f Feature) bool {
	return c.Features&f != 0
}

// RootName returns the explicitly configured root wrapper name. An explicit
// empty name is meaningful: it forces unwrapped roots regardless of
// FeatureWrapRootValue, which is why presence is reported separately.
func (c Config) RootName() (string, bool) {
	if c.rootName == nil {
		return "", false
	}
	return *c.rootName, true
}

func defaultConfig() Config {
	return Config{
		Features:   DefaultFeatures,
		TimeLayout: time.RFC3339Nano,
		TagField:   defaultTagField,
	}
}
