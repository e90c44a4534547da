package databind

import (
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Blueprint is the long-lived entry point of the package: configuration,
// registries and the shared handler cache for one conversion setup. Build it
// once with NewBlueprint, register types and creators, then spawn an
// Operation per logical conversion. A blueprint is safe for concurrent use.
type Blueprint struct {
	cfg          Config
	cache        *HandlerCache
	track        *tracker
	factory      HandlerFactory
	introspector Introspector
	tags         *TagRegistry
	creators     *creatorRegistry
	logger       *slog.Logger

	keyMu       sync.RWMutex
	keyHandlers map[Key]KeyHandler
}

// Option adjusts a blueprint under construction.
type Option func(*Blueprint)

// WithFeatures replaces the whole feature mask.
func WithFeatures(f Feature) Option {
	return func(b *Blueprint) { b.cfg.Features = f }
}

// WithFeature enables the given feature bits on top of the current mask.
func WithFeature(f Feature) Option {
	return func(b *Blueprint) { b.cfg.Features |= f }
}

// WithoutFeature clears the given feature bits.
func WithoutFeature(f Feature) Option {
	return func(b *Blueprint) { b.cfg.Features &^= f }
}

// WithRootName pins the name root values are wrapped under. The empty string
// is a valid setting and means "never wrap", overriding FeatureWrapRootValue.
func WithRootName(name string) Option {
	return func(b *Blueprint) { b.cfg.rootName = &name }
}

// WithTagRegistry installs a shared tag registry.
func WithTagRegistry(reg *TagRegistry) Option {
	return func(b *Blueprint) {
		if reg != nil {
			b.tags = reg
		}
	}
}

// WithTagField changes the document field carrying discriminator tags.
func WithTagField(field string) Option {
	return func(b *Blueprint) {
		if field != "" {
			b.cfg.TagField = field
		}
	}
}

// WithTimeLayout changes the text layout for time values.
func WithTimeLayout(layout string) Option {
	return func(b *Blueprint) { b.cfg.TimeLayout = layout }
}

// WithTimeZone pins the zone times are rendered in, by IANA name. The zone is
// resolved lazily, once per operation.
func WithTimeZone(tz string) Option {
	return func(b *Blueprint) { b.cfg.TimeZone = tz }
}

// WithHandlerFactory replaces the built-in handler factory.
func WithHandlerFactory(f HandlerFactory) Option {
	return func(b *Blueprint) {
		if f != nil {
			b.factory = f
		}
	}
}

// WithIntrospector replaces the reflective type introspector.
func WithIntrospector(i Introspector) Option {
	return func(b *Blueprint) {
		if i != nil {
			b.introspector = i
		}
	}
}

// WithLogger installs a logger for the rare construction-path events. The
// default logger discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(b *Blueprint) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBlueprint builds a blueprint with the default configuration, applying
// the given options.
func NewBlueprint(opts ...Option) *Blueprint {
	b := &Blueprint{
		cfg:         defaultConfig(),
		cache:       NewHandlerCache(),
		track:       newTracker(),
		tags:        NewTagRegistry(),
		creators:    newCreatorRegistry(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		keyHandlers: map[Key]KeyHandler{},
	}
	for _, o := range opts {
		o(b)
	}
	if b.factory == nil {
		b.factory = stdFactory{}
	}
	if b.introspector == nil {
		b.introspector = newReflectIntrospector(b.tags, b.creators)
	}
	return b
}

// With derives a blueprint with adjusted options. The derived blueprint
// shares the tag registry and creator registrations but gets its own handler
// cache: cached handlers bake construction-time configuration and must not
// leak between configurations.
func (b *Blueprint) With(opts ...Option) *Blueprint {
	nb := &Blueprint{
		cfg:          b.cfg,
		cache:        NewHandlerCache(),
		track:        newTracker(),
		factory:      b.factory,
		introspector: b.introspector,
		tags:         b.tags,
		creators:     b.creators,
		logger:       b.logger,
		keyHandlers:  map[Key]KeyHandler{},
	}
	for _, o := range opts {
		o(nb)
	}
	return nb
}

// Tags returns the tag registry backing polymorphic conversion.
func (b *Blueprint) Tags() *TagRegistry { return b.tags }

// Config returns the blueprint's frozen configuration.
func (b *Blueprint) Config() Config { return b.cfg }

// RegisterCreator registers an explicit construction candidate. The target
// type is derived from the function's first return value; pointer returns
// register for the element type. A conflict with an earlier registration of
// the same kind fails here, at registration time, not during conversion.
// Handlers already cached for the target type are flushed so the new
// candidate cannot be shadowed by them.
func (b *Blueprint) RegisterCreator(kind CreatorKind, fn any, props ...string) error {
	rt := reflect.TypeOf(fn)
	if rt == nil || rt.Kind() != reflect.Func || rt.NumOut() == 0 {
		return fmt.Errorf("creator must be a function returning the target type, got %T", fn)
	}
	target := rt.Out(0)
	if target.Kind() == reflect.Pointer {
		target = target.Elem()
	}
	key := KeyOfType(target)
	if err := b.creators.record(key, kind, CreatorCandidate{Fn: fn, Props: props}); err != nil {
		return err
	}
	if _, ok := b.cache.LookupUntyped(key); ok {
		b.FlushCache()
	}
	return nil
}

// MustRegisterCreator is RegisterCreator that panics on error.
func (b *Blueprint) MustRegisterCreator(kind CreatorKind, fn any, props ...string) {
	if err := b.RegisterCreator(kind, fn, props...); err != nil {
		panic(err)
	}
}

// HasHandlerFor probes whether the type can be converted. Probing never
// errors; with FeatureCacheUnknownHandlers disabled a negative result leaves
// no trace in the cache.
func (b *Blueprint) HasHandlerFor(key Key) bool {
	op := b.NewOperation()
	h, err := op.untypedHandler(key, Site{})
	if err != nil {
		return false
	}
	_, unknown := h.(*unknownTypeHandler)
	return !unknown
}

// CachedHandlerCount reports the number of handlers in the shared cache,
// both namespaces included.
func (b *Blueprint) CachedHandlerCount() int { return b.cache.Size() }

// FlushCache drops all cached handlers. Conversions already running keep
// their snapshots; new operations start cold.
func (b *Blueprint) FlushCache() {
	b.cache.Clear()
	b.logger.Debug("flushed handler cache")
}

// Encode converts a value and marshals the resulting document with codec.
func (b *Blueprint) Encode(value any, codec Codec) ([]byte, error) {
	op := b.NewOperation()
	sink := NewTreeSink()
	if err := op.ConvertRoot(sink, value); err != nil {
		return nil, err
	}
	tree, err := sink.Root()
	if err != nil {
		return nil, err
	}
	return codec.Marshal(tree)
}

// Decode unmarshals data with codec and converts the document into the value
// into points at.
func (b *Blueprint) Decode(data []byte, into any, codec Codec) error {
	rv := reflect.ValueOf(into)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("decode target must be a non-nil pointer, got %T", into)
	}
	tree, err := codec.Unmarshal(data)
	if err != nil {
		return err
	}
	op := b.NewOperation()
	declared := KeyOfType(rv.Type().Elem())
	h, err := op.FindTypedValueHandler(declared, Site{})
	if err != nil {
		return err
	}
	v, err := h.ReadValue(op, NewTreeSource(tree))
	if err != nil {
		return wrapMapping(declared, err)
	}
	rv.Elem().Set(v)
	return nil
}

// NewOperation creates the per-conversion working context: a read-only view
// of the handler cache plus lazily created scratch state. Operations are
// cheap to create and must not be shared across goroutines.
func (b *Blueprint) NewOperation() *Operation {
	return &Operation{bp: b, snap: b.cache.snapshot()}
}

// Operation is the working context of one logical conversion. Handler
// lookups are served from the captured cache snapshot without locking;
// misses fall through to the shared cache and, last, to construction.
type Operation struct {
	bp   *Blueprint
	snap map[cacheKey]ValueHandler

	buildDepth int
	built      []builtHandler

	loc     *time.Location
	locErr  error
	locDone bool
}

// builtHandler is a resolved handler awaiting commit at the construction
// tree's outer boundary.
type builtHandler struct {
	key Key
	h   ValueHandler
}

// Config returns the configuration of the owning blueprint.
func (op *Operation) Config() Config { return op.bp.cfg }

// Tags returns the tag registry of the owning blueprint.
func (op *Operation) Tags() *TagRegistry { return op.bp.tags }

// FindValueHandler returns the handler for key, contextualized for site.
// The result is never nil: types nothing applies to get a fallback handler
// that fails when invoked.
func (op *Operation) FindValueHandler(key Key, site Site) (ValueHandler, error) {
	h, err := op.untypedHandler(key, site)
	if err != nil {
		return nil, wrapMapping(key, err)
	}
	h, err = contextualize(op, h, site)
	if err != nil {
		return nil, wrapMapping(key, err)
	}
	return h, nil
}

// FindTypedValueHandler returns the handler for key composed with its
// discriminator handling, contextualized for site. For types without
// polymorphic behavior the result is the plain handler.
func (op *Operation) FindTypedValueHandler(key Key, site Site) (ValueHandler, error) {
	if key.IsZero() {
		return nil, wrapMapping(key, fmt.Errorf("cannot resolve a handler without a type"))
	}
	h, ok := op.snap[cacheKey{key: key, typed: true}]
	if !ok {
		h, ok = op.bp.cache.LookupTyped(key)
	}
	if !ok {
		base, err := op.untypedHandler(key, site)
		if err != nil {
			return nil, wrapMapping(key, err)
		}
		tagH, err := op.bp.factory.CreateTagHandler(op, key)
		if err != nil {
			return nil, wrapMapping(key, err)
		}
		h = Compose(base, tagH)
		// Cache the composite only once the plain handler itself has been
		// committed; an in-construction handler must not escape through the
		// typed namespace.
		if isCacheable(h) && op.committedUntyped(key, base) {
			h = op.bp.cache.InsertTyped(key, h)
		}
	}
	h, err := contextualize(op, h, site)
	if err != nil {
		return nil, wrapMapping(key, err)
	}
	return h, nil
}

// FindKeyHandler returns the handler converting map keys of the given type.
// Key handlers have no construction dependencies, so they live on a simple
// first-insert-wins map instead of the value-handler machinery.
func (op *Operation) FindKeyHandler(key Key) (KeyHandler, error) {
	if key.IsZero() {
		return nil, wrapMapping(key, fmt.Errorf("cannot resolve a key handler without a type"))
	}
	b := op.bp
	b.keyMu.RLock()
	h, ok := b.keyHandlers[key]
	b.keyMu.RUnlock()
	if ok {
		return h, nil
	}
	built, err := b.factory.CreateKeyHandler(op, key)
	if err != nil {
		return nil, wrapMapping(key, err)
	}
	if built == nil {
		built = &fallbackKeyHandler{rt: key.Raw()}
	}
	b.keyMu.Lock()
	if cur, ok := b.keyHandlers[key]; ok {
		built = cur
	} else {
		b.keyHandlers[key] = built
	}
	b.keyMu.Unlock()
	return built, nil
}

// untypedHandler looks up or constructs the canonical handler for key,
// without contextualization.
func (op *Operation) untypedHandler(key Key, site Site) (ValueHandler, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("cannot resolve a handler without a type")
	}
	if h, ok := op.snap[cacheKey{key: key}]; ok {
		return h, nil
	}
	if h, ok := op.bp.cache.LookupUntyped(key); ok {
		return h, nil
	}
	h, err := op.construct(key, site)
	if err != nil {
		return nil, err
	}
	if h == nil {
		h = &unknownTypeHandler{key: key}
		if op.bp.cfg.Enabled(FeatureCacheUnknownHandlers) {
			h = op.bp.cache.InsertUntyped(key, h)
		}
		op.bp.logger.Debug("no handler applies to type", slog.String("type", key.String()))
	}
	return h, nil
}

// construct builds a new handler under the construction tracker. The
// outermost build of an operation takes the tracker's critical section and
// keeps it for the whole construction tree; nested builds run inside it and
// resolve cycles through the tracker's incomplete map. A nil result with a
// nil error means no handler applies.
//
// Commits to the shared cache are deferred to the outer boundary: in a cyclic
// tree a resolved handler may still reference unfinished ones, and none of
// them may become visible to other operations until the whole tree is done.
// A tree that fails partway commits nothing.
func (op *Operation) construct(key Key, site Site) (ValueHandler, error) {
	tr := op.bp.track
	outer := op.buildDepth == 0
	if outer {
		tr.enter()
		defer tr.exit()
		defer func() { op.built = op.built[:0] }()
		// Another operation may have built this handler while we waited.
		if h, ok := op.bp.cache.LookupUntyped(key); ok {
			return h, nil
		}
	} else if h, ok := tr.pending(key); ok {
		return h, nil
	}

	op.buildDepth++
	defer func() { op.buildDepth-- }()

	raw, err := op.bp.factory.CreateValueHandler(op, key, site)
	if err != nil || raw == nil {
		return nil, err
	}

	if res, ok := raw.(Resolvable); ok {
		// Publish before resolving so cyclic member chains can observe the
		// unfinished handler instead of recursing.
		tr.publish(key, raw)
		err := res.Resolve(op)
		tr.retract(key)
		if err != nil {
			return nil, err
		}
	}

	if isCacheable(raw) {
		op.built = append(op.built, builtHandler{key: key, h: raw})
		op.bp.logger.Debug("constructed value handler", slog.String("type", key.String()))
	}
	if outer {
		for _, b := range op.built {
			if committed := op.bp.cache.InsertUntyped(b.key, b.h); b.key == key {
				raw = committed
			}
		}
	}
	return raw, nil
}

func (op *Operation) committedUntyped(key Key, base ValueHandler) bool {
	h, ok := op.bp.cache.LookupUntyped(key)
	return ok && h == base
}

func contextualize(op *Operation, h ValueHandler, site Site) (ValueHandler, error) {
	if c, ok := h.(Contextual); ok {
		return c.ForSite(op, site)
	}
	return h, nil
}

// ConvertRoot writes value into sink as a document root. Root wrapping
// follows the configuration: an explicitly configured root name wraps the
// value in a single-field object (the empty name disables wrapping even with
// FeatureWrapRootValue on), otherwise FeatureWrapRootValue wraps under a
// name inferred from the type.
func (op *Operation) ConvertRoot(sink Sink, value any) error {
	if value == nil {
		return nullHandler{}.WriteValue(op, sink, reflect.Value{})
	}
	rv := reflect.ValueOf(value)
	key := KeyOfType(rv.Type())
	h, err := op.FindTypedValueHandler(key, Site{})
	if err != nil {
		return err
	}
	name, wrap := op.rootWrapping(key)
	return op.writeRoot(sink, h, key, rv, name, wrap)
}

// ConvertRootNamed is ConvertRoot with a per-call root name. A non-empty
// name always wraps, the empty name never does.
func (op *Operation) ConvertRootNamed(sink Sink, value any, name string) error {
	if value == nil {
		return nullHandler{}.WriteValue(op, sink, reflect.Value{})
	}
	rv := reflect.ValueOf(value)
	key := KeyOfType(rv.Type())
	h, err := op.FindTypedValueHandler(key, Site{})
	if err != nil {
		return err
	}
	return op.writeRoot(sink, h, key, rv, name, name != "")
}

// ConvertRootAs writes value as the declared type instead of its runtime
// type. The value must be of the declared type, implement it, or differ from
// it only by one level of pointer indirection; anything else fails with a
// TypeMismatchError before any tokens are written.
func (op *Operation) ConvertRootAs(sink Sink, value any, declared Key) error {
	if declared.IsZero() {
		return wrapMapping(declared, fmt.Errorf("cannot convert without a declared type"))
	}
	if value == nil {
		return nullHandler{}.WriteValue(op, sink, reflect.Value{})
	}
	av, err := adaptToDeclared(reflect.ValueOf(value), declared)
	if err != nil {
		return wrapMapping(declared, err)
	}
	if !av.IsValid() {
		return nullHandler{}.WriteValue(op, sink, reflect.Value{})
	}
	h, err := op.FindTypedValueHandler(declared, Site{})
	if err != nil {
		return err
	}
	name, wrap := op.rootWrapping(declared)
	return op.writeRoot(sink, h, declared, av, name, wrap)
}

// ReadRoot reads a document into a fresh value of the declared type.
func (op *Operation) ReadRoot(src Source, declared Key) (any, error) {
	if declared.IsZero() {
		return nil, wrapMapping(declared, fmt.Errorf("cannot read without a declared type"))
	}
	h, err := op.FindTypedValueHandler(declared, Site{})
	if err != nil {
		return nil, err
	}
	v, err := h.ReadValue(op, src)
	if err != nil {
		return nil, wrapMapping(declared, err)
	}
	return v.Interface(), nil
}

// rootWrapping decides the name to wrap a root value under. Registered types
// wrap under their tag name; everything else falls back to the type name.
func (op *Operation) rootWrapping(key Key) (string, bool) {
	if name, explicit := op.bp.cfg.RootName(); explicit {
		return name, name != ""
	}
	if op.bp.cfg.Enabled(FeatureWrapRootValue) {
		if tag, err := op.bp.tags.TagForType(key.Raw()); err == nil {
			return tag.Name, true
		}
		return key.name(), true
	}
	return "", false
}

func (op *Operation) writeRoot(sink Sink, h ValueHandler, key Key, rv reflect.Value, name string, wrap bool) error {
	var err error
	if wrap {
		if err = sink.BeginObject(); err == nil {
			if err = sink.FieldName(name); err == nil {
				if err = h.WriteValue(op, sink, rv); err == nil {
					err = sink.EndObject()
				}
			}
		}
	} else {
		err = h.WriteValue(op, sink, rv)
	}
	return wrapMapping(key, err)
}

// adaptToDeclared fits a runtime value to its declared type, honoring the
// pointer/value exemption. An invalid value with a nil error means the value
// collapses to a document null.
func adaptToDeclared(rv reflect.Value, declared Key) (reflect.Value, error) {
	rt, dt := rv.Type(), declared.Raw()
	switch {
	case rt == dt:
		return rv, nil
	case dt.Kind() == reflect.Interface && rt.Implements(dt):
		iv := reflect.New(dt).Elem()
		iv.Set(rv)
		return iv, nil
	case rt.Kind() == reflect.Pointer && rt.Elem() == dt:
		if rv.IsNil() {
			return reflect.Value{}, nil
		}
		return rv.Elem(), nil
	case dt.Kind() == reflect.Pointer && dt.Elem() == rt:
		p := reflect.New(rt)
		p.Elem().Set(rv)
		return p, nil
	default:
		return reflect.Value{}, &TypeMismatchError{Declared: declared, Actual: KeyOfType(rt)}
	}
}

// location resolves the configured time zone, once per operation.
func (op *Operation) location() (*time.Location, error) {
	if op.locDone {
		return op.loc, op.locErr
	}
	op.locDone = true
	if tz := op.bp.cfg.TimeZone; tz != "" {
		var err error
		op.loc, err = time.LoadLocation(tz)
		if err != nil {
			op.locErr = fmt.Errorf("loading time zone %q: %w", tz, err)
		}
	}
	return op.loc, op.locErr
}
