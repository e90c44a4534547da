package databind_test

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbind/databind"
)

type invoice struct {
	Total int64  `json:"total"`
	Memo  string `json:"memo,omitempty"`
}

type vetVisit struct {
	Pet      string    `json:"pet"`
	Seen     time.Time `json:"seen"`
	Weight   float64   `json:"weight"`
	Vaccines []string  `json:"vaccines,omitempty"`
	Invoice  *invoice  `json:"invoice,omitempty"`
}

type familyMember struct {
	Name     string          `json:"name"`
	Children []*familyMember `json:"children,omitempty"`
}

type kennelA struct {
	B *kennelB `json:"b,omitempty"`
}

type kennelB struct {
	C *kennelC `json:"c,omitempty"`
}

type kennelC struct {
	A *kennelA `json:"a,omitempty"`
}

func TestBlueprintDefaults(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	cfg := bp.Config()

	r.True(cfg.Enabled(databind.FeatureWriteTimesAsTimestamps))
	r.True(cfg.Enabled(databind.FeatureFailOnUnknownFields))
	r.False(cfg.Enabled(databind.FeatureWrapRootValue))
	r.Equal("type", cfg.TagField)
	r.Equal(time.RFC3339Nano, cfg.TimeLayout)

	_, explicit := cfg.RootName()
	r.False(explicit)
	r.NotNil(bp.Tags())
	r.Zero(bp.CachedHandlerCount())
}

func TestBlueprintOptions(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint(
		databind.WithFeature(databind.FeatureWrapRootValue),
		databind.WithoutFeature(databind.FeatureFailOnUnknownFields),
		databind.WithRootName("doc"),
		databind.WithTagField("kind"),
		databind.WithTimeLayout(time.RFC1123),
		databind.WithTimeZone("UTC"),
	)
	cfg := bp.Config()

	r.True(cfg.Enabled(databind.FeatureWrapRootValue))
	r.False(cfg.Enabled(databind.FeatureFailOnUnknownFields))
	name, explicit := cfg.RootName()
	r.True(explicit)
	r.Equal("doc", name)
	r.Equal("kind", cfg.TagField)
	r.Equal(time.RFC1123, cfg.TimeLayout)
	r.Equal("UTC", cfg.TimeZone)
}

func TestBlueprintWithDerivation(t *testing.T) {
	r := require.New(t)

	reg := databind.NewTagRegistry()
	reg.MustRegister(&invoice{}, "v1")
	base := databind.NewBlueprint(databind.WithTagRegistry(reg))
	derived := base.With(databind.WithTagField("kind"))

	r.Same(base.Tags(), derived.Tags(), "derived blueprints share the registries")
	r.Equal("type", base.Config().TagField, "deriving must not touch the original")
	r.Equal("kind", derived.Config().TagField)

	sink := databind.NewTreeSink()
	r.NoError(base.NewOperation().ConvertRoot(sink, invoice{Total: 1}))
	tree, err := sink.Root()
	r.NoError(err)
	r.Equal(map[string]any{"type": "invoice/v1", "total": int64(1)}, tree)

	// The derived blueprint builds its own handlers, so the changed tag
	// field cannot be shadowed by the base blueprint's cache.
	sink = databind.NewTreeSink()
	r.NoError(derived.NewOperation().ConvertRoot(sink, invoice{Total: 1}))
	tree, err = sink.Root()
	r.NoError(err)
	r.Equal(map[string]any{"kind": "invoice/v1", "total": int64(1)}, tree)
}

func TestFindValueHandlerIsIdempotent(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	key := databind.KeyOf[vetVisit]()

	h1, err := bp.NewOperation().FindValueHandler(key, databind.Site{})
	r.NoError(err)
	h2, err := bp.NewOperation().FindValueHandler(key, databind.Site{})
	r.NoError(err)
	r.Same(h1, h2, "repeated lookups must return the committed instance")

	// For a type without polymorphic behavior the composed handler is the
	// plain one; both namespaces converge on a single instance.
	ht, err := bp.NewOperation().FindTypedValueHandler(key, databind.Site{})
	r.NoError(err)
	r.Same(h1, ht)
}

func TestFindTypedValueHandlerComposesForRegisteredTypes(t *testing.T) {
	r := require.New(t)

	reg := databind.NewTagRegistry()
	reg.MustRegister(&invoice{}, "v1")
	bp := databind.NewBlueprint(databind.WithTagRegistry(reg))
	key := databind.KeyOf[invoice]()

	plain, err := bp.NewOperation().FindValueHandler(key, databind.Site{})
	r.NoError(err)
	composed, err := bp.NewOperation().FindTypedValueHandler(key, databind.Site{})
	r.NoError(err)
	r.NotSame(plain, composed, "registered types get a discriminating wrapper")

	again, err := bp.NewOperation().FindTypedValueHandler(key, databind.Site{})
	r.NoError(err)
	r.Same(composed, again, "the composed handler is cached in its own namespace")
}

func TestFindValueHandlerZeroKey(t *testing.T) {
	op := databind.NewBlueprint().NewOperation()

	_, err := op.FindValueHandler(databind.Key{}, databind.Site{})
	require.ErrorContains(t, err, "without a type")

	_, err = op.FindTypedValueHandler(databind.Key{}, databind.Site{})
	require.ErrorContains(t, err, "without a type")
}

func TestHandlerConstructionSingleFlight(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	key := databind.KeyOf[vetVisit]()

	const workers = 32
	handlers := make([]databind.ValueHandler, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handlers[i], errs[i] = bp.NewOperation().FindValueHandler(key, databind.Site{})
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		r.NoError(errs[i])
		r.Same(handlers[0], handlers[i], "all racing constructions must converge on one handler")
	}
}

func TestCyclicTypesResolve(t *testing.T) {
	t.Run("self-recursive type", func(t *testing.T) {
		r := require.New(t)

		bp := databind.NewBlueprint()
		tree := familyMember{
			Name: "root",
			Children: []*familyMember{
				{Name: "kid", Children: []*familyMember{{Name: "grandkid"}}},
			},
		}

		data, err := bp.Encode(tree, databind.JSON)
		r.NoError(err)
		r.JSONEq(`{"name":"root","children":[{"name":"kid","children":[{"name":"grandkid"}]}]}`, string(data))

		var out familyMember
		r.NoError(bp.Decode(data, &out, databind.JSON))
		r.Equal(tree, out)
	})

	t.Run("three-type cycle", func(t *testing.T) {
		r := require.New(t)

		bp := databind.NewBlueprint()
		chain := &kennelA{B: &kennelB{C: &kennelC{A: &kennelA{}}}}

		data, err := bp.Encode(chain, databind.JSON)
		r.NoError(err)
		r.JSONEq(`{"b":{"c":{"a":{}}}}`, string(data))

		var out kennelA
		r.NoError(bp.Decode(data, &out, databind.JSON))
		r.Equal(*chain, out)
	})
}

func TestRootWrapping(t *testing.T) {
	value := invoice{Total: 5}
	body := map[string]any{"total": int64(5)}

	convert := func(t *testing.T, bp *databind.Blueprint) any {
		t.Helper()
		sink := databind.NewTreeSink()
		require.NoError(t, bp.NewOperation().ConvertRoot(sink, value))
		tree, err := sink.Root()
		require.NoError(t, err)
		return tree
	}

	t.Run("unwrapped by default", func(t *testing.T) {
		require.Equal(t, body, convert(t, databind.NewBlueprint()))
	})

	t.Run("explicit root name wraps", func(t *testing.T) {
		bp := databind.NewBlueprint(databind.WithRootName("billing"))
		require.Equal(t, map[string]any{"billing": body}, convert(t, bp))
	})

	t.Run("explicit empty name disables the feature", func(t *testing.T) {
		bp := databind.NewBlueprint(
			databind.WithFeature(databind.FeatureWrapRootValue),
			databind.WithRootName(""),
		)
		require.Equal(t, body, convert(t, bp))
	})

	t.Run("feature infers the type name", func(t *testing.T) {
		bp := databind.NewBlueprint(databind.WithFeature(databind.FeatureWrapRootValue))
		require.Equal(t, map[string]any{"invoice": body}, convert(t, bp))
	})

	t.Run("inferred name unwraps pointers", func(t *testing.T) {
		r := require.New(t)
		bp := databind.NewBlueprint(databind.WithFeature(databind.FeatureWrapRootValue))
		sink := databind.NewTreeSink()
		r.NoError(bp.NewOperation().ConvertRoot(sink, &invoice{Total: 5}))
		tree, err := sink.Root()
		r.NoError(err)
		r.Equal(map[string]any{"invoice": body}, tree)
	})

	t.Run("registered types wrap under their tag name", func(t *testing.T) {
		r := require.New(t)
		reg := databind.NewTagRegistry()
		reg.MustRegisterWithAlias(&invoice{}, databind.NewVersionedTag("billing.invoice", "v2"))
		bp := databind.NewBlueprint(
			databind.WithFeature(databind.FeatureWrapRootValue),
			databind.WithTagRegistry(reg),
		)
		sink := databind.NewTreeSink()
		r.NoError(bp.NewOperation().ConvertRoot(sink, value))
		tree, err := sink.Root()
		r.NoError(err)
		r.Equal(map[string]any{
			"billing.invoice": map[string]any{"type": "billing.invoice/v2", "total": int64(5)},
		}, tree)
	})

	t.Run("per-call name wins", func(t *testing.T) {
		r := require.New(t)
		bp := databind.NewBlueprint(databind.WithRootName("billing"))

		sink := databind.NewTreeSink()
		r.NoError(bp.NewOperation().ConvertRootNamed(sink, value, "statement"))
		tree, err := sink.Root()
		r.NoError(err)
		r.Equal(map[string]any{"statement": body}, tree)

		sink = databind.NewTreeSink()
		r.NoError(bp.NewOperation().ConvertRootNamed(sink, value, ""))
		tree, err = sink.Root()
		r.NoError(err)
		r.Equal(body, tree, "an empty per-call name never wraps")
	})
}

func TestConvertRootAs(t *testing.T) {
	t.Run("type mismatch fails before any tokens", func(t *testing.T) {
		r := require.New(t)

		sink := databind.NewTreeSink()
		err := databind.NewBlueprint().NewOperation().ConvertRootAs(sink, vetVisit{}, databind.KeyOf[invoice]())

		var tme *databind.TypeMismatchError
		r.ErrorAs(err, &tme)
		r.Equal(databind.KeyOf[invoice](), tme.Declared)
		r.Equal(databind.KeyOf[vetVisit](), tme.Actual)

		_, rootErr := sink.Root()
		r.Error(rootErr, "nothing may be written once the mismatch is detected")
	})

	t.Run("pointer value for declared value type", func(t *testing.T) {
		r := require.New(t)
		sink := databind.NewTreeSink()
		r.NoError(databind.NewBlueprint().NewOperation().ConvertRootAs(sink, &invoice{Total: 3}, databind.KeyOf[invoice]()))
		tree, err := sink.Root()
		r.NoError(err)
		r.Equal(map[string]any{"total": int64(3)}, tree)
	})

	t.Run("value for declared pointer type", func(t *testing.T) {
		r := require.New(t)
		sink := databind.NewTreeSink()
		r.NoError(databind.NewBlueprint().NewOperation().ConvertRootAs(sink, invoice{Total: 3}, databind.KeyOf[*invoice]()))
		tree, err := sink.Root()
		r.NoError(err)
		r.Equal(map[string]any{"total": int64(3)}, tree)
	})

	t.Run("nil pointer collapses to null", func(t *testing.T) {
		r := require.New(t)
		sink := databind.NewTreeSink()
		var p *invoice
		r.NoError(databind.NewBlueprint().NewOperation().ConvertRootAs(sink, p, databind.KeyOf[invoice]()))
		tree, err := sink.Root()
		r.NoError(err)
		r.Nil(tree)
	})

	t.Run("zero declared key fails", func(t *testing.T) {
		err := databind.NewBlueprint().NewOperation().ConvertRootAs(databind.NewTreeSink(), invoice{}, databind.Key{})
		require.ErrorContains(t, err, "declared type")
	})
}

func TestReadRoot(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	got, err := bp.NewOperation().ReadRoot(
		databind.NewTreeSource(map[string]any{"total": int64(9), "memo": "boost"}),
		databind.KeyOf[invoice](),
	)
	r.NoError(err)
	r.Equal(invoice{Total: 9, Memo: "boost"}, got)

	_, err = bp.NewOperation().ReadRoot(databind.NewTreeSource(nil), databind.Key{})
	r.ErrorContains(err, "without a declared type")
}

func TestErrorTaxonomy(t *testing.T) {
	t.Run("conversion failures wrap exactly once", func(t *testing.T) {
		r := require.New(t)

		var out invoice
		err := databind.NewBlueprint().Decode([]byte(`{"total":1,"asdf":2}`), &out, databind.JSON)
		r.Error(err)

		var me *databind.MappingError
		r.ErrorAs(err, &me)
		r.Equal(databind.KeyOf[invoice](), me.Key)
		r.Contains(me.Err.Error(), `unknown field "asdf"`)
		r.Equal(1, strings.Count(err.Error(), "mapping "), "nested failures must not stack wrappers")
	})

	t.Run("document failures pass through with their path", func(t *testing.T) {
		r := require.New(t)

		var out invoice
		err := databind.NewBlueprint().Decode([]byte(`{"total":"lots"}`), &out, databind.JSON)
		r.Error(err)

		var te *databind.TransportError
		r.ErrorAs(err, &te)
		r.Equal("total", te.Path)
		r.NotContains(err.Error(), "mapping", "positional errors stay unwrapped")
	})
}

func TestHasHandlerFor(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	funcKey := databind.KeyOf[func()]()

	r.False(bp.HasHandlerFor(funcKey))
	r.Zero(bp.CachedHandlerCount(), "a negative probe must leave no trace")
	r.False(bp.HasHandlerFor(funcKey))
	r.Zero(bp.CachedHandlerCount())

	r.True(bp.HasHandlerFor(databind.KeyOf[invoice]()))
	r.Positive(bp.CachedHandlerCount())

	caching := databind.NewBlueprint(databind.WithFeature(databind.FeatureCacheUnknownHandlers))
	r.False(caching.HasHandlerFor(funcKey))
	r.Equal(1, caching.CachedHandlerCount(), "opting in commits the fallback")
	r.False(caching.HasHandlerFor(funcKey))
	r.Equal(1, caching.CachedHandlerCount())
}

func TestFlushCache(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	_, err := bp.Encode(invoice{Total: 1}, databind.JSON)
	r.NoError(err)
	r.Positive(bp.CachedHandlerCount())

	bp.FlushCache()
	r.Zero(bp.CachedHandlerCount())

	// Conversions keep working from a cold cache.
	data, err := bp.Encode(invoice{Total: 2}, databind.JSON)
	r.NoError(err)
	r.JSONEq(`{"total":2}`, string(data))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	visit := vetVisit{
		Pet:      "Rex",
		Seen:     time.UnixMilli(1719858123456).UTC(),
		Weight:   17.5,
		Vaccines: []string{"rabies", "parvo"},
		Invoice:  &invoice{Total: 120, Memo: "checkup"},
	}

	bp := databind.NewBlueprint()
	for _, codec := range []databind.Codec{databind.JSON, databind.YAML, databind.CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			r := require.New(t)

			data, err := bp.Encode(visit, codec)
			r.NoError(err)

			var out vetVisit
			r.NoError(bp.Decode(data, &out, codec))
			r.Equal(visit, out)
		})
	}
}

func TestDecodeValidation(t *testing.T) {
	bp := databind.NewBlueprint()

	err := bp.Decode([]byte(`{}`), invoice{}, databind.JSON)
	require.ErrorContains(t, err, "non-nil pointer")

	err = bp.Decode([]byte(`{}`), (*invoice)(nil), databind.JSON)
	require.ErrorContains(t, err, "non-nil pointer")

	err = bp.Decode([]byte(`{`), &invoice{}, databind.JSON)
	require.ErrorContains(t, err, "unmarshal")
}

func TestRegisterCreatorRefreshesHandlers(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()

	// Warm the cache with a handler that knows no scalar construction.
	var out invoice
	r.NoError(bp.Decode([]byte(`{"total":3}`), &out, databind.JSON))
	r.ErrorContains(bp.Decode([]byte(`77`), &out, databind.JSON), "cannot construct")

	r.NoError(bp.RegisterCreator(databind.CreatorInt, func(n int64) invoice {
		return invoice{Total: n}
	}))
	r.NoError(bp.Decode([]byte(`77`), &out, databind.JSON))
	r.Equal(int64(77), out.Total)

	err := bp.RegisterCreator(databind.CreatorInt, func(n int64) invoice {
		return invoice{Total: n + 1}
	})
	var dup *databind.DuplicateConstructionStrategyError
	r.ErrorAs(err, &dup, "a second registered creator of the same kind conflicts eagerly")
	assert.Equal(t, databind.KeyOf[invoice](), dup.Key)
	assert.Equal(t, databind.CreatorInt, dup.Kind)
}

func TestRegisterCreatorValidation(t *testing.T) {
	bp := databind.NewBlueprint()

	err := bp.RegisterCreator(databind.CreatorInt, 42)
	require.ErrorContains(t, err, "must be a function")

	require.Panics(t, func() {
		bp.MustRegisterCreator(databind.CreatorText, "not a function")
	})
}

func TestBlueprintLogging(t *testing.T) {
	r := require.New(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	bp := databind.NewBlueprint(databind.WithLogger(logger))

	_, err := bp.Encode(invoice{Total: 1}, databind.JSON)
	r.NoError(err)
	r.Contains(buf.String(), "constructed value handler")

	bp.FlushCache()
	r.Contains(buf.String(), "flushed handler cache")
}
