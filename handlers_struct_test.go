package databind_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docbind/databind"
)

var errUnreadableLabel = errors.New("unreadable label")

type ContactInfo struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type AuditInfo struct {
	UpdatedBy string `json:"updatedBy,omitempty"`
}

type ownerProfile struct {
	ContactInfo
	Name   string `json:"name"`
	apiKey string
	Legacy string `json:"-"`
}

type chartEntry struct {
	*AuditInfo
	Note string `json:"note"`
}

type badge struct {
	ID    string `json:"id"`
	Grade string `json:"grade"`
}

type staffMember struct {
	badge
	ID string `json:"id"`
}

type patientRecord struct {
	Name string `json:"name"`
	Age  int64  `json:"age"`
}

type toggle struct {
	On bool `json:"on"`
}

type dosage struct {
	Milligrams float64 `json:"mg"`
}

type auditTrail struct {
	Entries map[string]any `json:"entries"`
}

func TestStructOmitEmpty(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	data, err := bp.Encode(ownerProfile{Name: "Sam", ContactInfo: ContactInfo{Phone: "555"}}, databind.JSON)
	r.NoError(err)
	r.JSONEq(`{"name":"Sam","phone":"555"}`, string(data))
}

func TestStructSkipsHiddenFields(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	profile := ownerProfile{Name: "Sam", apiKey: "secret", Legacy: "old"}

	data, err := bp.Encode(profile, databind.JSON)
	r.NoError(err)
	r.JSONEq(`{"name":"Sam"}`, string(data))

	// Hidden fields do not bind either; with unknown-field checking on they
	// are plain unknown names.
	var out ownerProfile
	err = bp.Decode([]byte(`{"name":"Sam","Legacy":"old"}`), &out, databind.JSON)
	r.ErrorContains(err, `unknown field "Legacy"`)
}

func TestStructEmbeddedPromotion(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	profile := ownerProfile{Name: "Sam", ContactInfo: ContactInfo{Phone: "555", Email: "sam@vet.example"}}

	data, err := bp.Encode(profile, databind.JSON)
	r.NoError(err)
	r.JSONEq(`{"name":"Sam","phone":"555","email":"sam@vet.example"}`, string(data))

	var out ownerProfile
	r.NoError(bp.Decode(data, &out, databind.JSON))
	r.Equal(profile, out)
}

func TestStructEmbeddedPointerPromotion(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()

	// A nil embedded pointer leaves its promoted members absent.
	data, err := bp.Encode(chartEntry{Note: "stable"}, databind.JSON)
	r.NoError(err)
	r.JSONEq(`{"note":"stable"}`, string(data))

	// Reading allocates the embedded value on demand.
	var out chartEntry
	r.NoError(bp.Decode([]byte(`{"note":"stable","updatedBy":"dr. cruz"}`), &out, databind.JSON))
	r.NotNil(out.AuditInfo)
	r.Equal("dr. cruz", out.UpdatedBy)
}

func TestStructShadowingPrefersShallowMembers(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	member := staffMember{badge: badge{ID: "inner", Grade: "A"}, ID: "outer"}

	data, err := bp.Encode(member, databind.JSON)
	r.NoError(err)
	r.JSONEq(`{"id":"outer","grade":"A"}`, string(data))

	var out staffMember
	r.NoError(bp.Decode(data, &out, databind.JSON))
	r.Equal("outer", out.ID)
	r.Empty(out.badge.ID, "the shadowed member stays untouched")
	r.Equal("A", out.Grade)
}

func TestStructUnknownFieldPolicy(t *testing.T) {
	r := require.New(t)

	doc := []byte(`{"name":"Sam","favoriteSnack":"cheese"}`)

	var out ownerProfile
	err := databind.NewBlueprint().Decode(doc, &out, databind.JSON)
	r.ErrorContains(err, `unknown field "favoriteSnack" for databind_test.ownerProfile`)

	lenient := databind.NewBlueprint(databind.WithoutFeature(databind.FeatureFailOnUnknownFields))
	r.NoError(lenient.Decode(doc, &out, databind.JSON))
	r.Equal("Sam", out.Name)
}

func TestStructNullReadsAsZero(t *testing.T) {
	r := require.New(t)

	got, err := databind.NewBlueprint().NewOperation().ReadRoot(
		databind.NewTreeSource(nil),
		databind.KeyOf[ownerProfile](),
	)
	r.NoError(err)
	r.Equal(ownerProfile{}, got)
}

func TestBoolCreator(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	bp.MustRegisterCreator(databind.CreatorBool, func(b bool) toggle {
		return toggle{On: b}
	})

	var out toggle
	r.NoError(bp.Decode([]byte(`true`), &out, databind.JSON))
	r.True(out.On)
}

func TestDoubleCreator(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	bp.MustRegisterCreator(databind.CreatorDouble, func(f float64) dosage {
		return dosage{Milligrams: f}
	})

	var out dosage
	r.NoError(bp.Decode([]byte(`1.5`), &out, databind.JSON))
	r.InDelta(1.5, out.Milligrams, 1e-9)
}

func TestDelegatingCreatorTakesOverObjects(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	bp.MustRegisterCreator(databind.CreatorDelegating, func(m map[string]any) auditTrail {
		return auditTrail{Entries: m}
	})

	var out auditTrail
	r.NoError(bp.Decode([]byte(`{"who":"dr. cruz","when":"noon"}`), &out, databind.JSON))
	r.Equal(map[string]any{"who": "dr. cruz", "when": "noon"}, out.Entries)
}

func TestPropertiesCreator(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	bp.MustRegisterCreator(databind.CreatorProperties, func(name string, age int64) patientRecord {
		return patientRecord{Name: strings.ToUpper(name), Age: age}
	}, "name", "age")

	// The creator owns the bound fields; they must not be re-bound afterwards
	// or the normalization would be undone.
	var out patientRecord
	r.NoError(bp.Decode([]byte(`{"name":"rex","age":3}`), &out, databind.JSON))
	r.Equal(patientRecord{Name: "REX", Age: 3}, out)

	// Absent bound fields arrive as zero values.
	r.NoError(bp.Decode([]byte(`{"name":"rex"}`), &out, databind.JSON))
	r.Equal(patientRecord{Name: "REX"}, out)
}

func TestCreatorErrorsPropagate(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	bp.MustRegisterCreator(databind.CreatorText, func(s string) (dosage, error) {
		if s == "" {
			return dosage{}, errUnreadableLabel
		}
		return dosage{Milligrams: 1}, nil
	})

	var out dosage
	r.NoError(bp.Decode([]byte(`"one"`), &out, databind.JSON))
	r.InDelta(1, out.Milligrams, 1e-9)

	err := bp.Decode([]byte(`""`), &out, databind.JSON)
	r.ErrorIs(err, errUnreadableLabel)
}
