package databind_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docbind/databind"
)

type petName string

type inventoryItem struct {
	Label petName `json:"label"`
	Count uint8   `json:"count"`
	Rank  int8    `json:"rank"`
}

type appointment struct {
	At time.Time `json:"at"`
}

type birthCertificate struct {
	Born time.Time `json:"born" layout:"2006-01-02"`
}

type labArchive struct {
	Blob []byte `json:"blob"`
}

func TestScalarRoundTripKeepsNamedTypes(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	item := inventoryItem{Label: "leash", Count: 12, Rank: -3}

	data, err := bp.Encode(item, databind.JSON)
	r.NoError(err)
	r.JSONEq(`{"label":"leash","count":12,"rank":-3}`, string(data))

	var out inventoryItem
	r.NoError(bp.Decode(data, &out, databind.JSON))
	r.Equal(item, out)
}

func TestScalarRangeChecks(t *testing.T) {
	bp := databind.NewBlueprint()

	for _, tc := range []struct {
		name    string
		doc     string
		wantErr string
	}{
		{name: "unsigned overflow", doc: `{"label":"x","count":300,"rank":0}`, wantErr: "overflows uint8"},
		{name: "negative into unsigned", doc: `{"label":"x","count":-1,"rank":0}`, wantErr: "is negative"},
		{name: "signed overflow", doc: `{"label":"x","count":0,"rank":200}`, wantErr: "overflows int8"},
		{name: "fraction into integer", doc: `{"label":"x","count":1.5,"rank":0}`, wantErr: "not an integer"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var out inventoryItem
			err := bp.Decode([]byte(tc.doc), &out, databind.JSON)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestBytesTravelBase64OverJSON(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	archive := labArchive{Blob: []byte{0x01, 0x02, 0xff}}

	data, err := bp.Encode(archive, databind.JSON)
	r.NoError(err)
	r.JSONEq(`{"blob":"AQL/"}`, string(data))

	var out labArchive
	r.NoError(bp.Decode(data, &out, databind.JSON))
	r.Equal(archive, out)
}

func TestBytesTravelNativelyOverCBOR(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	archive := labArchive{Blob: []byte{0x01, 0x02, 0xff}}

	data, err := bp.Encode(archive, databind.CBOR)
	r.NoError(err)

	var out labArchive
	r.NoError(bp.Decode(data, &out, databind.CBOR))
	r.Equal(archive, out)
}

func TestNilBytesCollapseToNull(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	data, err := bp.Encode(labArchive{}, databind.JSON)
	r.NoError(err)
	r.JSONEq(`{"blob":null}`, string(data))

	var out labArchive
	r.NoError(bp.Decode(data, &out, databind.JSON))
	r.Nil(out.Blob)
}

func TestTimeAsEpochMillisByDefault(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint()
	visit := appointment{At: time.UnixMilli(1719858123456).UTC()}

	data, err := bp.Encode(visit, databind.JSON)
	r.NoError(err)
	r.JSONEq(`{"at":1719858123456}`, string(data))

	var out appointment
	r.NoError(bp.Decode(data, &out, databind.JSON))
	r.Equal(visit, out)
}

func TestTimeAsTextWithConfiguredLayout(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint(
		databind.WithoutFeature(databind.FeatureWriteTimesAsTimestamps),
		databind.WithTimeLayout(time.RFC3339),
	)
	visit := appointment{At: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}

	data, err := bp.Encode(visit, databind.JSON)
	r.NoError(err)
	r.JSONEq(`{"at":"2024-01-15T12:00:00Z"}`, string(data))

	var out appointment
	r.NoError(bp.Decode(data, &out, databind.JSON))
	r.True(visit.At.Equal(out.At))
}

func TestTimeLayoutHintForcesTextForm(t *testing.T) {
	r := require.New(t)

	// The member-level layout wins even while timestamps are enabled.
	bp := databind.NewBlueprint()
	cert := birthCertificate{Born: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)}

	data, err := bp.Encode(cert, databind.JSON)
	r.NoError(err)
	r.JSONEq(`{"born":"2024-01-15"}`, string(data))

	var out birthCertificate
	r.NoError(bp.Decode(data, &out, databind.JSON))
	r.True(cert.Born.Equal(out.Born))
}

func TestTimeZoneRendering(t *testing.T) {
	r := require.New(t)

	bp := databind.NewBlueprint(
		databind.WithoutFeature(databind.FeatureWriteTimesAsTimestamps),
		databind.WithTimeLayout(time.RFC3339),
		databind.WithTimeZone("America/New_York"),
	)
	visit := appointment{At: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}

	data, err := bp.Encode(visit, databind.JSON)
	r.NoError(err)
	r.JSONEq(`{"at":"2024-01-15T07:00:00-05:00"}`, string(data))

	var out appointment
	r.NoError(bp.Decode(data, &out, databind.JSON))
	r.True(visit.At.Equal(out.At))
}

func TestTimeZoneInvalid(t *testing.T) {
	bp := databind.NewBlueprint(
		databind.WithoutFeature(databind.FeatureWriteTimesAsTimestamps),
		databind.WithTimeZone("Mars/Olympus"),
	)

	_, err := bp.Encode(appointment{At: time.Now()}, databind.JSON)
	require.ErrorContains(t, err, `loading time zone "Mars/Olympus"`)
}

func TestTimeRejectsOtherShapes(t *testing.T) {
	var out appointment
	err := databind.NewBlueprint().Decode([]byte(`{"at":true}`), &out, databind.JSON)
	require.ErrorContains(t, err, "cannot read time.Time")
}
