package decoder_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/txdecode/service/decoder"
	"github.com/brojonat/txdecode/service/decoder/enrich"
	"github.com/brojonat/txdecode/service/decoder/txn"
	"github.com/brojonat/txdecode/service/decoder/txn/txntest"
	"github.com/brojonat/txdecode/service/metrics"
	"github.com/brojonat/txdecode/service/registry"
)

func emptyPools(t *testing.T) *registry.Pools {
	t.Helper()
	pools, err := registry.NewPools()
	require.NoError(t, err)
	return pools
}

func newDecoder(t *testing.T, opts ...decoder.Option) *decoder.Decoder {
	t.Helper()
	d, err := decoder.New(decoder.Registries{
		Tokens: registry.DefaultTokenBehaviors(),
		Pools:  emptyPools(t),
	}, opts...)
	require.NoError(t, err)
	return d
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return raw
}

func TestNew_RequiresRegistries(t *testing.T) {
	_, err := decoder.New(decoder.Registries{Pools: emptyPools(t)})
	assert.ErrorIs(t, err, decoder.ErrMissingRegistry)
	_, err = decoder.New(decoder.Registries{Tokens: registry.DefaultTokenBehaviors()})
	assert.ErrorIs(t, err, decoder.ErrMissingRegistry)
}

type goldenEvent struct {
	EventID              string                      `json:"event_id"`
	EventType            string                      `json:"event_type"`
	Protocol             string                      `json:"protocol"`
	InstructionType      string                      `json:"instruction_type"`
	QCStatus             string                      `json:"qc_status"`
	QCTags               []string                    `json:"qc_tags"`
	NetTokenChanges      map[string]map[string]int64 `json:"net_token_changes"`
	ComputeUnitsConsumed *uint64                     `json:"compute_units_consumed"`
}

type golden struct {
	Signature     string        `json:"signature"`
	Slot          uint64        `json:"slot"`
	ParserVersion string        `json:"parser_version"`
	Events        []goldenEvent `json:"events"`
}

func project(res *decoder.Result) golden {
	g := golden{Signature: res.Signature, Slot: res.Slot, ParserVersion: res.ParserVersion}
	for _, ev := range res.Events {
		tags := make([]string, 0, len(ev.Tags))
		for _, tag := range ev.Tags {
			tags = append(tags, string(tag))
		}
		g.Events = append(g.Events, goldenEvent{
			EventID:              ev.EventID,
			EventType:            string(ev.Type),
			Protocol:             ev.Protocol,
			InstructionType:      ev.InstructionType,
			QCStatus:             string(ev.QCStatus),
			QCTags:               tags,
			NetTokenChanges:      ev.NetTokenChanges,
			ComputeUnitsConsumed: ev.ComputeUnitsConsumed,
		})
	}
	return g
}

func TestDecode_Golden(t *testing.T) {
	fixtures := []string{"transfers"}
	for _, name := range fixtures {
		t.Run(name, func(t *testing.T) {
			raw := readFixture(t, name+".json")
			var want golden
			require.NoError(t, json.Unmarshal(readFixture(t, name+".golden.json"), &want))

			res, err := newDecoder(t).Decode(raw)
			require.NoError(t, err)
			if diff := cmp.Diff(want, project(res), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("decode mismatch (-want +got):\n%s", diff)
			}
			require.NotNil(t, res.BlockTime)
			assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), res.BlockTime.UTC())
		})
	}
}

func TestDecode_Idempotent(t *testing.T) {
	raw := readFixture(t, "transfers.json")
	first, err := newDecoder(t).Decode(raw)
	require.NoError(t, err)
	second, err := newDecoder(t).Decode(raw)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestDecode_NormalizationError(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := newDecoder(t, decoder.WithMetrics(metrics.NewMetrics(reg)))

	_, err := d.Decode([]byte(`{"result": {"slot": 1, "transaction": {"signatures": ["abc"]}}}`))
	require.Error(t, err)
	assert.True(t, txn.IsNormalizationError(err))

	n, err := testutil.GatherAndCount(reg, "decode_transactions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDecodeTransaction_EventIDs(t *testing.T) {
	payer := txntest.Key("payer")
	b := txntest.New(payer)
	b.Instruction(txntest.Key("unknown-program"), []byte{1, 2, 3}, payer)
	b.Instruction(txntest.Key("unknown-program"), []byte{4}, payer)
	tx := b.Build(t)

	res := newDecoder(t).DecodeTransaction(tx)
	require.Len(t, res.Events, 2)
	sig := tx.Signature().String()
	assert.Equal(t, sig+":0:0", res.Events[0].EventID)
	assert.Equal(t, sig+":1:0", res.Events[1].EventID)
	for _, ev := range res.Events {
		assert.Equal(t, decoder.ParserVersion, ev.ParserVersion)
		assert.Equal(t, sig, ev.Signature)
	}
}

func TestDecodeTransaction_EventIDsAnchorOnOuterIndex(t *testing.T) {
	payer := txntest.Key("payer")
	unknown := txntest.Key("unknown-program")

	b := txntest.New(payer)
	first := b.Instruction(unknown, []byte{1}, payer)
	b.Inner(first, unknown, []byte{2}, payer)
	second := b.Instruction(unknown, []byte{3}, payer)
	b.Inner(second, unknown, []byte{4}, payer)
	b.InnerAt(second, 2, unknown, []byte{5}, payer)
	tx := b.Build(t)

	res := newDecoder(t).DecodeTransaction(tx)
	require.Len(t, res.Events, 2)
	sig := tx.Signature().String()

	tests := []struct {
		outer  int
		wantID string
	}{
		{outer: 0, wantID: sig + ":0:0"},
		{outer: 1, wantID: sig + ":1:0"},
	}
	for _, tt := range tests {
		ev := res.Events[tt.outer]
		assert.Equal(t, tt.wantID, ev.EventID)
		assert.Equal(t, tt.outer, ev.Anchor.Outer)
		assert.Equal(t, 0, ev.Anchor.Depth)
		assert.Equal(t, tt.wantID, decoder.EventID(sig, ev.Anchor.Outer, ev.Anchor.Depth))
	}
}

type stamp struct{}

func (stamp) Name() string { return "stamp" }

func (stamp) Enrich(_ *enrich.Context, ev *enrich.Event) {
	ev.SetDetail("stamped", true)
}

func TestWithEnrichers(t *testing.T) {
	payer := txntest.Key("payer")
	b := txntest.New(payer)
	b.Instruction(txntest.Key("unknown-program"), nil, payer)

	res := newDecoder(t, decoder.WithEnrichers(stamp{})).DecodeTransaction(b.Build(t))
	require.Len(t, res.Events, 1)
	assert.Equal(t, true, res.Events[0].Details["stamped"])
	assert.Nil(t, res.Events[0].NetTokenChanges, "default chain is replaced")
}

func TestVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"2.3.0", "2.3.0", 0},
		{"2.3", "2.3.0", 0},
		{"2.2.9", "2.3.0", -1},
		{"2.10.0", "2.9.0", 1},
		{"v3", "2.99", 1},
	}
	for _, tt := range tests {
		got, err := decoder.CompareVersions(tt.a, tt.b)
		require.NoError(t, err, tt.a)
		assert.Equal(t, tt.want, got, "%s vs %s", tt.a, tt.b)
	}

	_, err := decoder.CompareVersions("2.x", "2.0")
	assert.Error(t, err)

	assert.True(t, decoder.VersionBelow("2.2.0", decoder.ParserVersion))
	assert.False(t, decoder.VersionBelow(decoder.ParserVersion, decoder.ParserVersion))
	assert.True(t, decoder.VersionBelow("", decoder.ParserVersion), "never decoded")
}

func TestNewDeadLetter(t *testing.T) {
	raw := readFixture(t, "transfers.json")
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	_, normErr := newDecoder(t).Decode([]byte(`{"result": {}}`))
	require.Error(t, normErr)

	dl := decoder.NewDeadLetter("", normErr, raw, at)
	assert.Equal(t, txn.PeekSignature(raw), dl.Signature)
	assert.Equal(t, decoder.ReasonNormalization, dl.Reason)
	assert.Equal(t, at.UTC(), dl.FailedAt)
	assert.Equal(t, 1, dl.Attempts)
	assert.Equal(t, normErr.Error(), dl.Error)

	fetch := &decoder.FetchError{Signature: "sig", Err: errors.New("429")}
	assert.Equal(t, decoder.ReasonFetch, decoder.NewDeadLetter("sig", fetch, nil, at).Reason)
	assert.Equal(t, decoder.ReasonStorage, decoder.ReasonOf(errors.Join(decoder.ErrStorage, errors.New("conn reset"))))
	assert.Equal(t, decoder.ReasonUnknown, decoder.ReasonOf(errors.New("boom")))
}
