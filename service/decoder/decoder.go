// Package decoder turns one raw getTransaction payload into enriched events:
// normalize, parse, resolve, enrich. A decode does no I/O and shares nothing mutable, so
// independent transactions can be decoded in parallel with one Decoder.
package decoder

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/txdecode/service/decoder/enrich"
	"github.com/brojonat/txdecode/service/decoder/programs"
	"github.com/brojonat/txdecode/service/decoder/resolve"
	"github.com/brojonat/txdecode/service/decoder/txn"
	"github.com/brojonat/txdecode/service/metrics"
	"github.com/brojonat/txdecode/service/registry"
)

// ErrMissingRegistry is returned by New when a required registry is nil.
var ErrMissingRegistry = errors.New("decoder: registry is required")

// Registries are the read-only lookup tables a decode consults.
type Registries struct {
	Tokens *registry.TokenBehaviors
	Pools  *registry.Pools
}

// Result is the decode of one transaction.
type Result struct {
	Signature     string         `json:"signature"`
	Slot          uint64         `json:"slot"`
	BlockTime     *time.Time     `json:"block_time,omitempty"`
	ParserVersion string         `json:"parser_version"`
	Events        []enrich.Event `json:"enriched_events"`
	// Pools are the pools created by this transaction, for registry population.
	Pools []registry.Pool `json:"discovered_pools,omitempty"`
}

// Decoder runs the decoding pipeline.
type Decoder struct {
	registries Registries
	catalog    *programs.Catalog
	chain      *enrich.Chain
	enrichers  []enrich.Enricher
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decoder) { d.logger = logger }
}

// WithMetrics records decode outcomes, stage durations and QC tags.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Decoder) { d.metrics = m }
}

// WithCatalog replaces the default program catalogue.
func WithCatalog(c *programs.Catalog) Option {
	return func(d *Decoder) { d.catalog = c }
}

// WithEnrichers replaces the default enricher chain.
func WithEnrichers(enrichers ...enrich.Enricher) Option {
	return func(d *Decoder) { d.enrichers = enrichers }
}

// New builds a Decoder. Both registries are required.
func New(reg Registries, opts ...Option) (*Decoder, error) {
	if reg.Tokens == nil {
		return nil, fmt.Errorf("%w: token behaviors", ErrMissingRegistry)
	}
	if reg.Pools == nil {
		return nil, fmt.Errorf("%w: pools", ErrMissingRegistry)
	}
	d := &Decoder{
		registries: reg,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "decoder")
	if d.catalog == nil {
		d.catalog = programs.DefaultCatalog()
	}
	if d.enrichers != nil {
		d.chain = enrich.NewChain(d.logger, d.enrichers...)
	} else {
		d.chain = enrich.DefaultChain(d.logger)
	}
	return d, nil
}

// Registries returns the registries the decoder was built with.
func (d *Decoder) Registries() Registries {
	return d.registries
}

// Decode normalizes and decodes one raw getTransaction payload. Only unrecoverable envelope
// problems are returned as errors (a *txn.NormalizationError); everything past normalization
// is reported through QC tags on the events.
func (d *Decoder) Decode(raw []byte) (*Result, error) {
	start := time.Now()
	tx, err := txn.Normalize(raw)
	d.stage("normalize", start)
	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordDecode("normalization_error")
		}
		d.logger.Debug("normalization failed", "signature", txn.PeekSignature(raw), "error", err)
		return nil, err
	}
	res := d.DecodeTransaction(tx)
	if d.metrics != nil {
		d.metrics.RecordDecode("success")
	}
	return res, nil
}

// DecodeTransaction decodes an already normalized transaction. It never fails.
func (d *Decoder) DecodeTransaction(tx *txn.Transaction) *Result {
	sig := tx.Signature().String()

	start := time.Now()
	parsed := d.catalog.ParseAll(tx)
	d.stage("parse", start)

	start = time.Now()
	resolved := resolve.Resolve(tx, parsed)
	d.stage("resolve", start)

	start = time.Now()
	c := enrich.NewContext(tx, parsed, d.registries.Tokens, d.registries.Pools)
	events := make([]enrich.Event, 0, len(resolved))
	for _, r := range resolved {
		ev := enrich.Event{
			Event:         r,
			EventID:       EventID(sig, r.Anchor.Outer, r.Anchor.Depth),
			Signature:     sig,
			Slot:          tx.Slot,
			BlockTime:     tx.BlockTime,
			ParserVersion: ParserVersion,
		}
		d.chain.Run(c, &ev)
		events = append(events, ev)
	}
	d.stage("enrich", start)

	d.record(parsed, events)
	return &Result{
		Signature:     sig,
		Slot:          tx.Slot,
		BlockTime:     tx.BlockTime,
		ParserVersion: ParserVersion,
		Events:        events,
		Pools:         discoverPools(parsed),
	}
}

func (d *Decoder) stage(name string, start time.Time) {
	if d.metrics != nil {
		d.metrics.RecordStage(name, time.Since(start).Seconds())
	}
}

func (d *Decoder) record(parsed []programs.ParsedInstruction, events []enrich.Event) {
	if d.metrics == nil {
		return
	}
	for _, pi := range parsed {
		if pi.IsUnparsed() {
			d.metrics.RecordUnparsed(pi.ProgramID.String())
		}
	}
	for _, ev := range events {
		d.metrics.RecordEvent(string(ev.Type), string(ev.QCStatus))
		for _, tag := range ev.Tags {
			d.metrics.RecordQCTag(string(tag))
		}
	}
}

// discoverPools collects the pools created by the transaction's instructions.
func discoverPools(parsed []programs.ParsedInstruction) []registry.Pool {
	var out []registry.Pool
	for _, pi := range parsed {
		l, ok := pi.Payload.(programs.Liquidity)
		if !ok {
			continue
		}
		if p, ok := registry.PoolFromLiquidity(pi.Program, l); ok {
			out = append(out, p)
		}
	}
	return out
}

// EventID is the stable identifier of an event: the transaction signature, the index of the
// top-level instruction and the CPI depth of the event's anchor instruction. Every event
// covers whole instruction groups, so its anchor is a top-level instruction and the depth
// is 0; ids are unique per outer index. The depth stays in the format so an id is a full
// instruction coordinate.
func EventID(signature string, outer, depth int) string {
	return fmt.Sprintf("%s:%d:%d", signature, outer, depth)
}
