package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/itchyny/gojq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/txdecode/service/db"
	"github.com/brojonat/txdecode/service/decoder"
	"github.com/brojonat/txdecode/service/registry"
)

// getStore connects to the database named by --database-url.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(c.Context, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(c.Context); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool), pool.Close, nil
}

// poolLister is the part of the store that feeds the pool registry.
type poolLister interface {
	ListPools(ctx context.Context) ([]registry.Pool, error)
}

// loadRegistries loads the token and pool registries named by the global flags. When store
// is not nil its discovered pools are merged over the file registry.
func loadRegistries(c *cli.Context, store poolLister) (decoder.Registries, error) {
	tokens := registry.DefaultTokenBehaviors()
	if path := c.String("token-registry"); path != "" {
		var err error
		if tokens, err = registry.LoadTokenBehaviors(path); err != nil {
			return decoder.Registries{}, err
		}
	}

	pools, err := registry.LoadPools(c.String("pool-registry"))
	if err != nil {
		return decoder.Registries{}, err
	}
	if store != nil {
		stored, err := store.ListPools(c.Context)
		if err != nil {
			return decoder.Registries{}, fmt.Errorf("failed to load stored pools: %w", err)
		}
		if pools, err = pools.With(stored...); err != nil {
			return decoder.Registries{}, err
		}
	}

	return decoder.Registries{Tokens: tokens, Pools: pools}, nil
}

// newDecoder builds a decoder from the registries named by the global flags.
func newDecoder(c *cli.Context, store poolLister, logger *slog.Logger) (*decoder.Decoder, error) {
	reg, err := loadRegistries(c, store)
	if err != nil {
		return nil, err
	}
	return decoder.New(reg, decoder.WithLogger(logger))
}

// newLogger creates a stderr JSON logger at the --log-level level.
func newLogger(c *cli.Context) *slog.Logger {
	var level slog.Level
	switch c.String("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// stdout is where command output goes; tests swap the app writer.
func stdout(c *cli.Context) io.Writer {
	if c.App != nil && c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

// Helper function to output JSON
func outputJSON(c *cli.Context, v interface{}) error {
	return writeJSON(stdout(c), v)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// jqFilter is a compiled jq program applied to JSON documents.
type jqFilter struct {
	expr string
	code *gojq.Code
}

// compileJQ parses and compiles a jq expression. An empty expression yields nil.
func compileJQ(expr string) (*jqFilter, error) {
	if expr == "" {
		return nil, nil
	}
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
	}
	return &jqFilter{expr: expr, code: code}, nil
}

// toJQInput round trips v through JSON so gojq sees only maps, slices and scalars.
func toJQInput(v interface{}) (interface{}, error) {
	var data []byte
	switch t := v.(type) {
	case []byte:
		data = t
	case json.RawMessage:
		data = t
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return nil, err
		}
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("jq input is not JSON: %w", err)
	}
	return out, nil
}

// Apply runs the filter over v and returns every emitted value.
func (f *jqFilter) Apply(v interface{}) ([]interface{}, error) {
	input, err := toJQInput(v)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	iter := f.code.Run(input)
	for {
		res, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := res.(error); isErr {
			return nil, fmt.Errorf("jq filter %q: %w", f.expr, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// Match reports whether the filter's first result over v is truthy.
func (f *jqFilter) Match(v interface{}) bool {
	out, err := f.Apply(v)
	if err != nil || len(out) == 0 {
		return false
	}
	return isTruthy(out[0])
}

// isTruthy follows jq: only false and null are falsy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// emit writes v to w, through the filter when one is set.
func emit(w io.Writer, f *jqFilter, v interface{}) error {
	if f == nil {
		return writeJSON(w, v)
	}
	out, err := f.Apply(v)
	if err != nil {
		return err
	}
	for _, res := range out {
		if err := writeJSON(w, res); err != nil {
			return err
		}
	}
	return nil
}
