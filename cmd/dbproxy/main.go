// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shepsii/dbproxies"
	"github.com/shepsii/dbproxies/config"
	"github.com/shepsii/dbproxies/core"
	"github.com/shepsii/dbproxies/proxy"
	"github.com/shepsii/dbproxies/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	modelFlag := &cli.StringFlag{
		Name:     "model",
		Aliases:  []string{"m"},
		Usage:    "Model name, full or short",
		Required: true,
	}

	return &cli.App{
		Name:      "dbproxy",
		Usage:     "Local CRUD persistence for declared models",
		Writer:    out,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
				EnvVars: []string{"DBPROXY_CONFIG"},
			},
		},
		Before: func(c *cli.Context) error {
			// a missing .env file is fine
			_ = godotenv.Load()
			return setupLogger(c)
		},
		Commands: []*cli.Command{
			{
				Name:   "create",
				Usage:  "Create records from a JSON object or array",
				Action: createCommand,
				Flags: []cli.Flag{
					modelFlag,
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "JSON object or array of objects; - reads stdin",
						Required: true,
					},
				},
			},
			{
				Name:   "read",
				Usage:  "Read records",
				Action: readCommand,
				Flags: []cli.Flag{
					modelFlag,
					&cli.StringFlag{
						Name:  "id",
						Usage: "Read a single record by id",
					},
					&cli.StringSliceFlag{
						Name:  "filter",
						Usage: "Equality filter as property=value",
					},
					&cli.StringSliceFlag{
						Name:  "like",
						Usage: "Substring filter as property=value",
					},
					&cli.StringSliceFlag{
						Name:  "sort",
						Usage: "Sort as property or property:desc",
					},
					&cli.IntFlag{
						Name:  "page",
						Usage: "Page number, from 1",
					},
					&cli.IntFlag{
						Name:  "start",
						Usage: "Offset of the first record",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of records",
					},
				},
			},
			{
				Name:   "update",
				Usage:  "Update fields of one record",
				Action: updateCommand,
				Flags: []cli.Flag{
					modelFlag,
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Record id",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:     "set",
						Usage:    "Field assignment as property=value; values are parsed as JSON when possible",
						Required: true,
					},
				},
			},
			{
				Name:   "erase",
				Usage:  "Erase records by id",
				Action: eraseCommand,
				Flags: []cli.Flag{
					modelFlag,
					&cli.StringSliceFlag{
						Name:     "id",
						Usage:    "Record id",
						Required: true,
					},
				},
			},
			{
				Name:   "drop",
				Usage:  "Delete the storage of a model",
				Action: dropCommand,
				Flags:  []cli.Flag{modelFlag},
			},
			{
				Name:   "changes",
				Usage:  "List queued cloud changes",
				Action: changesCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of changes",
					},
				},
			},
			{
				Name:   "sync",
				Usage:  "Forward queued cloud changes to DynamoDB",
				Action: syncCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of changes",
						Value: 100,
					},
				},
			},
		},
	}
}

func openDatabase(c *cli.Context) (*dbproxies.Database, error) {
	cfg := config.DefaultConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	db, err := dbproxies.Open(cfg, dbproxies.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// withProxy opens the database and runs fn with the proxy of --model.
func withProxy(c *cli.Context, fn func(ctx context.Context, p *proxy.Proxy) error) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := db.Proxy(c.String("model"))
	if err != nil {
		return err
	}
	return fn(c.Context, p)
}

func createCommand(c *cli.Context) error {
	raw := c.String("data")
	if raw == "-" {
		data, err := io.ReadAll(c.App.Reader)
		if err != nil {
			return err
		}
		raw = string(data)
	}
	items, err := parseObjects(raw)
	if err != nil {
		return err
	}

	return withProxy(c, func(ctx context.Context, p *proxy.Proxy) error {
		records := make([]*core.Record, len(items))
		for i, item := range items {
			records[i] = core.NewRecord(p.Schema().Model, item)
		}
		result, err := p.Execute(ctx, proxy.NewOperation(proxy.ActionCreate, proxy.WithRecords(records...)))
		return report(c, result, err)
	})
}

func readCommand(c *cli.Context) error {
	opts := []proxy.OperationOption{
		proxy.WithPage(c.Int("page"), c.Int("start"), c.Int("limit")),
	}
	for _, flag := range []string{"filter", "like"} {
		for _, arg := range c.StringSlice(flag) {
			prop, value, err := splitAssignment(arg)
			if err != nil {
				return err
			}
			opts = append(opts, proxy.WithFilters(core.Filter{Property: prop, Value: value, AnyMatch: flag == "like"}))
		}
	}
	for _, arg := range c.StringSlice("sort") {
		opts = append(opts, proxy.WithSorters(parseSorter(arg)))
	}

	return withProxy(c, func(ctx context.Context, p *proxy.Proxy) error {
		if raw := c.String("id"); raw != "" {
			id, err := parseID(p, raw)
			if err != nil {
				return err
			}
			opts = append(opts, proxy.WithID(id))
		}
		result, err := p.Execute(ctx, proxy.NewOperation(proxy.ActionRead, opts...))
		return report(c, result, err)
	})
}

func updateCommand(c *cli.Context) error {
	fields := make(core.Data)
	for _, arg := range c.StringSlice("set") {
		prop, value, err := splitAssignment(arg)
		if err != nil {
			return err
		}
		fields[prop] = value
	}

	return withProxy(c, func(ctx context.Context, p *proxy.Proxy) error {
		rec, err := readOne(ctx, p, c.String("id"))
		if err != nil {
			return err
		}
		for prop, value := range fields {
			rec.Set(prop, value)
		}
		result, err := p.Execute(ctx, proxy.NewOperation(proxy.ActionUpdate, proxy.WithRecords(rec)))
		return report(c, result, err)
	})
}

func eraseCommand(c *cli.Context) error {
	return withProxy(c, func(ctx context.Context, p *proxy.Proxy) error {
		var records []*core.Record
		for _, id := range c.StringSlice("id") {
			rec, err := readOne(ctx, p, id)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		result, err := p.Execute(ctx, proxy.NewOperation(proxy.ActionDestroy, proxy.WithRecords(records...)))
		return report(c, result, err)
	})
}

func dropCommand(c *cli.Context) error {
	return withProxy(c, func(ctx context.Context, p *proxy.Proxy) error {
		if err := p.Drop(ctx); err != nil {
			return fmt.Errorf("drop failed: %w", err)
		}
		fmt.Fprintf(c.App.ErrWriter, "Dropped %s\n", p.Schema().Name)
		return nil
	})
}

func changesCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	src, err := db.Changes()
	if err != nil {
		return err
	}
	changes, err := src.Pending(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, changes)
}

func syncCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.Sync(c.Context, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	fmt.Fprintf(c.App.ErrWriter, "Forwarded %d changes\n", n)
	return nil
}

func readOne(ctx context.Context, p *proxy.Proxy, raw string) (*core.Record, error) {
	id, err := parseID(p, raw)
	if err != nil {
		return nil, err
	}
	result, err := p.Execute(ctx, proxy.NewOperation(proxy.ActionRead, proxy.WithID(id)))
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, fmt.Errorf("record %s not found", raw)
	}
	return result.Records[0], nil
}

// report writes the records of result. Per-record failures are logged and
// turn into the command's error.
func report(c *cli.Context, result *proxy.Result, err error) error {
	if result == nil {
		return err
	}
	rows := make([]core.Data, len(result.Records))
	for i, rec := range result.Records {
		rows[i] = rec.Data()
	}
	if writeErr := writeJSON(c.App.Writer, rows); writeErr != nil {
		return writeErr
	}
	for _, re := range result.Errors {
		slog.Error("record failed", "id", re.RecordID, "err", re.Err)
	}
	if err != nil {
		return fmt.Errorf("%d of %d records failed: %w", result.Total-result.Count, result.Total, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseObjects(raw string) ([]core.Data, error) {
	v, err := storage.DecodeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	switch t := v.(type) {
	case map[string]any:
		return []core.Data{t}, nil
	case []any:
		out := make([]core.Data, 0, len(t))
		for _, e := range t {
			obj, ok := e.(map[string]any)
			if !ok {
				return nil, errors.New("invalid data: array elements must be objects")
			}
			out = append(out, obj)
		}
		return out, nil
	}
	return nil, errors.New("invalid data: expected an object or an array")
}

func splitAssignment(arg string) (string, any, error) {
	prop, value, ok := strings.Cut(arg, "=")
	if !ok || prop == "" {
		return "", nil, fmt.Errorf("invalid assignment %q: expected property=value", arg)
	}
	return prop, parseValue(value), nil
}

// parseID converts raw to the type of the model's id field.
func parseID(p *proxy.Proxy, raw string) (any, error) {
	switch p.Schema().IDColumn().Type {
	case core.FieldTypeInt:
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", raw, err)
		}
		return id, nil
	case core.FieldTypeFloat:
		id, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", raw, err)
		}
		return id, nil
	}
	return raw, nil
}

// parseValue reads value as JSON, falling back to the raw string.
func parseValue(value string) any {
	v, err := storage.DecodeJSON(value)
	if err != nil {
		return value
	}
	return v
}

func parseSorter(arg string) core.Sorter {
	prop, dir, _ := strings.Cut(arg, ":")
	s := core.Sorter{Property: prop, Direction: core.Ascending}
	if strings.EqualFold(dir, "desc") {
		s.Direction = core.Descending
	}
	return s
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
