// Package demo provides handlers the CLI registers so the batch protocol can
// be exercised without an application behind it.
package demo

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/Sternrassler/batchsync/pkg/batch"
	"github.com/Sternrassler/batchsync/pkg/registry"
)

// SequenceID is the id the sequence handler is registered under.
const SequenceID = "sequence"

// Sequence option keys.
const (
	OptionTotal     = "total"
	OptionFailEvery = "fail_every"
	OptionDelayMS   = "delay_ms"
)

// SequenceConfig returns the registration of a handler that walks records
// 1..total. Every fail_every-th record fails; delay_ms sleeps once per batch.
func SequenceConfig() registry.HandlerConfig {
	cfg := registry.DefaultHandlerConfig(processSequence)
	cfg.Limit = 25
	cfg.SingularLabel = "record"
	cfg.PluralLabel = "records"
	cfg.DefaultOptions = batch.Options{
		OptionTotal:     100,
		OptionFailEvery: 0,
		OptionDelayMS:   0,
	}
	return cfg
}

// Register adds every demo handler to reg.
func Register(reg *registry.Registry) error {
	return reg.Register(SequenceID, SequenceConfig())
}

func processSequence(ctx context.Context, cursor string, limit int, opts batch.Options) (*batch.BatchResult, error) {
	total, err := IntOption(opts, OptionTotal, 100)
	if err != nil {
		return nil, err
	}
	failEvery, err := IntOption(opts, OptionFailEvery, 0)
	if err != nil {
		return nil, err
	}
	delayMS, err := IntOption(opts, OptionDelayMS, 0)
	if err != nil {
		return nil, err
	}

	last := 0
	if cursor != "" {
		if last, err = strconv.Atoi(cursor); err != nil || last < 0 {
			return nil, fmt.Errorf("invalid cursor %q", cursor)
		}
	}

	if delayMS > 0 {
		select {
		case <-time.After(time.Duration(delayMS) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	end := min(last+limit, total)
	items := make([]batch.Item, 0, max(end-last, 0))
	for id := last + 1; id <= end; id++ {
		name := fmt.Sprintf("Record #%d", id)
		if failEvery > 0 && id%failEvery == 0 {
			items = append(items, batch.Failed(strconv.Itoa(id), name, "rejected by fail_every"))
			continue
		}
		items = append(items, batch.OK(strconv.Itoa(id), name))
	}

	next := cursor
	if end > last {
		next = strconv.Itoa(end)
	}
	return batch.Page(items, end < total, next).WithEstimatedTotal(total), nil
}

// IntOption reads an integer option. Values arrive as Go ints from defaults,
// float64 from JSON and strings from the command line.
func IntOption(opts batch.Options, key string, def int) (int, error) {
	raw, ok := opts[key]
	if !ok || raw == nil {
		return def, nil
	}

	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("option %s: %v is not an integer", key, v)
		}
		n = int(v)
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("option %s: %q is not an integer", key, v)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("option %s: unsupported type %T", key, raw)
	}

	if n < 0 {
		return 0, fmt.Errorf("option %s must not be negative", key)
	}
	return n, nil
}
