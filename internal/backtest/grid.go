package backtest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/marketdata"
)

// Variant is one parameter combination of a grid.
type Variant struct {
	Config *config.Config
	Params map[string]float64
	Label  string
}

// GridResult pairs a variant with its finished run.
type GridResult struct {
	Result  *Result
	Variant Variant
}

// ProviderFactory opens a provider for one variant. Each run gets its own
// provider and closes it when done.
type ProviderFactory func(ctx context.Context, cfg *config.Config) (marketdata.Provider, error)

// Axis is one swept parameter.
type Axis struct {
	Name   string
	Values []float64
}

// param reads and writes one grid parameter on a config.
type param struct {
	get func(*config.Config) float64
	set func(*config.Config, float64)
}

// params maps grid parameter names to config fields.
var params = map[string]param{
	"vix_floor": {
		func(c *config.Config) float64 { return c.Strategy.VIXFloor },
		func(c *config.Config, v float64) { c.Strategy.VIXFloor = v },
	},
	"vix_ceiling": {
		func(c *config.Config) float64 { return c.Strategy.VIXCeiling },
		func(c *config.Config, v float64) { c.Strategy.VIXCeiling = v },
	},
	"min_credit": {
		func(c *config.Config) float64 { return c.Strategy.MinCredit },
		func(c *config.Config, v float64) { c.Strategy.MinCredit = v },
	},
	"slippage_per_leg": {
		func(c *config.Config) float64 { return c.Strategy.Slippage() },
		func(c *config.Config, v float64) { c.Strategy.SlippagePerLeg = config.Float(v) },
	},
	"base_offset": {
		func(c *config.Config) float64 { return c.Strategy.Offset() },
		func(c *config.Config, v float64) { c.Strategy.BaseOffset = config.Float(v) },
	},
	"far_multiplier": {
		func(c *config.Config) float64 { return c.Strategy.FarMultiplier },
		func(c *config.Config, v float64) { c.Strategy.FarMultiplier = v },
	},
	"stop_loss_pct": {
		func(c *config.Config) float64 { return c.Exit.StopLossPct },
		func(c *config.Config, v float64) { c.Exit.StopLossPct = v },
	},
	"profit_target_pct": {
		func(c *config.Config) float64 { return c.Exit.ProfitTargetPct },
		func(c *config.Config, v float64) { c.Exit.ProfitTargetPct = v },
	},
	"trailing_trigger": {
		func(c *config.Config) float64 { return c.Exit.Trailing.TriggerPct },
		func(c *config.Config, v float64) { c.Exit.Trailing.TriggerPct = v },
	},
	"trailing_lock_in": {
		func(c *config.Config) float64 { return c.Exit.Trailing.LockIn() },
		func(c *config.Config, v float64) { c.Exit.Trailing.LockInPct = config.Float(v) },
	},
}

// ParseAxes parses "name=v1,v2;name=v1" into axes.
func ParseAxes(s string) ([]Axis, error) {
	var axes []Axis
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, list, found := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return nil, fmt.Errorf("grid axis %q: expected name=v1,v2", part)
		}
		if _, ok := params[name]; !ok {
			return nil, fmt.Errorf("grid axis %q: unknown parameter", name)
		}
		axis := Axis{Name: name}
		for _, raw := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, fmt.Errorf("grid axis %q: %w", name, err)
			}
			axis.Values = append(axis.Values, v)
		}
		axes = append(axes, axis)
	}
	return axes, nil
}

// Expand builds the cartesian product of axes over base. Every variant gets
// its own copy of the config.
func Expand(base *config.Config, axes []Axis) ([]Variant, error) {
	variants := []Variant{{Config: base.Clone(), Params: map[string]float64{}}}
	for _, axis := range axes {
		p, ok := params[axis.Name]
		if !ok {
			return nil, fmt.Errorf("unknown grid parameter %q", axis.Name)
		}
		if len(axis.Values) == 0 {
			return nil, fmt.Errorf("grid parameter %q has no values", axis.Name)
		}
		next := make([]Variant, 0, len(variants)*len(axis.Values))
		for _, v := range variants {
			for _, value := range axis.Values {
				cfg := v.Config.Clone()
				p.set(cfg, value)
				values := make(map[string]float64, len(v.Params)+1)
				for k, x := range v.Params {
					values[k] = x
				}
				values[axis.Name] = value
				next = append(next, Variant{Config: cfg, Params: values})
			}
		}
		variants = next
	}
	for i := range variants {
		variants[i].Label = label(variants[i].Params)
	}
	return variants, nil
}

func label(values map[string]float64) string {
	if len(values) == 0 {
		return "base"
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + strconv.FormatFloat(values[k], 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// RunGrid runs every variant with at most limit runs in flight. Results keep
// the order of variants. The first error cancels the remaining runs.
func RunGrid(ctx context.Context, variants []Variant, open ProviderFactory, limit int, opts ...Option) ([]GridResult, error) {
	if open == nil {
		return nil, fmt.Errorf("provider factory is required")
	}
	results := make([]GridResult, len(variants))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, v := range variants {
		g.Go(func() error {
			res, err := runVariant(gctx, v, open, opts)
			if err != nil {
				return fmt.Errorf("variant %q: %w", v.Label, err)
			}
			results[i] = GridResult{Variant: v, Result: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func runVariant(ctx context.Context, v Variant, open ProviderFactory, opts []Option) (res *Result, err error) {
	data, err := open(ctx, v.Config)
	if err != nil {
		return nil, fmt.Errorf("opening provider: %w", err)
	}
	defer func() {
		if cerr := data.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing provider: %w", cerr)
		}
	}()

	h, err := New(v.Config, data, opts...)
	if err != nil {
		return nil, err
	}
	if err := checkParams(v); err != nil {
		return nil, err
	}
	return h.Run(ctx)
}

// checkParams fails a variant whose swept values did not survive validation,
// so a label never names a value the run did not use.
func checkParams(v Variant) error {
	for name, want := range v.Params {
		p, ok := params[name]
		if !ok {
			return fmt.Errorf("unknown grid parameter %q", name)
		}
		if got := p.get(v.Config); got != want {
			return fmt.Errorf("grid parameter %s=%g was replaced by %g", name, want, got)
		}
	}
	return nil
}
