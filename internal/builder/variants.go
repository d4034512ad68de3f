package builder

import (
	"context"
	"sort"
)

// Variant is one way of invoking the wheel build. Attempts walk the variant
// list in order, so re-ranking by historical success rate changes which
// variant each attempt tries, never which variants exist.
type Variant struct {
	Name           string
	BuildIsolation bool
	EnvPatch       map[string]string
	ExtraBuildArgs []string
}

func defaultVariants() []Variant {
	return []Variant{
		{Name: "default", BuildIsolation: true},
		{Name: "no_isolation", BuildIsolation: false},
		{
			Name:           "arch_tweak",
			BuildIsolation: false,
			EnvPatch:       map[string]string{"CFLAGS": "-fno-semantic-interposition"},
		},
	}
}

// variants returns the attempt order for a package, most historically
// successful variant first. Without history the default order stands.
func (b *Builder) variants(ctx context.Context, name string) []Variant {
	base := defaultVariants()
	if b.history == nil {
		return base
	}
	rates, err := b.history.VariantSuccessRate(ctx, name)
	if err != nil || len(rates) == 0 {
		return base
	}
	sort.SliceStable(base, func(i, j int) bool {
		return rates[base[i].Name] > rates[base[j].Name]
	})
	return base
}
