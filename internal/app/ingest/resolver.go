package ingest

import (
	"context"
	"sort"

	"github.com/Oskimark/snifer-mac/internal/domain"
	"github.com/Oskimark/snifer-mac/internal/ports"
)

// VendorLookup is the read side of the vendor reference table.
type VendorLookup interface {
	LookupVendors(ctx context.Context, prefixes []string) (map[string]string, error)
}

// VendorResolver maps OUI prefixes to manufacturer names in one round trip.
type VendorResolver struct {
	lookup VendorLookup
	obs    ports.Observability
}

func NewVendorResolver(lookup VendorLookup, obs ports.Observability) *VendorResolver {
	return &VendorResolver{lookup: lookup, obs: obs}
}

// Resolve never fails. Lookup errors are logged and yield an empty mapping
// so every record falls back to its own label.
func (v *VendorResolver) Resolve(ctx context.Context, prefixes []string) map[string]string {
	if len(prefixes) == 0 || v.lookup == nil {
		return map[string]string{}
	}
	m, err := v.lookup.LookupVendors(ctx, prefixes)
	if err != nil {
		v.obs.LogError("vendor_lookup_failed", err, ports.Field{Key: "prefixes", Value: len(prefixes)})
		return map[string]string{}
	}
	return m
}

// PrefixSet returns the distinct plausible prefixes of records, sorted.
func PrefixSet(records []domain.DetectionRecord) []string {
	seen := make(map[string]struct{}, len(records))
	out := make([]string, 0, len(records))
	for _, r := range records {
		p, ok := domain.VendorPrefix(r.HardwareAddress)
		if !ok {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// VendorName picks the table entry, then the record's hint, then the
// unknown-vendor label.
func VendorName(vendors map[string]string, r domain.DetectionRecord) string {
	if p, ok := domain.VendorPrefix(r.HardwareAddress); ok {
		if name, found := vendors[p]; found && name != "" {
			return name
		}
	}
	if hint := r.Hint(); hint != "" {
		return hint
	}
	return domain.UnknownVendor
}
