package plan

import (
	"fmt"
	"sort"
)

// Spec is the fixed resource ceiling of one compute plan. This table is
// product configuration, not a free-form input.
type Spec struct {
	Name         string
	CPUCores     int
	MemoryMB     int
	DiskGB       int
	WebsiteLimit int
	ServerType   string // hypervisor server type
}

var catalog = map[string]Spec{
	"STARTER": {
		Name:         "STARTER",
		CPUCores:     2,
		MemoryMB:     4096,
		DiskGB:       40,
		WebsiteLimit: 5,
		ServerType:   "cx22",
	},
	"PRO": {
		Name:         "PRO",
		CPUCores:     4,
		MemoryMB:     8192,
		DiskGB:       80,
		WebsiteLimit: 25,
		ServerType:   "cx32",
	},
	"BUSINESS": {
		Name:         "BUSINESS",
		CPUCores:     8,
		MemoryMB:     16384,
		DiskGB:       160,
		WebsiteLimit: 100,
		ServerType:   "cx42",
	},
}

var regions = map[string]bool{
	"nbg1": true,
	"fsn1": true,
	"hel1": true,
	"ash":  true,
}

// Resolve looks a plan up in the catalog.
func Resolve(name string) (Spec, error) {
	spec, ok := catalog[name]
	if !ok {
		return Spec{}, fmt.Errorf("unknown plan: %q", name)
	}
	return spec, nil
}

// ValidRegion reports whether instances may be placed in the region.
func ValidRegion(region string) bool {
	return regions[region]
}

// Names returns the catalog plan names in stable order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
