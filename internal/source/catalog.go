package source

import "slices"

// ID names a noise source in the catalog.
type ID string

// Catalog sources.
const (
	Screen            ID = "screen"
	ScreenPartial     ID = "screen_partial"
	Audio             ID = "audio"
	RAM               ID = "ram"
	KernelEntropyPool ID = "kernel_entropy_pool"
	ADCNoise          ID = "adc_noise"
	AccelGyro         ID = "accel_gyro"
)

// Spec describes one catalog entry.
type Spec struct {
	// ID identifies the source.
	ID ID

	// Length is the number of bytes one read produces. Real and simulated
	// reads must agree on it.
	Length int

	// Probability is the default inclusion probability under the
	// probabilistic sampling policy.
	Probability float64

	// Device is the default backing device path, or "" when the source has
	// no real device and is always simulated.
	Device string
}

// catalog is in sampling order.
var catalog = []Spec{
	{ID: Screen, Length: 64 * 64 * 3, Probability: 1.0, Device: "/dev/fb0"},
	{ID: ScreenPartial, Length: 32 * 32 * 3, Probability: 1.0, Device: "/dev/fb0"},
	{ID: Audio, Length: 1024, Probability: 0.75},
	{ID: RAM, Length: 512, Probability: 0.5, Device: "/dev/mem"},
	{ID: KernelEntropyPool, Length: 512, Probability: 0.5, Device: "/dev/random"},
	{ID: ADCNoise, Length: 256, Probability: 0.33},
	{ID: AccelGyro, Length: 128 * 3 * 4, Probability: 0.33},
}

// Catalog returns a copy of the source catalog in sampling order.
func Catalog() []Spec {
	return slices.Clone(catalog)
}

// Lookup returns the catalog entry for id.
func Lookup(id ID) (Spec, bool) {
	for _, s := range catalog {
		if s.ID == id {
			return s, true
		}
	}
	return Spec{}, false
}

// IDs returns the catalog IDs in sampling order.
func IDs() []ID {
	ids := make([]ID, len(catalog))
	for i, s := range catalog {
		ids[i] = s.ID
	}
	return ids
}
