package linhash

// config holds the tunables a fresh index is seeded with; an existing
// index on disk keeps whatever M/d_max/d_min it was created with,
// loaded back from meta instead.
type config struct {
	initialGroupCount uint32
	dMax, dMin        float64
}

func defaultConfig() config {
	return config{
		initialGroupCount: 4,
		dMax:              0.75,
		dMin:              0.40,
	}
}

// Option configures a fresh index at Open. Options are ignored when
// Open finds an existing meta file, since M/d_max/d_min are then read
// back from it.
type Option func(*config)

// WithInitialGroupCount sets M, the number of primary blocks (and
// groups) an index starts with.
func WithInitialGroupCount(m uint32) Option {
	return func(c *config) { c.initialGroupCount = m }
}

// WithLoadFactors sets the split/merge density thresholds.
func WithLoadFactors(dMax, dMin float64) Option {
	return func(c *config) { c.dMax, c.dMin = dMax, dMin }
}
