package batch

import "github.com/Priyanshu23/FlashBatchGo/entry"

// Option configures a WriteBatch at construction time, following the same
// functional-options pattern as segmentmanager.DiskSegmentManagerOption.
type Option[K entry.Key] func(b *config)

type config struct {
	threadLocalSizeShift uint
	sharedSizeShift      uint
	maxMediumValueSize   int
	lz4Acceleration      int
	verify               bool
	families             int
}

const (
	defaultThreadLocalSizeShift = 16 // 64 KiB
	defaultSharedSizeShift      = 22 // 4 MiB
	defaultMaxMediumValueSize   = 4096
	defaultLZ4Acceleration      = 0 // library default (fastest)
	defaultFamilies             = 1
)

func defaultConfig() config {
	return config{
		threadLocalSizeShift: defaultThreadLocalSizeShift,
		sharedSizeShift:      defaultSharedSizeShift,
		maxMediumValueSize:   defaultMaxMediumValueSize,
		lz4Acceleration:      defaultLZ4Acceleration,
		verify:               false,
		families:             defaultFamilies,
	}
}

// WithThreadLocalSizeShift sets the per-thread collector's capacity
// exponent (threshold = 1 << shift bytes of key+value).
func WithThreadLocalSizeShift[K entry.Key](shift uint) Option[K] {
	return func(b *config) { b.threadLocalSizeShift = shift }
}

// WithSharedSizeShift sets the per-family shared collector's capacity
// exponent.
func WithSharedSizeShift[K entry.Key](shift uint) Option[K] {
	return func(b *config) { b.sharedSizeShift = shift }
}

// WithMaxMediumValueSize sets the blob-divert threshold: values longer
// than this spill to a blob file instead of being stored inline.
func WithMaxMediumValueSize[K entry.Key](size int) Option[K] {
	return func(b *config) { b.maxMediumValueSize = size }
}

// WithLZ4Acceleration sets the LZ4 compression level blob framing applies.
// 0 leaves the library at its default.
func WithLZ4Acceleration[K entry.Key](level int) Option[K] {
	return func(b *config) { b.lz4Acceleration = level }
}

// WithVerification enables the optional verify-on-flush path: every SST
// written during Finish is immediately re-opened and checked against the
// entries it was built from.
func WithVerification[K entry.Key](enabled bool) Option[K] {
	return func(b *config) { b.verify = enabled }
}

// WithFamilies sets the number of column families the batch accepts.
// Put/Delete validate 0 <= family < families on every call.
func WithFamilies[K entry.Key](families int) Option[K] {
	return func(b *config) { b.families = families }
}
