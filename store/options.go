package store

import (
	"go.uber.org/zap"

	"github.com/flashkv/flashkv/engine"
)

const (
	defaultMaxSegmentSize  = 16 * 1024 * 1024
	defaultMemtableMaxSize = 10000
	defaultWALBuffer       = 64
	defaultLogFileExt      = ".log"
	defaultBloomFPRate     = 0.01
	defaultBloomElements   = 100000
)

// Options collects every tunable of a Store. Grounded on the teacher's
// functional-options style for segmentmanager.DiskSegmentManagerOption,
// generalized to the whole facade the way ignite's pkg/options groups
// storage, performance and maintenance knobs into one struct.
type Options struct {
	maxSegmentSize  int64
	memtableMaxSize int
	walBuffer       int
	logFileExt      string

	useBloom      bool
	bloomUseParams bool
	bloomElements uint
	bloomFPRate   float64
	bloomM        uint
	bloomK        uint

	logger *zap.SugaredLogger
}

func defaultOptions() *Options {
	return &Options{
		maxSegmentSize:  defaultMaxSegmentSize,
		memtableMaxSize: defaultMemtableMaxSize,
		walBuffer:       defaultWALBuffer,
		logFileExt:      defaultLogFileExt,
		useBloom:        true,
		bloomElements:   defaultBloomElements,
		bloomFPRate:     defaultBloomFPRate,
	}
}

// Option configures a Store at Open time.
type Option func(*Options)

// WithMaxSegmentSize overrides the default 16MiB segment rollover
// threshold.
func WithMaxSegmentSize(n int64) Option {
	return func(o *Options) { o.maxSegmentSize = n }
}

// WithMemtableMaxSize overrides the default MemTable capacity, past
// which it must be flushed before accepting new keys.
func WithMemtableMaxSize(n int) Option {
	return func(o *Options) { o.memtableMaxSize = n }
}

// WithWALBuffer sets the write-ahead log writer's request channel
// buffer depth.
func WithWALBuffer(n int) Option {
	return func(o *Options) { o.walBuffer = n }
}

// WithLogFileExt overrides the default ".log" segment file extension.
func WithLogFileExt(ext string) Option {
	return func(o *Options) { o.logFileExt = ext }
}

// WithBloomFilter toggles whether segments are wrapped in a Bloom
// membership prefilter (C8), sized from expected-element-count and
// false-positive-rate estimates. Mutually exclusive with
// WithBloomParams; whichever of the two is applied last wins.
func WithBloomFilter(enabled bool, expectedElements uint, falsePositiveRate float64) Option {
	return func(o *Options) {
		o.useBloom = enabled
		o.bloomUseParams = false
		o.bloomElements = expectedElements
		o.bloomFPRate = falsePositiveRate
	}
}

// WithBloomParams wraps segments in a Bloom membership prefilter sized
// by an explicit bit-array size m and hash function count k, instead of
// deriving them from expected-element-count/false-positive-rate
// estimates. Mutually exclusive with WithBloomFilter; whichever of the
// two is applied last wins.
func WithBloomParams(m, k uint) Option {
	return func(o *Options) {
		o.useBloom = true
		o.bloomUseParams = true
		o.bloomM = m
		o.bloomK = k
	}
}

// WithLogger supplies a structured logger; Open builds a no-op logger
// if none is given.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *Options) { o.logger = logger }
}

func (o *Options) segmentFactory() func(string) (engine.Engine, error) {
	if !o.useBloom {
		return engine.IndexedSegmentFactory
	}
	if o.bloomUseParams {
		return engine.BloomIndexedSegmentFactoryWithParams(o.bloomM, o.bloomK)
	}
	return engine.BloomIndexedSegmentFactory(o.bloomElements, o.bloomFPRate)
}
