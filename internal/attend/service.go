package attend

// Options tunes the pipeline. Zero values select the defaults.
type Options struct {
	MatchThreshold    float64
	LivenessThreshold float64
	Dimension         int
}

// Service is the orchestration layer for enrollment, recognition and the
// attendance ledger. It is safe for concurrent use; all shared state lives
// in the Database.
type Service struct {
	database  Database
	keys      KeyStore
	extractor Extractor
	matcher   *Matcher
	liveness  *LivenessDetector
	logger    Logger
	clock     Clock
	idgen     IDGenerator
	dimension int
}

// NewService creates a Service with the provided dependencies.
func NewService(database Database, keys KeyStore, extractor Extractor, logger Logger, clock Clock, idgen IDGenerator, opts Options) *Service {
	dim := opts.Dimension
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Service{
		database:  database,
		keys:      keys,
		extractor: extractor,
		matcher:   NewMatcher(keys, opts.MatchThreshold, logger),
		liveness:  NewLivenessDetector(opts.LivenessThreshold),
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		dimension: dim,
	}
}

// Dimension returns the embedding length the service accepts.
func (s *Service) Dimension() int {
	return s.dimension
}
