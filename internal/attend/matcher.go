package attend

import "fmt"

// DefaultMatchThreshold is the Euclidean distance below which two
// embeddings are considered the same person.
const DefaultMatchThreshold = 0.6

// Match is the accepted gallery candidate for a query.
type Match struct {
	IdentityID int64
	Distance   float64
}

// ScanResult is the outcome of one full gallery scan.
type ScanResult struct {
	// Match is nil when no candidate was strictly below the threshold.
	Match *Match

	// Scanned counts the templates that were opened and compared.
	Scanned int

	// Corrupt lists templates that failed to open or had the wrong shape.
	// They were skipped; the scan continued over the rest.
	Corrupt []*IntegrityError
}

// Matcher finds the nearest enrolled template by linear scan.
// Cost is linear in gallery size per query, which is intended for galleries
// in the low thousands.
type Matcher struct {
	keys      KeyStore
	threshold float64
	logger    Logger
}

// NewMatcher creates a Matcher. A non-positive threshold selects
// DefaultMatchThreshold.
func NewMatcher(keys KeyStore, threshold float64, logger Logger) *Matcher {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	return &Matcher{keys: keys, threshold: threshold, logger: logger}
}

// Threshold returns the acceptance threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match compares query against every template in gallery and accepts the
// nearest one only if its distance is strictly below the threshold.
// Equidistant candidates resolve to the lowest identity id.
func (m *Matcher) Match(query Embedding, gallery []StoredTemplate) *ScanResult {
	result := &ScanResult{}
	var best *Match

	for _, stored := range gallery {
		candidate, err := m.keys.Open(stored.Blob)
		if err != nil {
			result.Corrupt = append(result.Corrupt, m.skip(stored.IdentityID, err))
			continue
		}
		distance, err := EuclideanDistance(query, candidate)
		if err != nil {
			result.Corrupt = append(result.Corrupt, m.skip(stored.IdentityID, fmt.Errorf("%w: %v", ErrIntegrity, err)))
			continue
		}
		result.Scanned++

		if best == nil || distance < best.Distance ||
			(distance == best.Distance && stored.IdentityID < best.IdentityID) {
			best = &Match{IdentityID: stored.IdentityID, Distance: distance}
		}
	}

	if best != nil && best.Distance < m.threshold {
		result.Match = best
	}
	return result
}

func (m *Matcher) skip(identityID int64, err error) *IntegrityError {
	m.logger.Warn("skipping unreadable template", "identity_id", identityID, "error", err)
	return &IntegrityError{IdentityID: identityID, Err: err}
}
