package attend

// KeyStore seals and opens templates with the process-wide template key.
// It is constructed once at startup and passed to every component that
// touches templates.
type KeyStore interface {
	// Seal encrypts the embedding into an opaque authenticated blob.
	Seal(e Embedding) ([]byte, error)

	// Open decrypts a blob produced by Seal. Any tampering or key mismatch
	// returns an error matching ErrIntegrity; corrupted components are never
	// returned.
	Open(blob []byte) (Embedding, error)
}
