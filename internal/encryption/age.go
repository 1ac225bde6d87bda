// Package encryption seals biometric templates with filippo.io/age.
package encryption

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"

	"faceattend/internal/attend"
)

// protectedHeader starts every age file; a key file beginning with it is
// wrapped with a passphrase.
const protectedHeader = "age-encryption.org/v1"

// scryptWorkFactor is the log2 scrypt cost used when protecting a key file.
var scryptWorkFactor = 18

// ErrKeyFileExists is returned by InitKeyFile when the key file is already
// present. Key files are never overwritten: every stored template depends on
// the key that sealed it.
var ErrKeyFileExists = errors.New("key file already exists")

// AgeKeyStore implements attend.KeyStore with an X25519 age identity.
// Sealing encrypts to the identity's own recipient; age authenticates the
// header and every payload chunk, so any modification of a sealed blob
// fails Open.
type AgeKeyStore struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

var _ attend.KeyStore = (*AgeKeyStore)(nil)

// NewAgeKeyStore wraps an existing identity.
func NewAgeKeyStore(identity *age.X25519Identity) *AgeKeyStore {
	return &AgeKeyStore{identity: identity, recipient: identity.Recipient()}
}

// GenerateKeyStore creates a key store with a fresh identity that is never
// written to disk.
func GenerateKeyStore() (*AgeKeyStore, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	return NewAgeKeyStore(identity), nil
}

// Recipient returns the public half of the key, for display.
func (k *AgeKeyStore) Recipient() string {
	return k.recipient.String()
}

// Seal encrypts the binary form of an embedding.
func (k *AgeKeyStore) Seal(embedding attend.Embedding) ([]byte, error) {
	plaintext, err := embedding.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding embedding: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, k.recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting embedding: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// Open decrypts and decodes a sealed blob. Every failure, whether a wrong
// key, a tampered blob or a malformed plaintext, matches attend.ErrIntegrity.
func (k *AgeKeyStore) Open(blob []byte) (attend.Embedding, error) {
	r, err := age.Decrypt(bytes.NewReader(blob), k.identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", attend.ErrIntegrity, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", attend.ErrIntegrity, err)
	}

	var embedding attend.Embedding
	if err := embedding.UnmarshalBinary(plaintext); err != nil {
		return nil, fmt.Errorf("%w: %v", attend.ErrIntegrity, err)
	}
	return embedding, nil
}

// InitKeyFile generates a new identity and writes it to path with mode 0600.
// A non-empty passphrase wraps the key with age's scrypt recipient. It fails
// with ErrKeyFileExists rather than replace an existing key.
func InitKeyFile(path, passphrase string) (*AgeKeyStore, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyFileExists, path)
		}
		return nil, fmt.Errorf("creating key file: %w", err)
	}

	if err := writeKey(f, identity, passphrase); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("closing key file: %w", err)
	}
	return NewAgeKeyStore(identity), nil
}

func writeKey(w io.Writer, identity *age.X25519Identity, passphrase string) error {
	var key bytes.Buffer
	fmt.Fprintf(&key, "# created: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&key, "# public key: %s\n", identity.Recipient())
	fmt.Fprintf(&key, "%s\n", identity)

	if passphrase == "" {
		if _, err := w.Write(key.Bytes()); err != nil {
			return fmt.Errorf("writing key file: %w", err)
		}
		return nil
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	recipient.SetWorkFactor(scryptWorkFactor)

	enc, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := enc.Write(key.Bytes()); err != nil {
		return fmt.Errorf("writing encrypted key: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted key: %w", err)
	}
	return nil
}

// LoadKeyStore reads the key file at path. passphrase is only used when the
// file is protected.
func LoadKeyStore(path, passphrase string) (*AgeKeyStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("key file %s not found (run 'faceattend keys init')", path)
		}
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	if isProtected(data) {
		if passphrase == "" {
			return nil, fmt.Errorf("key file %s is passphrase protected", path)
		}
		identity, err := age.NewScryptIdentity(passphrase)
		if err != nil {
			return nil, fmt.Errorf("creating scrypt identity: %w", err)
		}
		r, err := age.Decrypt(bytes.NewReader(data), identity)
		if err != nil {
			return nil, fmt.Errorf("decrypting key file: %w", err)
		}
		if data, err = io.ReadAll(r); err != nil {
			return nil, fmt.Errorf("reading decrypted key file: %w", err)
		}
	}

	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing key file: %w", err)
	}
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			return NewAgeKeyStore(x), nil
		}
	}
	return nil, fmt.Errorf("no X25519 identity found in key file %s", path)
}

// KeyFileExists reports whether a key file is present at path.
func KeyFileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// KeyFileProtected reports whether the key file at path needs a passphrase.
func KeyFileProtected(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return isProtected([]byte(line)), nil
}

func isProtected(data []byte) bool {
	return bytes.HasPrefix(data, []byte(protectedHeader))
}
