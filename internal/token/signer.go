package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/soulteary/herald-captcha/internal/random"
)

// KeySize is the secret size for both signers (BLAKE3 key, Ed25519 seed).
const KeySize = 32

// Signer kinds accepted by NewLazySigner.
const (
	SignerBLAKE3  = "blake3"
	SignerEd25519 = "ed25519"
)

// ErrUnknownSigner is returned for an unsupported signer kind.
var ErrUnknownSigner = errors.New("unknown signer kind")

// Signer is a deterministic keyed function over a message.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	// Size is the signature length in bytes.
	Size() int
}

// KeyedHashSigner signs with BLAKE3 in keyed mode.
type KeyedHashSigner struct {
	key []byte
}

// NewKeyedHashSigner returns a BLAKE3 keyed-hash signer. key must be KeySize bytes.
func NewKeyedHashSigner(key []byte) (*KeyedHashSigner, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("blake3 key must be %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &KeyedHashSigner{key: k}, nil
}

func (s *KeyedHashSigner) Sign(msg []byte) ([]byte, error) {
	h, err := blake3.NewKeyed(s.key)
	if err != nil {
		return nil, err
	}
	_, _ = h.Write(msg)
	return h.Sum(nil), nil
}

func (s *KeyedHashSigner) Size() int { return KeySize }

// Ed25519Signer produces Ed25519 signatures, which are deterministic for a fixed key.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewEd25519Signer derives the keypair from a KeySize seed.
func NewEd25519Signer(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Ed25519Signer{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

func (s *Ed25519Signer) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

func (s *Ed25519Signer) Size() int { return ed25519.SignatureSize }

// LazySigner creates its secret on first use. The secret lives for the process
// lifetime and is never rotated or persisted.
type LazySigner struct {
	kind   string
	keyFn  func(n int) ([]byte, error)
	once   sync.Once
	signer Signer
	err    error
}

// NewLazySigner returns a signer of the given kind. keyFn supplies the secret bytes;
// nil means crypto/rand.
func NewLazySigner(kind string, keyFn func(n int) ([]byte, error)) (*LazySigner, error) {
	switch kind {
	case "":
		kind = SignerBLAKE3
	case SignerBLAKE3, SignerEd25519:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSigner, kind)
	}
	if keyFn == nil {
		keyFn = random.Bytes
	}
	return &LazySigner{kind: kind, keyFn: keyFn}, nil
}

// Kind returns the signer kind.
func (l *LazySigner) Kind() string { return l.kind }

// Size is known from the kind, so it does not create the secret.
func (l *LazySigner) Size() int {
	if l.kind == SignerEd25519 {
		return ed25519.SignatureSize
	}
	return KeySize
}

func (l *LazySigner) init() {
	key, err := l.keyFn(KeySize)
	if err != nil {
		l.err = fmt.Errorf("create signing secret: %w", err)
		return
	}
	if l.kind == SignerEd25519 {
		l.signer, l.err = NewEd25519Signer(key)
		return
	}
	l.signer, l.err = NewKeyedHashSigner(key)
}

func (l *LazySigner) Sign(msg []byte) ([]byte, error) {
	l.once.Do(l.init)
	if l.err != nil {
		return nil, l.err
	}
	return l.signer.Sign(msg)
}
