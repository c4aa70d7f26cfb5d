// Package digest computes content fingerprints: a full digest and a truncated
// display digest suitable for embedding in file names.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

const (
	DefaultAlgorithm = "md5"
	DefaultEncoding  = "hex"
	DefaultLength    = 20
)

var (
	ErrUnknownAlgorithm = errors.New("unknown digest algorithm")
	ErrUnknownEncoding  = errors.New("unknown digest encoding")
	ErrInvalidLength    = errors.New("invalid digest length")
)

// Options configures a Hasher. Zero values select the defaults.
type Options struct {
	Algorithm string
	Encoding  string
	Length    int
	// Salt is written after the content.
	Salt []byte
}

// Result is the fingerprint of one piece of content.
type Result struct {
	Full  string
	Short string
}

type sumFunc func(content, salt []byte) []byte

// Hasher is immutable and safe for concurrent use.
type Hasher struct {
	opts   Options
	sum    sumFunc
	encode func([]byte) string
}

var algorithms = map[string]sumFunc{
	"md5":         fromHash(md5.New),
	"sha1":        fromHash(sha1.New),
	"sha256":      fromHash(sha256.New),
	"sha512":      fromHash(sha512.New),
	"sha3-256":    fromHash(sha3.New256),
	"blake2b-256": fromHash(newBlake2b256),
	"blake3":      fromHash(func() hash.Hash { return blake3.New() }),
	"xxh3":        sumXXH3,
	"xxh3-128":    sumXXH3128,
}

var lowerBase32 = base32.StdEncoding.WithPadding(base32.NoPadding)

var encodings = map[string]func([]byte) string{
	"hex":       hex.EncodeToString,
	"base64":    base64.StdEncoding.EncodeToString,
	"base64url": base64.RawURLEncoding.EncodeToString,
	"base32": func(b []byte) string {
		return strings.ToLower(lowerBase32.EncodeToString(b))
	},
	"base58": base58.Encode,
}

// Algorithms returns the supported algorithm names, sorted.
func Algorithms() []string { return sortedKeys(algorithms) }

// Encodings returns the supported encoding names, sorted.
func Encodings() []string { return sortedKeys(encodings) }

// New validates opts and returns a Hasher. All configuration errors surface
// here; Sum never fails.
func New(opts Options) (*Hasher, error) {
	if opts.Algorithm == "" {
		opts.Algorithm = DefaultAlgorithm
	}
	if opts.Encoding == "" {
		opts.Encoding = DefaultEncoding
	}
	if opts.Length < 0 {
		return nil, errors.Wrapf(ErrInvalidLength, "length %d", opts.Length)
	}
	if opts.Length == 0 {
		opts.Length = DefaultLength
	}

	algo := strings.ToLower(opts.Algorithm)
	sum, ok := algorithms[algo]
	if !ok {
		return nil, errors.WithHintf(
			errors.Wrapf(ErrUnknownAlgorithm, "%q", opts.Algorithm),
			"supported algorithms: %s", strings.Join(Algorithms(), ", "),
		)
	}
	enc := strings.ToLower(opts.Encoding)
	encode, ok := encodings[enc]
	if !ok {
		return nil, errors.WithHintf(
			errors.Wrapf(ErrUnknownEncoding, "%q", opts.Encoding),
			"supported encodings: %s", strings.Join(Encodings(), ", "),
		)
	}

	opts.Algorithm = algo
	opts.Encoding = enc
	if opts.Salt != nil {
		opts.Salt = slices.Clone(opts.Salt)
	}
	return &Hasher{opts: opts, sum: sum, encode: encode}, nil
}

// MustNew is New for static configurations known to be valid.
func MustNew(opts Options) *Hasher {
	h, err := New(opts)
	if err != nil {
		panic(err)
	}
	return h
}

// Options returns the normalized options the Hasher was built with.
func (h *Hasher) Options() Options { return h.opts }

// Sum fingerprints content.
func (h *Hasher) Sum(content []byte) Result {
	full := h.encode(h.sum(content, h.opts.Salt))
	short := full
	if len(short) > h.opts.Length {
		short = short[:h.opts.Length]
	}
	return Result{Full: full, Short: short}
}

// Short is a convenience for Sum(content).Short.
func (h *Hasher) Short(content []byte) string {
	return h.Sum(content).Short
}

func fromHash(newHash func() hash.Hash) sumFunc {
	return func(content, salt []byte) []byte {
		h := newHash()
		h.Write(content)
		if len(salt) > 0 {
			h.Write(salt)
		}
		return h.Sum(nil)
	}
}

func newBlake2b256() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// only fails for keys longer than 64 bytes
		panic(err)
	}
	return h
}

func salted(content, salt []byte) []byte {
	if len(salt) == 0 {
		return content
	}
	buf := make([]byte, 0, len(content)+len(salt))
	buf = append(buf, content...)
	return append(buf, salt...)
}

func sumXXH3(content, salt []byte) []byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], xxh3.Hash(salted(content, salt)))
	return out[:]
}

func sumXXH3128(content, salt []byte) []byte {
	b := xxh3.Hash128(salted(content, salt)).Bytes()
	return b[:]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
