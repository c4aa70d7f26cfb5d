package digest

import (
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var content = []byte("console.log(1)")

func TestSumKnownVectors(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		full string
	}{
		{"default md5 hex", Options{}, "6114f5adc373accd7b2051bd87078f62"},
		{"sha256", Options{Algorithm: "sha256"}, "0a286891c11c056e1ab5bfc25bf5d6b2f5b06d38eac10944f678fd8a2e70c393"},
		{"md5 base64", Options{Encoding: "base64"}, "YRT1rcNzrM17IFG9hwePYg=="},
		{"salted md5", Options{Salt: []byte("pepper")}, "f8285055c7886aaaa5bce6d63fdd21a6"},
		{"sha1 base32", Options{Algorithm: "sha1", Encoding: "base32"}, "zsyjh24apz7x3btqt7f7p4i2qwsmazou"},
		{"sha3-256", Options{Algorithm: "sha3-256"}, "ed407d5789aa729a16e32d4f379b0d719b58798af005e375694af3b656c5d3e3"},
		{"blake2b-256", Options{Algorithm: "blake2b-256"}, "118c5648994cc72877d6aadffb20edcdfb865099b227c1d5edcf15096d365277"},
		{"case insensitive names", Options{Algorithm: "SHA256", Encoding: "HEX"}, "0a286891c11c056e1ab5bfc25bf5d6b2f5b06d38eac10944f678fd8a2e70c393"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := New(tt.opts)
			require.NoError(t, err)

			res := h.Sum(content)
			assert.Equal(t, tt.full, res.Full)
			assert.Equal(t, tt.full[:DefaultLength], res.Short)
		})
	}
}

func TestSumIsDeterministic(t *testing.T) {
	for _, algo := range Algorithms() {
		t.Run(algo, func(t *testing.T) {
			h := MustNew(Options{Algorithm: algo})
			a := h.Sum(content)
			b := h.Sum([]byte("console.log(1)"))
			assert.Equal(t, a, b)
			assert.NotEqual(t, a.Full, h.Sum([]byte("console.log(2)")).Full)
		})
	}
}

func TestSaltChangesDigest(t *testing.T) {
	for _, algo := range Algorithms() {
		t.Run(algo, func(t *testing.T) {
			plain := MustNew(Options{Algorithm: algo}).Sum(content)
			salted := MustNew(Options{Algorithm: algo, Salt: []byte("s")}).Sum(content)
			assert.NotEqual(t, plain.Full, salted.Full)
		})
	}
}

func TestLength(t *testing.T) {
	t.Run("truncates", func(t *testing.T) {
		h := MustNew(Options{Length: 8})
		assert.Equal(t, "6114f5ad", h.Short(content))
	})

	t.Run("longer than digest keeps full digest", func(t *testing.T) {
		h := MustNew(Options{Algorithm: "xxh3", Length: 64})
		res := h.Sum(content)
		assert.Len(t, res.Full, 16)
		assert.Equal(t, res.Full, res.Short)
	})

	t.Run("negative is rejected", func(t *testing.T) {
		_, err := New(Options{Length: -1})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidLength))
	})
}

func TestUnknownConfiguration(t *testing.T) {
	_, err := New(Options{Algorithm: "crc7"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownAlgorithm))
	assert.Contains(t, strings.Join(errors.GetAllHints(err), " "), "sha256")

	_, err = New(Options{Encoding: "base91"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownEncoding))
}

func TestSaltIsCopied(t *testing.T) {
	salt := []byte("abc")
	h := MustNew(Options{Salt: salt})
	before := h.Sum(content)
	salt[0] = 'z'
	assert.Equal(t, before, h.Sum(content))
}

func TestConcurrentSum(t *testing.T) {
	h := MustNew(Options{Algorithm: "blake3", Encoding: "base58"})
	want := h.Sum(content)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, h.Sum(content))
		}()
	}
	wg.Wait()
}
