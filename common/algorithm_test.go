package common

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAlgorithm(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	p256, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	p384, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	edPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		name    string
		pub     crypto.PublicKey
		sig     SignatureAlgorithm
		hash    HashAlgorithm
		want    Algorithm
		wantErr bool
	}{
		{"rsa default", &rsaKey.PublicKey, SignatureDefault, HashDefault, Algorithm{RSAPKCS1v15, SHA256}, false},
		{"rsa pss sha512", &rsaKey.PublicKey, RSAPSS, SHA512, Algorithm{RSAPSS, SHA512}, false},
		{"rsa with ecdsa scheme", &rsaKey.PublicKey, ECDSAP256, SHA256, Algorithm{}, true},
		{"p256 default", &p256.PublicKey, SignatureDefault, HashDefault, Algorithm{ECDSAP256, SHA256}, false},
		{"p384 any hash", &p384.PublicKey, ECDSAP384, SHA512, Algorithm{ECDSAP384, SHA512}, false},
		{"curve mismatch", &p384.PublicKey, ECDSAP256, SHA256, Algorithm{}, true},
		{"ecdsa with pss", &p256.PublicKey, RSAPSS, SHA256, Algorithm{}, true},
		{"unknown hash", &rsaKey.PublicKey, RSAPKCS1v15, HashAlgorithm(42), Algorithm{}, true},
		{"ed25519", edPub, SignatureDefault, SHA256, Algorithm{}, true},
		{"nil key", nil, SignatureDefault, SHA256, Algorithm{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveAlgorithm(tt.pub, tt.sig, tt.hash)
			if tt.wantErr {
				var cryptoErr *CryptoError
				require.Error(t, err)
				assert.True(t, errors.As(err, &cryptoErr))
				assert.Equal(t, "resolve algorithm", cryptoErr.Op)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAlgorithms(t *testing.T) {
	h, err := ParseHashAlgorithm("sha-384")
	require.NoError(t, err)
	assert.Equal(t, SHA384, h)
	assert.Equal(t, crypto.SHA384, h.Hash())

	_, err = ParseHashAlgorithm("md5")
	assert.Error(t, err)

	s, err := ParseSignatureAlgorithm("rsa-pss")
	require.NoError(t, err)
	assert.Equal(t, RSAPSS, s)

	_, err = ParseSignatureAlgorithm("dsa")
	assert.Error(t, err)
}

func TestHashOIDRoundTrip(t *testing.T) {
	for _, h := range []crypto.Hash{crypto.SHA256, crypto.SHA384, crypto.SHA512} {
		got, ok := HashFromOID(HashOID(h))
		assert.True(t, ok)
		assert.Equal(t, h, got)
	}
}

func TestCapabilitiesListRSA2048AndSHA256(t *testing.T) {
	caps := SupportedCapabilities()
	assert.True(t, caps.SupportsHash("SHA-256"))
	assert.True(t, caps.SupportsSignature("RSA-2048"))
	assert.False(t, caps.SupportsHash("MD5"))
	assert.Contains(t, caps.Standards, "RFC-3161")
}

func TestRectangle(t *testing.T) {
	r := RectangleFromCorners(300, 150, 100, 100)
	assert.Equal(t, Rectangle{X: 100, Y: 100, Width: 200, Height: 50}, r)
	assert.Equal(t, [4]float64{100, 100, 300, 150}, r.Corners())
	assert.True(t, r.Usable())
	assert.False(t, Rectangle{Width: 0, Height: 10}.Usable())
	assert.True(t, r.Equal(Rectangle{X: 100.005, Y: 100, Width: 200, Height: 50}, 0.01))
}
