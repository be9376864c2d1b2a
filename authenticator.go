package httpsepreload

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// Verify checks that signature is an RSA-PSS/SHA-256 signature over the whole
// of payload under key. Any salt length the signer chose is accepted.
func Verify(payload, signature []byte, key *rsa.PublicKey) error {
	if key == nil {
		return authError(errors.New("no public key"))
	}
	if len(signature) == 0 {
		return authError(errors.New("payload is not signed"))
	}
	digest := sha256.Sum256(payload)
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}
	if err := rsa.VerifyPSS(key, crypto.SHA256, digest[:], signature, opts); err != nil {
		return authError(err)
	}
	return nil
}

func authError(err error) *BuildError {
	return &BuildError{Stage: StageAuthenticate, Kind: ErrAuthentication, Err: err}
}

// ParsePublicKey reads an RSA public key in PEM (PKIX "PUBLIC KEY" or PKCS#1
// "RSA PUBLIC KEY") or raw DER form.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		der = block.Bytes
	}
	if pub, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, not RSA", pub)
		}
		return rsaPub, nil
	}
	pub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, errors.New("not a PKIX or PKCS#1 RSA public key")
	}
	return pub, nil
}

// LoadPublicKey reads and parses the public key at path.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := ParsePublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return key, nil
}
