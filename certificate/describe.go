package certificate

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"time"
)

// Info is a printable summary of a certificate.
type Info struct {
	Subject           string    `json:"subject"`
	CommonName        string    `json:"common_name"`
	Issuer            string    `json:"issuer"`
	SerialNumber      string    `json:"serial_number"`
	NotBefore         time.Time `json:"not_before"`
	NotAfter          time.Time `json:"not_after"`
	KeyAlgorithm      string    `json:"key_algorithm"`
	KeySize           int       `json:"key_size"`
	KeyUsage          []string  `json:"key_usage,omitempty"`
	ExtKeyUsage       []string  `json:"ext_key_usage,omitempty"`
	SelfSigned        bool      `json:"self_signed"`
	IsCA              bool      `json:"is_ca"`
	FingerprintSHA256 string    `json:"fingerprint_sha256"`
}

// Describe summarises cert.
func Describe(cert *x509.Certificate) Info {
	fp := sha256.Sum256(cert.Raw)
	info := Info{
		Subject:           cert.Subject.String(),
		CommonName:        cert.Subject.CommonName,
		Issuer:            cert.Issuer.String(),
		SerialNumber:      hex.EncodeToString(cert.SerialNumber.Bytes()),
		NotBefore:         cert.NotBefore,
		NotAfter:          cert.NotAfter,
		KeyAlgorithm:      cert.PublicKeyAlgorithm.String(),
		KeyUsage:          keyUsageNames(cert.KeyUsage),
		ExtKeyUsage:       extKeyUsageNames(cert),
		SelfSigned:        isSelfSigned(cert),
		IsCA:              cert.IsCA,
		FingerprintSHA256: hex.EncodeToString(fp[:]),
	}
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		info.KeySize = pub.N.BitLen()
	case *ecdsa.PublicKey:
		info.KeySize = pub.Curve.Params().BitSize
	}
	return info
}

var keyUsages = []struct {
	bit  x509.KeyUsage
	name string
}{
	{x509.KeyUsageDigitalSignature, "digitalSignature"},
	{x509.KeyUsageContentCommitment, "nonRepudiation"},
	{x509.KeyUsageKeyEncipherment, "keyEncipherment"},
	{x509.KeyUsageDataEncipherment, "dataEncipherment"},
	{x509.KeyUsageKeyAgreement, "keyAgreement"},
	{x509.KeyUsageCertSign, "keyCertSign"},
	{x509.KeyUsageCRLSign, "cRLSign"},
	{x509.KeyUsageEncipherOnly, "encipherOnly"},
	{x509.KeyUsageDecipherOnly, "decipherOnly"},
}

func keyUsageNames(ku x509.KeyUsage) []string {
	var out []string
	for _, u := range keyUsages {
		if ku&u.bit != 0 {
			out = append(out, u.name)
		}
	}
	return out
}

var extKeyUsages = map[x509.ExtKeyUsage]string{
	x509.ExtKeyUsageAny:             "any",
	x509.ExtKeyUsageServerAuth:      "serverAuth",
	x509.ExtKeyUsageClientAuth:      "clientAuth",
	x509.ExtKeyUsageCodeSigning:     "codeSigning",
	x509.ExtKeyUsageEmailProtection: "emailProtection",
	x509.ExtKeyUsageTimeStamping:    "timeStamping",
	x509.ExtKeyUsageOCSPSigning:     "OCSPSigning",
}

func extKeyUsageNames(cert *x509.Certificate) []string {
	var out []string
	for _, u := range cert.ExtKeyUsage {
		if name, ok := extKeyUsages[u]; ok {
			out = append(out, name)
		}
	}
	for _, oid := range cert.UnknownExtKeyUsage {
		if oid.String() == "1.3.6.1.5.5.7.3.36" {
			out = append(out, "documentSigning")
			continue
		}
		out = append(out, oid.String())
	}
	return out
}
