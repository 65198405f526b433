// Package revocation holds the Adobe revocation information attribute and
// fetches OCSP responses and CRLs for it.
package revocation

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"

	"golang.org/x/crypto/ocsp"
)

// OID of the adbe-revocationInfoArchival signed attribute.
var OIDRevocationInfoArchival = asn1.ObjectIdentifier{1, 2, 840, 113583, 1, 1, 8}

// InfoArchival is the signed attribute carrying the revocation
// information of the embedded certificates.
type InfoArchival struct {
	CRL   CRL   `asn1:"tag:0,optional,explicit"`
	OCSP  OCSP  `asn1:"tag:1,optional,explicit"`
	Other Other `asn1:"tag:2,optional,explicit"`
}

// AddCRL embeds the DER bytes of a downloaded CRL.
func (r *InfoArchival) AddCRL(b []byte) error {
	r.CRL = append(r.CRL, asn1.RawValue{FullBytes: b})
	return nil
}

// AddOCSP embeds the raw bytes of an OCSP response.
func (r *InfoArchival) AddOCSP(b []byte) error {
	r.OCSP = append(r.OCSP, asn1.RawValue{FullBytes: b})
	return nil
}

// Empty reports whether nothing was embedded.
func (r *InfoArchival) Empty() bool {
	return len(r.CRL) == 0 && len(r.OCSP) == 0
}

// EncodedLen is the space the embedded responses take in a hex encoded
// signature container.
func (r *InfoArchival) EncodedLen() int {
	n := 0
	for _, c := range r.CRL {
		n += hex.EncodedLen(len(c.FullBytes))
	}
	for _, o := range r.OCSP {
		n += hex.EncodedLen(len(o.FullBytes))
	}
	return n
}

// IsRevoked reports whether an embedded CRL lists c or an embedded OCSP
// response for c says revoked.
func (r *InfoArchival) IsRevoked(c *x509.Certificate) bool {
	if c == nil || c.SerialNumber == nil {
		return false
	}
	for _, crlRaw := range r.CRL {
		crl, err := x509.ParseRevocationList(crlRaw.FullBytes)
		if err != nil {
			continue
		}
		for _, rc := range crl.RevokedCertificateEntries {
			if rc.SerialNumber.Cmp(c.SerialNumber) == 0 {
				return true
			}
		}
	}
	for _, raw := range r.OCSP {
		resp, err := ocsp.ParseResponse(raw.FullBytes, nil)
		if err != nil || resp.SerialNumber == nil {
			continue
		}
		if resp.SerialNumber.Cmp(c.SerialNumber) == 0 && resp.Status == ocsp.Revoked {
			return true
		}
	}
	return false
}

// CRL contains the raw bytes of a pkix.CertificateList and can be parsed with
// x509.ParseRevocationList.
type CRL []asn1.RawValue

// OCSP contains the raw bytes of an OCSP response and can be parsed with
// x/crypto/ocsp.ParseResponse.
type OCSP []asn1.RawValue

// Other is the ASN.1 OtherRevInfo.
type Other struct {
	Type  asn1.ObjectIdentifier
	Value []byte
}
