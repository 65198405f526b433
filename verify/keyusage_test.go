package verify

import (
	"crypto/x509"
	"encoding/asn1"
	"testing"
)

func TestValidateKeyUsage(t *testing.T) {
	tests := []struct {
		name        string
		keyUsage    x509.KeyUsage
		extKeyUsage []x509.ExtKeyUsage
		options     *VerifyOptions
		expectKU    bool
		expectEKU   bool
		kuError     string
		ekuError    string
	}{
		{
			name:        "Valid document signing certificate",
			keyUsage:    x509.KeyUsageDigitalSignature,
			extKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsage(36)}, // Document Signing EKU
			options:     DefaultVerifyOptions(),
			expectKU:    true,
			expectEKU:   true,
		},
		{
			name:        "Valid with non-repudiation",
			keyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
			extKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsage(36)}, // Document Signing EKU
			options:     DefaultVerifyOptions(),
			expectKU:    true,
			expectEKU:   true,
		},
		{
			name:        "Email protection EKU (allowed alternative)",
			keyUsage:    x509.KeyUsageDigitalSignature,
			extKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection},
			options:     DefaultVerifyOptions(),
			expectKU:    true,
			expectEKU:   true,
			ekuError:    "certificate uses acceptable but not preferred Extended Key Usage",
		},
		{
			name:        "Client auth EKU (allowed alternative)",
			keyUsage:    x509.KeyUsageDigitalSignature,
			extKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
			options:     DefaultVerifyOptions(),
			expectKU:    true,
			expectEKU:   true,
			ekuError:    "certificate uses acceptable but not preferred Extended Key Usage",
		},
		{
			name:        "ExtKeyUsageAny (too permissive)",
			keyUsage:    x509.KeyUsageDigitalSignature,
			extKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
			options:     DefaultVerifyOptions(),
			expectKU:    true,
			expectEKU:   true,
			ekuError:    "certificate uses ExtKeyUsageAny which is too permissive for PDF signing",
		},
		{
			name:        "Missing digital signature KU",
			keyUsage:    x509.KeyUsageKeyEncipherment,
			extKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsage(36)}, // Document Signing EKU
			options:     DefaultVerifyOptions(),
			expectKU:    false,
			expectEKU:   true,
			kuError:     "certificate does not have Digital Signature key usage",
		},
		{
			name:        "Invalid EKU",
			keyUsage:    x509.KeyUsageDigitalSignature,
			extKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
			options:     DefaultVerifyOptions(),
			expectKU:    true,
			expectEKU:   false,
			ekuError:    "certificate does not have suitable Extended Key Usage for PDF signing",
		},
		{
			name:        "No EKU extension",
			keyUsage:    x509.KeyUsageDigitalSignature,
			extKeyUsage: []x509.ExtKeyUsage{},
			options:     DefaultVerifyOptions(),
			expectKU:    true,
			expectEKU:   false,
			ekuError:    "certificate has no Extended Key Usage extension",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create a mock certificate with the test key usages
			cert := &x509.Certificate{
				KeyUsage:    tt.keyUsage,
				ExtKeyUsage: tt.extKeyUsage,
			}

			kuValid, kuError, ekuValid, ekuError := validateKeyUsage(cert, tt.options)

			if kuValid != tt.expectKU {
				t.Errorf("Expected KU valid %v, got %v", tt.expectKU, kuValid)
			}

			if ekuValid != tt.expectEKU {
				t.Errorf("Expected EKU valid %v, got %v", tt.expectEKU, ekuValid)
			}

			if tt.kuError != "" && kuError != tt.kuError {
				t.Errorf("Expected KU error '%s', got '%s'", tt.kuError, kuError)
			} else if tt.kuError == "" && kuError != "" {
				t.Errorf("Expected no KU error, got '%s'", kuError)
			}

			if tt.ekuError != "" && ekuError != tt.ekuError {
				t.Errorf("Expected EKU error '%s', got '%s'", tt.ekuError, ekuError)
			} else if tt.ekuError == "" && ekuError != "" {
				t.Errorf("Expected no EKU error, got '%s'", ekuError)
			}
		})
	}
}

func TestValidateKeyUsageDocumentSigningOID(t *testing.T) {
	// crypto/x509 reports the RFC 9336 usage as unknown.
	cert := &x509.Certificate{
		KeyUsage:           x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		UnknownExtKeyUsage: []asn1.ObjectIdentifier{{1, 3, 6, 1, 5, 5, 7, 3, 36}},
	}
	options := DefaultVerifyOptions()
	options.RequireNonRepudiation = true

	kuValid, kuError, ekuValid, ekuError := validateKeyUsage(cert, options)
	if !kuValid || kuError != "" {
		t.Errorf("expected valid key usage, got %v %q", kuValid, kuError)
	}
	if !ekuValid || ekuError != "" {
		t.Errorf("expected valid extended key usage, got %v %q", ekuValid, ekuError)
	}
}

func TestValidateKeyUsageNonRepudiation(t *testing.T) {
	options := DefaultVerifyOptions()
	options.RequireNonRepudiation = true
	cert := &x509.Certificate{KeyUsage: x509.KeyUsageKeyEncipherment, ExtKeyUsage: []x509.ExtKeyUsage{ExtKeyUsageDocumentSigning}}

	kuValid, kuError, _, _ := validateKeyUsage(cert, options)
	if kuValid {
		t.Fatal("expected invalid key usage")
	}
	want := "certificate does not have Digital Signature key usage; certificate does not have Non-Repudiation key usage"
	if kuError != want {
		t.Errorf("expected %q, got %q", want, kuError)
	}
}

func TestDefaultVerifyOptions(t *testing.T) {
	options := DefaultVerifyOptions()

	if !options.RequireDigitalSignatureKU {
		t.Error("Expected RequireDigitalSignatureKU to be true")
	}

	// SECURITY: Default should NOT allow embedded certificates as roots
	if options.AllowEmbeddedCertificatesAsRoots {
		t.Error("Expected AllowEmbeddedCertificatesAsRoots to be false by default (security)")
	}

	hasDocumentSigning := false
	for _, eku := range options.RequiredEKUs {
		if eku == ExtKeyUsageDocumentSigning {
			hasDocumentSigning = true
		}
	}
	if !hasDocumentSigning {
		t.Error("Expected Document Signing EKU (36) in required EKUs")
	}

	hasEmailProtection := false
	hasClientAuth := false
	for _, eku := range options.AllowedEKUs {
		switch eku {
		case x509.ExtKeyUsageEmailProtection:
			hasEmailProtection = true
		case x509.ExtKeyUsageClientAuth:
			hasClientAuth = true
		}
	}
	if !hasEmailProtection {
		t.Error("Expected Email Protection EKU in allowed EKUs")
	}
	if !hasClientAuth {
		t.Error("Expected Client Auth EKU in allowed EKUs")
	}
}
