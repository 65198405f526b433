// Package config reads the engine settings from TOML or YAML files.
package config

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/asaskevich/govalidator"
	"gopkg.in/yaml.v3"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/batch"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/certificate"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/sign"
)

func init() {
	govalidator.SetFieldsRequiredByDefault(true)
}

var DefaultLocation = "./pdfsign.conf" // Default location of the config file

// Format is the encoding of a config file.
type Format string

const (
	TOML Format = "toml"
	YAML Format = "yaml"
)

// Config is the root of the config.
type Config struct {
	Signing Signing `toml:"signing" yaml:"signing" valid:"optional"`
	Trust   Trust   `toml:"trust" yaml:"trust" valid:"optional"`
	Batch   Batch   `toml:"batch" yaml:"batch" valid:"optional"`
}

// Signing holds the defaults for new signatures.
type Signing struct {
	Hash            string        `toml:"hash" yaml:"hash" valid:"optional"`
	Algorithm       string        `toml:"algorithm" yaml:"algorithm" valid:"optional"`
	Reason          string        `toml:"reason" yaml:"reason" valid:"optional,length(0|256)"`
	Location        string        `toml:"location" yaml:"location" valid:"optional,length(0|256)"`
	Contact         string        `toml:"contact" yaml:"contact" valid:"optional,length(0|256)"`
	TSAURL          string        `toml:"tsa_url" yaml:"tsa_url" valid:"optional,url"`
	TSAUsername     string        `toml:"tsa_username" yaml:"tsa_username" valid:"optional"`
	TSAPassword     string        `toml:"tsa_password" yaml:"tsa_password" valid:"optional"`
	TSATimeout      time.Duration `toml:"tsa_timeout" yaml:"tsa_timeout" valid:"optional"`
	EmbedRevocation bool          `toml:"embed_revocation" yaml:"embed_revocation" valid:"optional"`
}

// Trust lists PEM files with trusted roots and extra intermediates.
type Trust struct {
	Anchors         []string `toml:"anchors" yaml:"anchors" valid:"optional"`
	Intermediates   []string `toml:"intermediates" yaml:"intermediates" valid:"optional"`
	CheckRevocation bool     `toml:"check_revocation" yaml:"check_revocation" valid:"optional"`
}

// Batch mirrors batch.Config. Zero values keep the batch defaults.
type Batch struct {
	MaxParallel       int           `toml:"max_parallel" yaml:"max_parallel" valid:"optional,range(1|1024)"`
	MaxBatchSize      int           `toml:"max_batch_size" yaml:"max_batch_size" valid:"optional,range(1|100000)"`
	MaxBatchWait      time.Duration `toml:"max_batch_wait" yaml:"max_batch_wait" valid:"optional"`
	UseContextPooling *bool         `toml:"use_context_pooling" yaml:"use_context_pooling" valid:"optional"`
	ContinueOnError   *bool         `toml:"continue_on_error" yaml:"continue_on_error" valid:"optional"`
	PoolMaxSize       int           `toml:"pool_max_size" yaml:"pool_max_size" valid:"optional,range(1|10000)"`
	PoolMaxAge        time.Duration `toml:"pool_max_age" yaml:"pool_max_age" valid:"optional"`
	PoolMaxIdle       time.Duration `toml:"pool_max_idle" yaml:"pool_max_idle" valid:"optional"`
}

// Error names the offending setting.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// Default returns a config with SHA-256 and the batch defaults.
func Default() Config {
	return Config{Signing: Signing{Hash: "SHA-256"}}
}

// ValidateFields validates all the fields of the config.
func (c Config) ValidateFields() error {
	if _, err := govalidator.ValidateStruct(c); err != nil {
		if fe, ok := firstFieldError(err); ok {
			return &Error{Field: strings.Join(append(fe.Path, fe.Name), "."), Msg: fe.Err.Error()}
		}
		return &Error{Field: "config", Msg: err.Error()}
	}

	if _, err := common.ParseHashAlgorithm(c.Signing.Hash); err != nil {
		return &Error{Field: "signing.hash", Msg: err.Error()}
	}
	if _, err := common.ParseSignatureAlgorithm(c.Signing.Algorithm); err != nil {
		return &Error{Field: "signing.algorithm", Msg: err.Error()}
	}
	if c.Signing.TSAURL == "" && c.Signing.TSAUsername != "" {
		return &Error{Field: "signing.tsa_username", Msg: "set without tsa_url"}
	}
	for name, d := range map[string]time.Duration{
		"signing.tsa_timeout":  c.Signing.TSATimeout,
		"batch.max_batch_wait": c.Batch.MaxBatchWait,
		"batch.pool_max_age":   c.Batch.PoolMaxAge,
		"batch.pool_max_idle":  c.Batch.PoolMaxIdle,
	} {
		if d < 0 {
			return &Error{Field: name, Msg: "must not be negative"}
		}
	}
	if c.Batch.PoolMaxAge > 0 && c.Batch.PoolMaxIdle > c.Batch.PoolMaxAge {
		return &Error{Field: "batch.pool_max_idle", Msg: "exceeds pool_max_age"}
	}
	return nil
}

// firstFieldError digs through the nested error lists of ValidateStruct.
func firstFieldError(err error) (govalidator.Error, bool) {
	switch e := err.(type) {
	case govalidator.Error:
		return e, true
	case govalidator.Errors:
		for _, inner := range e.Errors() {
			if fe, ok := firstFieldError(inner); ok {
				return fe, true
			}
		}
	}
	return govalidator.Error{}, false
}

// Read loads and validates the file at path. Files ending in .yaml or
// .yml are YAML, everything else TOML.
func Read(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config file is missing: %w", err)
	}
	format := TOML
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = YAML
	}
	c, err := Parse(data, format)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	// Relative trust paths are relative to the config file.
	dir := filepath.Dir(path)
	for _, list := range [][]string{c.Trust.Anchors, c.Trust.Intermediates} {
		for i, p := range list {
			if !filepath.IsAbs(p) {
				list[i] = filepath.Join(dir, p)
			}
		}
	}
	return c, nil
}

// Parse decodes and validates data on top of Default.
func Parse(data []byte, format Format) (Config, error) {
	c := Default()
	switch format {
	case TOML:
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
			return Config{}, fmt.Errorf("config: decode toml: %w", err)
		}
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("config: decode yaml: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("config: unknown format %q", format)
	}
	if err := c.ValidateFields(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// SignOptions converts the signing section. Per call values such as the
// signer name and appearance are left to the caller.
func (c Config) SignOptions() (*sign.Options, error) {
	h, err := common.ParseHashAlgorithm(c.Signing.Hash)
	if err != nil {
		return nil, &Error{Field: "signing.hash", Msg: err.Error()}
	}
	alg, err := common.ParseSignatureAlgorithm(c.Signing.Algorithm)
	if err != nil {
		return nil, &Error{Field: "signing.algorithm", Msg: err.Error()}
	}
	return &sign.Options{
		Reason:      c.Signing.Reason,
		Location:    c.Signing.Location,
		ContactInfo: c.Signing.Contact,
		Hash:        h,
		Algorithm:   alg,
		TSA: sign.TSA{
			URL:      c.Signing.TSAURL,
			Username: c.Signing.TSAUsername,
			Password: c.Signing.TSAPassword,
			Timeout:  c.Signing.TSATimeout,
		},
		EmbedRevocation: c.Signing.EmbedRevocation,
	}, nil
}

// BatchConfig overlays the batch section on batch.DefaultConfig.
func (c Config) BatchConfig() batch.Config {
	cfg := batch.DefaultConfig()
	b := c.Batch
	if b.MaxParallel > 0 {
		cfg.MaxParallel = b.MaxParallel
	}
	if b.MaxBatchSize > 0 {
		cfg.MaxBatchSize = b.MaxBatchSize
	}
	if b.MaxBatchWait > 0 {
		cfg.MaxBatchWait = b.MaxBatchWait
	}
	if b.UseContextPooling != nil {
		cfg.UseContextPooling = *b.UseContextPooling
	}
	if b.ContinueOnError != nil {
		cfg.ContinueOnError = *b.ContinueOnError
	}
	cfg.Pool = batch.PoolConfig{MaxSize: b.PoolMaxSize, MaxAge: b.PoolMaxAge, MaxIdle: b.PoolMaxIdle}
	return cfg
}

// LoadTrust reads the anchor and intermediate files.
func (t Trust) LoadTrust() (anchors, intermediates []*x509.Certificate, err error) {
	if anchors, err = readCertificates(t.Anchors); err != nil {
		return nil, nil, err
	}
	if intermediates, err = readCertificates(t.Intermediates); err != nil {
		return nil, nil, err
	}
	return anchors, intermediates, nil
}

func readCertificates(paths []string) ([]*x509.Certificate, error) {
	var out []*x509.Certificate
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("config: trust file: %w", err)
		}
		certs, err := certificate.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", p, err)
		}
		out = append(out, certs...)
	}
	return out, nil
}
