package provider

import (
	"fmt"
	"os"

	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/config"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/utils"
	"gopkg.in/yaml.v3"
)

// fileEntry is one provider in a providers file. Pointer fields distinguish
// "not set" from false so overrides of built-in providers stay partial.
type fileEntry struct {
	Definition      `yaml:",inline"`
	SupportsRefresh *bool  `yaml:"supports_refresh"`
	PKCE            *bool  `yaml:"pkce"`
	ClientIDEnv     string `yaml:"client_id_env"`
	ClientSecretEnv string `yaml:"client_secret_env"`
	RedirectURIEnv  string `yaml:"redirect_uri_env"`
}

type providersFile struct {
	Providers []fileEntry `yaml:"providers"`
}

// LoadFile merges the providers declared in path over base. Credentials for
// file entries are read from the environment variables the entry names and
// only fill gaps left by creds.
func LoadFile(path string, base []Definition, creds map[string]config.ProviderCredentials) ([]Definition, map[string]config.ProviderCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read providers file: %w", err)
	}
	return parseFile(data, base, creds, os.Getenv)
}

func parseFile(data []byte, base []Definition, creds map[string]config.ProviderCredentials, getenv func(string) string) ([]Definition, map[string]config.ProviderCredentials, error) {
	var file providersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("failed to parse providers file: %w", err)
	}

	defs := make([]Definition, len(base))
	copy(defs, base)
	index := make(map[string]int, len(defs))
	for i, d := range defs {
		index[d.Name] = i
	}

	merged := make(map[string]config.ProviderCredentials, len(creds))
	for k, v := range creds {
		merged[k] = v
	}

	for _, entry := range file.Providers {
		if entry.Name == "" {
			return nil, nil, fmt.Errorf("providers file entry without name")
		}
		if !utils.ValidateProviderName(entry.Name) {
			return nil, nil, fmt.Errorf("invalid provider name %q in providers file", entry.Name)
		}

		if i, ok := index[entry.Name]; ok {
			defs[i] = overlay(defs[i], entry)
		} else {
			def := overlay(Definition{Name: entry.Name}, entry)
			index[entry.Name] = len(defs)
			defs = append(defs, def)
		}

		c := merged[entry.Name]
		if c.ClientID == "" && entry.ClientIDEnv != "" {
			c.ClientID = getenv(entry.ClientIDEnv)
		}
		if c.ClientSecret == "" && entry.ClientSecretEnv != "" {
			c.ClientSecret = getenv(entry.ClientSecretEnv)
		}
		if c.RedirectURI == "" && entry.RedirectURIEnv != "" {
			c.RedirectURI = getenv(entry.RedirectURIEnv)
		}
		merged[entry.Name] = c
	}

	return defs, merged, nil
}

func overlay(d Definition, e fileEntry) Definition {
	if e.AuthURL != "" {
		d.AuthURL = e.AuthURL
	}
	if e.TokenURL != "" {
		d.TokenURL = e.TokenURL
	}
	if e.ProfileURL != "" {
		d.ProfileURL = e.ProfileURL
	}
	if len(e.Scopes) > 0 {
		d.Scopes = e.Scopes
	}
	if e.ScopeSeparator != "" {
		d.ScopeSeparator = e.ScopeSeparator
	}
	if e.AuthStyle != "" {
		d.AuthStyle = e.AuthStyle
	}
	if e.DefaultTokenTTL.Duration > 0 {
		d.DefaultTokenTTL = e.DefaultTokenTTL
	}
	if e.RateLimit > 0 {
		d.RateLimit = e.RateLimit
	}
	if e.RateBurst > 0 {
		d.RateBurst = e.RateBurst
	}
	if e.SupportsRefresh != nil {
		d.SupportsRefresh = *e.SupportsRefresh
	}
	if e.PKCE != nil {
		d.PKCE = *e.PKCE
	}

	d.AuthParams = mergeMap(d.AuthParams, e.AuthParams)
	d.TokenHeaders = mergeMap(d.TokenHeaders, e.TokenHeaders)
	d.TokenMetadata = mergeMap(d.TokenMetadata, e.TokenMetadata)
	d.ProfileMetadata = mergeMap(d.ProfileMetadata, e.ProfileMetadata)

	f, o := &d.Fields, e.Fields
	for _, pair := range []struct {
		dst *string
		src string
	}{
		{&f.AccessToken, o.AccessToken},
		{&f.RefreshToken, o.RefreshToken},
		{&f.ExpiresIn, o.ExpiresIn},
		{&f.ExpiresAt, o.ExpiresAt},
		{&f.TokenType, o.TokenType},
		{&f.Scope, o.Scope},
		{&f.ErrorCode, o.ErrorCode},
	} {
		if pair.src != "" {
			*pair.dst = pair.src
		}
	}

	return d
}

func mergeMap(base, override map[string]string) map[string]string {
	if len(override) == 0 {
		return base
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
