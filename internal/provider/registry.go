package provider

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/config"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
	"golang.org/x/oauth2"
)

// Provider is a definition bound to the client credentials of this deployment
type Provider struct {
	Definition
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Configured reports whether every value needed for a token request is present
func (p *Provider) Configured() error {
	var missing []string
	if p.ClientID == "" {
		missing = append(missing, "client id")
	}
	if p.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if p.RedirectURI == "" {
		missing = append(missing, "redirect uri")
	}
	if p.AuthURL == "" || p.TokenURL == "" {
		missing = append(missing, "endpoints")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s is missing %s", domain.ErrConfiguration, p.Name, strings.Join(missing, ", "))
	}
	return nil
}

// AuthCodeURL builds the provider consent URL for state.
// verifier is ignored unless the provider uses PKCE.
func (p *Provider) AuthCodeURL(state, verifier, loginHint string) string {
	scopes := p.Scopes
	if p.ScopeSeparator != " " && len(scopes) > 1 {
		scopes = []string{strings.Join(scopes, p.ScopeSeparator)}
	}

	cfg := &oauth2.Config{
		ClientID:    p.ClientID,
		RedirectURL: p.RedirectURI,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.AuthURL,
			TokenURL: p.TokenURL,
		},
	}

	opts := make([]oauth2.AuthCodeOption, 0, len(p.AuthParams)+2)
	for k, v := range p.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	if p.PKCE && verifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	if loginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", loginHint))
	}

	return cfg.AuthCodeURL(state, opts...)
}

// Registry resolves provider tags to configured providers
type Registry struct {
	providers map[string]*Provider
}

// NewRegistry binds definitions to credentials. callbackURL supplies the
// redirect URI for providers without an explicit one.
func NewRegistry(defs []Definition, creds map[string]config.ProviderCredentials, callbackURL func(string) string) *Registry {
	r := &Registry{providers: make(map[string]*Provider, len(defs))}

	for _, def := range defs {
		def = def.withDefaults()
		c := creds[def.Name]

		p := &Provider{
			Definition:   def,
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURI:  c.RedirectURI,
		}
		if len(c.Scopes) > 0 {
			p.Scopes = c.Scopes
		}
		if p.RedirectURI == "" && callbackURL != nil {
			p.RedirectURI = callbackURL(def.Name)
		}

		r.providers[def.Name] = p
	}

	return r
}

// Lookup returns the configured provider for name
func (r *Registry) Lookup(name string) (*Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidRequest, name)
	}
	if err := p.Configured(); err != nil {
		return nil, err
	}
	return p, nil
}

// Definition returns the provider definition regardless of credentials
func (r *Registry) Definition(name string) (*Definition, bool) {
	p, ok := r.providers[name]
	if !ok {
		return nil, false
	}
	return &p.Definition, true
}

// Names lists registered provider tags in lexical order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
