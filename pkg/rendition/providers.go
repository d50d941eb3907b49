package rendition

import (
	"net/url"
	"strings"
)

// ProviderSet holds the local and remote providers and picks one per asset.
type ProviderSet struct {
	local  Provider
	remote Provider
	byName map[string]Provider
}

// NewProviderSet creates a provider set. Either provider may be nil when the
// deployment only uses one kind of storage.
func NewProviderSet(local, remote Provider) *ProviderSet {
	s := &ProviderSet{
		local:  local,
		remote: remote,
		byName: make(map[string]Provider),
	}
	for _, p := range []Provider{local, remote} {
		if p != nil {
			s.byName[p.Name()] = p
		}
	}
	return s
}

// Local returns the local provider, if any.
func (s *ProviderSet) Local() Provider { return s.local }

// Remote returns the remote provider, if any.
func (s *ProviderSet) Remote() Provider { return s.remote }

// ByName returns the provider registered under name.
func (s *ProviderSet) ByName(name string) (Provider, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// ForURL selects the provider by URL shape: absolute http(s) URLs that do
// not point at the local host belong to the remote provider, everything
// else to the local one.
func (s *ProviderSet) ForURL(rawURL string) (Provider, error) {
	if IsRemoteURL(rawURL) {
		if s.remote == nil {
			return nil, ErrProviderNotConfigured
		}
		return s.remote, nil
	}
	if s.local == nil {
		return nil, ErrProviderNotConfigured
	}
	return s.local, nil
}

// ForRendition prefers the provider recorded on the rendition. Otherwise the
// provider is inferred from assetURL, as it was when the rendition was
// generated; the rendition URL is used only when assetURL is empty.
func (s *ProviderSet) ForRendition(r Rendition, assetURL string) (Provider, error) {
	if r.Provider != "" {
		if p, ok := s.byName[r.Provider]; ok {
			return p, nil
		}
	}
	if assetURL != "" {
		return s.ForURL(assetURL)
	}
	return s.ForURL(r.URL)
}

// IsRemoteURL reports whether rawURL is an absolute networked URL that does
// not point at the local host.
func IsRemoteURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return false
	}
	return true
}
