package provider

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "warden/pkg/domain"
	"warden/pkg/requestcontext"
)

// oidcProvider covers the OpenID Connect providers. They differ only in
// endpoints, scopes, and issuer acceptance; the flow is identical: PKCE
// S256 on the authorization leg, form-encoded code exchange, identity read
// from ID-token claims.
//
// The ID token arrives over the TLS channel we opened to the token
// endpoint ourselves, so its claims are validated (issuer, audience,
// expiry, subject) but its signature is not re-verified against provider
// JWKS. The channel is the trust anchor here, same as for the access token
// riding next to it.
type oidcProvider struct {
	name         id.Provider
	clientID     string
	clientSecret string
	redirectURL  string
	scopes       string

	authorizeURL string
	tokenURL     string
	issuerOK     func(string) bool

	api *apiClient
}

func (p *oidcProvider) Name() id.Provider { return p.name }

func (p *oidcProvider) AuthorizationURL(state, challenge string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", p.clientID)
	q.Set("redirect_uri", p.redirectURL)
	q.Set("scope", p.scopes)
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	return p.authorizeURL + "?" + q.Encode()
}

func (p *oidcProvider) Exchange(ctx context.Context, code, verifier string) (*Tokens, error) {
	ctx, span := startSpan(ctx, "provider.exchange", p.name)
	defer span.End()

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", p.redirectURL)
	form.Set("client_id", p.clientID)
	form.Set("client_secret", p.clientSecret)
	form.Set("code_verifier", verifier)

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
		ExpiresIn    int64  `json:"expires_in"`
		Error        string `json:"error"`
	}
	if err := p.api.postForm(ctx, p.tokenURL, form, &payload); err != nil {
		span.RecordError(err)
		var se *statusError
		if errors.As(err, &se) && se.clientRejection() {
			return nil, denied(p.name, "provider rejected the code")
		}
		return nil, failed(p.name, "code exchange failed", err)
	}
	if payload.Error != "" {
		err := denied(p.name, "provider rejected the code: "+payload.Error)
		span.RecordError(err)
		return nil, err
	}
	if payload.AccessToken == "" || payload.IDToken == "" {
		err := failed(p.name, "exchange response missing tokens", nil)
		span.RecordError(err)
		return nil, err
	}

	tokens := &Tokens{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		IDToken:      payload.IDToken,
	}
	if payload.ExpiresIn > 0 {
		tokens.ExpiresAt = requestcontext.Now(ctx).Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return tokens, nil
}

// idTokenClaims is the subset of OIDC claims we consume.
type idTokenClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

func (p *oidcProvider) Identity(ctx context.Context, tokens *Tokens) (*Identity, error) {
	_, span := startSpan(ctx, "provider.identity", p.name)
	defer span.End()

	claims := &idTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokens.IDToken, claims); err != nil {
		span.RecordError(err)
		return nil, failed(p.name, "malformed id token", err)
	}

	if err := p.validateClaims(ctx, claims); err != nil {
		span.RecordError(err)
		return nil, err
	}

	name := claims.Name
	if name == "" {
		name = claims.Email
	}

	return &Identity{
		ExternalID: claims.Subject,
		Email:      claims.Email,
		Name:       name,
		AvatarURL:  claims.Picture,
	}, nil
}

func (p *oidcProvider) validateClaims(ctx context.Context, claims *idTokenClaims) error {
	if claims.Subject == "" {
		return denied(p.name, "id token missing subject")
	}
	if !p.issuerOK(claims.Issuer) {
		return denied(p.name, "id token issuer mismatch")
	}
	if !audienceContains(claims.Audience, p.clientID) {
		return denied(p.name, "id token audience mismatch")
	}
	if claims.ExpiresAt == nil || !requestcontext.Now(ctx).Before(claims.ExpiresAt.Time) {
		return denied(p.name, "id token expired")
	}
	if claims.Email == "" {
		return denied(p.name, "identity has no email")
	}
	return nil
}

func audienceContains(audience jwt.ClaimStrings, clientID string) bool {
	for _, a := range audience {
		if a == clientID {
			return true
		}
	}
	return false
}
