package provider

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"warden/internal/platform/config"
	id "warden/pkg/domain"
)

// gitHub implements Provider for GitHub OAuth apps. GitHub does not support
// PKCE, so the challenge is ignored and CSRF protection rides entirely on
// the sealed state token. Identity comes from the REST API because GitHub
// issues no ID token.
type gitHub struct {
	clientID     string
	clientSecret string
	redirectURL  string

	authorizeURL string
	tokenURL     string
	userURL      string
	emailsURL    string

	api *apiClient
}

// NewGitHub builds the GitHub provider from its OAuth app credentials.
func NewGitHub(cfg config.ProviderConfig) Provider {
	return &gitHub{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		authorizeURL: "https://github.com/login/oauth/authorize",
		tokenURL:     "https://github.com/login/oauth/access_token",
		userURL:      "https://api.github.com/user",
		emailsURL:    "https://api.github.com/user/emails",
		api:          newAPIClient(),
	}
}

func (g *gitHub) Name() id.Provider { return id.ProviderGitHub }

func (g *gitHub) AuthorizationURL(state, _ string) string {
	q := url.Values{}
	q.Set("client_id", g.clientID)
	q.Set("redirect_uri", g.redirectURL)
	q.Set("scope", "read:user user:email")
	q.Set("state", state)
	return g.authorizeURL + "?" + q.Encode()
}

func (g *gitHub) Exchange(ctx context.Context, code, _ string) (*Tokens, error) {
	ctx, span := startSpan(ctx, "provider.exchange", id.ProviderGitHub)
	defer span.End()

	form := url.Values{}
	form.Set("client_id", g.clientID)
	form.Set("client_secret", g.clientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", g.redirectURL)

	// GitHub reports a bad code with a 200 and an error field.
	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		Error       string `json:"error"`
	}
	if err := g.api.postForm(ctx, g.tokenURL, form, &payload); err != nil {
		span.RecordError(err)
		var se *statusError
		if errors.As(err, &se) && se.clientRejection() {
			return nil, denied(id.ProviderGitHub, "provider rejected the code")
		}
		return nil, failed(id.ProviderGitHub, "code exchange failed", err)
	}
	if payload.Error != "" {
		err := denied(id.ProviderGitHub, "provider rejected the code: "+payload.Error)
		span.RecordError(err)
		return nil, err
	}
	if payload.AccessToken == "" {
		err := failed(id.ProviderGitHub, "exchange response missing access token", nil)
		span.RecordError(err)
		return nil, err
	}

	return &Tokens{AccessToken: payload.AccessToken}, nil
}

func (g *gitHub) Identity(ctx context.Context, tokens *Tokens) (*Identity, error) {
	ctx, span := startSpan(ctx, "provider.identity", id.ProviderGitHub)
	defer span.End()

	var user struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := g.api.getJSON(ctx, g.userURL, tokens.AccessToken, &user); err != nil {
		span.RecordError(err)
		var se *statusError
		if errors.As(err, &se) && se.clientRejection() {
			return nil, denied(id.ProviderGitHub, "provider rejected the access token")
		}
		return nil, failed(id.ProviderGitHub, "user lookup failed", err)
	}
	if user.ID == 0 {
		err := failed(id.ProviderGitHub, "user response missing numeric id", nil)
		span.RecordError(err)
		return nil, err
	}

	email := user.Email
	if email == "" {
		var err error
		email, err = g.verifiedEmail(ctx, tokens.AccessToken)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}

	return &Identity{
		ExternalID: strconv.FormatInt(user.ID, 10),
		Email:      email,
		Name:       name,
		AvatarURL:  user.AvatarURL,
	}, nil
}

// verifiedEmail resolves the account email when the profile hides it.
// Preference order: primary verified, then any verified. An account with
// no verified email cannot log in.
func (g *gitHub) verifiedEmail(ctx context.Context, accessToken string) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := g.api.getJSON(ctx, g.emailsURL, accessToken, &emails); err != nil {
		return "", failed(id.ProviderGitHub, "email lookup failed", err)
	}

	fallback := ""
	for _, e := range emails {
		if !e.Verified {
			continue
		}
		if e.Primary {
			return e.Email, nil
		}
		if fallback == "" {
			fallback = e.Email
		}
	}
	if fallback == "" {
		return "", denied(id.ProviderGitHub, "account has no verified email")
	}
	return fallback, nil
}
