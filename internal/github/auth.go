package github

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
)

const (
	appJWTLifetime = 10 * time.Minute
	// Backdate issued-at so minor clock drift between us and the API does
	// not invalidate the JWT.
	appJWTClockDrift = 60 * time.Second
	// Refresh the cached installation token this long before it expires.
	installationTokenSlack = 2 * time.Minute
)

// TokenSource yields the token placed on every API request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a personal access token.
type StaticToken string

// Token returns the stored token.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errs.Configurationf("github token is empty")
	}
	return string(t), nil
}

// AppAuth exchanges GitHub App credentials for installation tokens. The
// current token is cached until shortly before its expiry.
type AppAuth struct {
	AppID          int64
	InstallationID int64
	BaseURL        string
	HTTPClient     *http.Client

	privateKey *rsa.PrivateKey
	now        func() time.Time

	mu          sync.Mutex
	cachedToken string
	expiresAt   time.Time
}

// NewAppAuth parses the PEM-encoded RSA private key and prepares the token
// source.
func NewAppAuth(appID, installationID int64, privateKeyPEM []byte, baseURL string) (*AppAuth, error) {
	if appID == 0 || installationID == 0 {
		return nil, errs.Configurationf("github app id and installation id are required")
	}
	privateKey, parseErr := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if parseErr != nil {
		return nil, errs.Wrap(parseErr, "parse github app private key")
	}
	return &AppAuth{
		AppID:          appID,
		InstallationID: installationID,
		BaseURL:        strings.TrimRight(baseURL, "/"),
		privateKey:     privateKey,
		now:            time.Now,
	}, nil
}

// Token returns a valid installation token, minting a fresh one when the
// cached token is missing or near expiry.
func (a *AppAuth) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cachedToken != "" && a.now().Before(a.expiresAt.Add(-installationTokenSlack)) {
		return a.cachedToken, nil
	}

	signedJWT, signErr := a.signAppJWT()
	if signErr != nil {
		return "", signErr
	}

	token, expiresAt, exchangeErr := a.exchange(ctx, signedJWT)
	if exchangeErr != nil {
		return "", exchangeErr
	}
	a.cachedToken = token
	a.expiresAt = expiresAt
	return token, nil
}

func (a *AppAuth) signAppJWT() (string, error) {
	issuedAt := a.now().Add(-appJWTClockDrift)
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(a.AppID, 10),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(a.now().Add(appJWTLifetime)),
	}
	signed, signErr := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.privateKey)
	if signErr != nil {
		return "", errs.Wrap(signErr, "sign github app jwt")
	}
	return signed, nil
}

func (a *AppAuth) exchange(ctx context.Context, signedJWT string) (string, time.Time, error) {
	requestURL := fmt.Sprintf("%s/app/installations/%d/access_tokens", a.BaseURL, a.InstallationID)
	httpRequest, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(nil))
	if buildErr != nil {
		return "", time.Time{}, buildErr
	}
	httpRequest.Header.Set("Authorization", "Bearer "+signedJWT)
	httpRequest.Header.Set("Accept", acceptHeader)

	httpClient := a.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	httpResponse, httpErr := httpClient.Do(httpRequest)
	if httpErr != nil {
		return "", time.Time{}, errs.Wrap(httpErr, "exchange github app jwt")
	}
	defer func(closer io.ReadCloser) { _ = closer.Close() }(httpResponse.Body)

	bodyBytes, readErr := io.ReadAll(httpResponse.Body)
	if readErr != nil {
		return "", time.Time{}, readErr
	}
	if httpResponse.StatusCode != http.StatusCreated {
		return "", time.Time{}, errs.Newf("installation token exchange failed with %d: %s", httpResponse.StatusCode, string(bodyBytes))
	}

	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if decodeErr := json.Unmarshal(bodyBytes, &payload); decodeErr != nil {
		return "", time.Time{}, errs.Wrap(decodeErr, "decode installation token response")
	}
	if payload.Token == "" {
		return "", time.Time{}, errs.New("installation token response without a token")
	}
	return payload.Token, payload.ExpiresAt, nil
}
