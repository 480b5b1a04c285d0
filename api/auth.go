package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"todofy/domain"
)

const defaultJWKSCacheTTL = 15 * time.Minute

// Auth validates bearer JWTs, either RS256 against an Auth0 key set or HS256
// against a shared secret for local development.
type Auth struct {
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string
	Secret   []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth validates RS256 tokens with keys from jwks.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string, cacheTTL time.Duration) *Auth {
	if cacheTTL <= 0 {
		cacheTTL = defaultJWKSCacheTTL
	}
	return &Auth{
		JWKS:        jwks,
		Audience:    audience,
		Issuer:      issuer,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		keyCacheTTL: cacheTTL,
	}
}

// NewHS256Auth validates tokens signed with secret.
func NewHS256Auth(secret []byte, audience, issuer string) *Auth {
	if len(secret) == 0 {
		panic("api: empty HS256 secret")
	}
	return &Auth{
		Audience: audience,
		Issuer:   issuer,
		Secret:   secret,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

func (a *Auth) Authenticate(_ context.Context, h string) (domain.User, error) {
	if h == "" {
		return domain.User{}, errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return domain.User{}, err
	}
	return a.UserFromBearer(token)
}

// UserFromBearer verifies token and maps its claims onto a User.
func (a *Auth) UserFromBearer(token string) (domain.User, error) {
	if token == "" {
		return domain.User{}, errBadAuthorization
	}

	parsedToken, err := a.parser.Parse(token, func(t *jwt.Token) (any, error) {
		if a.Secret != nil {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.Secret, nil
		}
		return a.keyForToken(t)
	})
	if err != nil {
		return domain.User{}, err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return domain.User{}, errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return domain.User{}, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return domain.User{}, errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return domain.User{}, errors.New("token used before issued")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, true) {
		return domain.User{}, errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, true) {
		return domain.User{}, errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return domain.User{}, errors.New("missing sub")
	}
	user := domain.User{ID: sub}
	user.Email, _ = claims["email"].(string)
	user.Name, _ = claims["name"].(string)
	user.Avatar, _ = claims["picture"].(string)
	return user, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}

// SessionAuth trusts the server side session record and ignores the header.
type SessionAuth struct {
	Sessions interface {
		CurrentUser(ctx context.Context) (domain.User, bool, error)
	}
}

func (s SessionAuth) Authenticate(ctx context.Context, _ string) (domain.User, error) {
	user, ok, err := s.Sessions.CurrentUser(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, errNotSignedIn
	}
	return user, nil
}
