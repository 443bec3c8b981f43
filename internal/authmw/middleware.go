package authmw

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"kyri56xcaesar/pms-tracker/internal/utils"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxSub      = "kc.sub"
	ctxUsername = "kc.username"
	ctxName     = "kc.name"
	ctxEmail    = "kc.email"
	ctxRoles    = "kc.roles"
	ctxToken    = "kc.access_token"
)

// Identity is the verified caller, as read from the access token.
type Identity struct {
	UserID   string // token subject
	Username string
	Name     string
	Email    string
	Roles    []string
}

// DisplayName prefers the full name and falls back to the username.
func (i Identity) DisplayName() string {
	if strings.TrimSpace(i.Name) != "" {
		return i.Name
	}
	return i.Username
}

type KeycloakAuth struct {
	Issuer   string // e.g. http://localhost:8080/realms/myrealm
	Audience string // usually your client-id (if you validate aud)
	ClientID string // for client roles under resource_access[ClientID].roles

	Keyfunc jwt.Keyfunc
	Methods []string
	// optional clock skew
	Leeway time.Duration

	// OnIdentity runs after a token is accepted, before the handler.
	OnIdentity func(ctx context.Context, id Identity) error
}

// NewKeycloakAuth builds an RS256 verifier backed by the realm JWKS.
// Build once at startup (don't fetch JWKS on every request).
func NewKeycloakAuth(jwksURL, issuer, audience, clientID string) (*KeycloakAuth, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:  time.Hour,
		RefreshRateLimit: time.Minute * 5,
		RefreshTimeout:   time.Second * 10,
	})
	if err != nil {
		return nil, err
	}

	return &KeycloakAuth{
		Issuer:   issuer,
		Audience: audience,
		ClientID: clientID,
		Keyfunc:  jwks.Keyfunc,
		Methods:  []string{"RS256"},
		Leeway:   30 * time.Second,
	}, nil
}

// NewHMACAuth verifies HS256 tokens signed with a shared secret. Audience is
// checked only when non-empty.
func NewHMACAuth(secret []byte, issuer, audience string) (*KeycloakAuth, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty jwt secret")
	}
	return &KeycloakAuth{
		Issuer:   issuer,
		Audience: audience,
		Keyfunc: func(*jwt.Token) (any, error) {
			return secret, nil
		},
		Methods: []string{"HS256"},
		Leeway:  30 * time.Second,
	}, nil
}

type KCClaims struct {
	jwt.RegisteredClaims

	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Name              string `json:"name"`
	Firstname         string `json:"given_name"`
	Lastname          string `json:"family_name"`

	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`

	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
}

// RequireRoles authenticates the request and, when anyOf is not empty,
// requires at least one of the listed roles.
func (a *KeycloakAuth) RequireRoles(anyOf ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, err := extractAccessToken(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})

			return
		}

		claims, err := a.parse(tokenStr)
		if err != nil || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})

			return
		}

		id := Identity{
			UserID:   claims.Subject,
			Username: claims.PreferredUsername,
			Name:     fullName(claims),
			Email:    claims.Email,
			Roles:    collectRoles(claims, a.ClientID),
		}

		// Put identity into context for handlers
		c.Set(ctxToken, tokenStr)
		c.Set(ctxSub, id.UserID)
		c.Set(ctxUsername, id.Username)
		c.Set(ctxName, id.DisplayName())
		c.Set(ctxEmail, id.Email)
		c.Set(ctxRoles, id.Roles)

		if len(anyOf) > 0 && !hasAnyRole(id.Roles, anyOf...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}

		if a.OnIdentity != nil {
			if err := a.OnIdentity(c.Request.Context(), id); err != nil {
				log.Printf("failed to sync identity %s: %v", id.UserID, err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "identity sync failed"})
				return
			}
		}

		c.Next()
	}
}

func (a *KeycloakAuth) parse(tokenStr string) (*KCClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.Leeway),
		jwt.WithValidMethods(a.Methods),
	}
	if a.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.Issuer))
	}
	if a.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.Audience))
	}

	claims := &KCClaims{}
	if _, err := jwt.ParseWithClaims(tokenStr, claims, a.Keyfunc, opts...); err != nil {
		return nil, err
	}
	return claims, nil
}

// UserID returns the verified subject stored by RequireRoles.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxSub)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// CurrentIdentity rebuilds the Identity stored by RequireRoles.
func CurrentIdentity(c *gin.Context) (Identity, bool) {
	sub, ok := UserID(c)
	if !ok {
		return Identity{}, false
	}
	roles, _ := c.Get(ctxRoles)
	rs, _ := roles.([]string)
	return Identity{
		UserID:   sub,
		Username: c.GetString(ctxUsername),
		Name:     c.GetString(ctxName),
		Email:    c.GetString(ctxEmail),
		Roles:    rs,
	}, true
}

// --- helpers ---

func extractAccessToken(c *gin.Context) (string, error) {
	// 1) Authorization: Bearer <token>
	authz := c.GetHeader("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[7:]), nil
	}

	// 2) cookie fallback
	if cookie, err := c.Cookie("access_token"); err == nil && cookie != "" {
		return cookie, nil
	}

	return "", errors.New("missing access token")
}

func fullName(claims *KCClaims) string {
	if claims.Name != "" {
		return claims.Name
	}
	return strings.TrimSpace(claims.Firstname + " " + claims.Lastname)
}

func collectRoles(claims *KCClaims, clientID string) []string {
	out := make([]string, 0, 16)

	// realm roles
	out = append(out, claims.RealmAccess.Roles...)

	// client roles (resource_access)
	if clientID != "" && claims.ResourceAccess != nil {
		if ra, ok := claims.ResourceAccess[clientID]; ok {
			out = append(out, ra.Roles...)
		}
	}

	return uniq(out)
}

func hasAnyRole(userRoles []string, anyOf ...string) bool {
	return utils.ContainsAny(userRoles, anyOf...)
}

func uniq(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
