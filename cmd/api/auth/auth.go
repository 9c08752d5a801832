package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	app "github.com/mark3748/jobdesk-go/cmd/api/app"
	"github.com/mark3748/jobdesk-go/internal/catalog"
)

// AuthUser represents the authenticated service account.
type AuthUser struct {
	ServiceRef string   `json:"service_ref"`
	Subject    string   `json:"sub,omitempty"`
	Email      string   `json:"email,omitempty"`
	Roles      []string `json:"roles"`
}

func (u AuthUser) GetRoles() []string { return u.Roles }

// Middleware performs JWT validation or bypass during tests.
func Middleware(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Cfg.TestBypassAuth {
			ref := c.GetHeader("X-Test-Service-Ref")
			if ref == "" {
				ref = "test-service"
			}
			c.Set("user", AuthUser{ServiceRef: ref, Email: "test@example.com", Roles: []string{"admin"}})
			c.Next()
			return
		}
		if a.Keyf == nil {
			app.AbortError(c, http.StatusInternalServerError, "auth_not_configured", "no token keys configured", nil)
			return
		}
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			app.AbortError(c, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
			return
		}
		var opts []jwt.ParserOption
		if a.Cfg.OIDCIssuer != "" {
			opts = append(opts, jwt.WithIssuer(a.Cfg.OIDCIssuer))
		}
		token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), a.Keyf, opts...)
		if err != nil || !token.Valid {
			app.AbortError(c, http.StatusUnauthorized, "unauthorized", "invalid token", nil)
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			app.AbortError(c, http.StatusUnauthorized, "unauthorized", "invalid token", nil)
			return
		}
		u := userFromClaims(claims)
		if u.ServiceRef == "" {
			app.AbortError(c, http.StatusUnauthorized, "unauthorized", "token has no service_ref", nil)
			return
		}
		c.Set("user", u)
		c.Next()
	}
}

func userFromClaims(claims jwt.MapClaims) AuthUser {
	u := AuthUser{
		ServiceRef: getStringClaim(claims, "service_ref"),
		Subject:    getStringClaim(claims, "sub"),
		Email:      getStringClaim(claims, "email"),
	}
	if u.ServiceRef == "" {
		u.ServiceRef = u.Subject
	}
	if r := getStringClaim(claims, "role"); r != "" {
		u.Roles = append(u.Roles, r)
	}
	switch g := claims["roles"].(type) {
	case []interface{}:
		for _, v := range g {
			if s, ok := v.(string); ok {
				u.Roles = append(u.Roles, s)
			}
		}
	case []string:
		u.Roles = append(u.Roles, g...)
	case string:
		u.Roles = append(u.Roles, g)
	}
	return u
}

func getStringClaim(c jwt.MapClaims, key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// Actor returns the service_ref of the authenticated caller.
func Actor(c *gin.Context) (string, bool) {
	v, ok := c.Get("user")
	if !ok {
		return "", false
	}
	u, ok := v.(AuthUser)
	if !ok || u.ServiceRef == "" {
		return "", false
	}
	return u.ServiceRef, true
}

// Me returns the authenticated user.
func Me(c *gin.Context) {
	u, ok := c.Get("user")
	if !ok {
		app.AbortError(c, http.StatusUnauthorized, "unauthorized", "unauthenticated", nil)
		return
	}
	c.JSON(http.StatusOK, u)
}

// RequireRole ensures the user has one of the required roles. Admins pass
// every check.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		uVal, ok := c.Get("user")
		if !ok {
			app.AbortError(c, http.StatusUnauthorized, "unauthorized", "unauthenticated", nil)
			return
		}
		user, ok := uVal.(AuthUser)
		if !ok {
			app.AbortError(c, http.StatusUnauthorized, "unauthorized", "invalid user", nil)
			return
		}
		for _, r := range user.Roles {
			if r == "admin" {
				c.Next()
				return
			}
			for _, want := range roles {
				if r == want {
					c.Next()
					return
				}
			}
		}
		app.AbortError(c, http.StatusForbidden, "forbidden", "forbidden", nil)
	}
}

// IssueToken signs an HS256 token carrying the account's service_ref and
// role.
func IssueToken(secret, issuer string, acct catalog.ServiceAccount, ttl time.Duration, now time.Time) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":         acct.ServiceRef,
		"service_ref": acct.ServiceRef,
		"email":       acct.Email,
		"role":        acct.Role,
		"iat":         now.Unix(),
		"exp":         exp.Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	return signed, exp, err
}

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	ServiceRef string    `json:"service_ref"`
	Role       string    `json:"role"`
}

// Login checks service account credentials and returns a signed token.
func Login(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Cfg.AuthLocalSecret == "" {
			app.AbortError(c, http.StatusServiceUnavailable, "auth_not_configured", "local login disabled", nil)
			return
		}
		var req loginRequest
		if !app.BindJSON(c, &req) {
			return
		}
		acct, err := a.Catalog.Authenticate(c.Request.Context(), req.Identifier, req.Password)
		if errors.Is(err, catalog.ErrInvalidCredentials) {
			app.AbortError(c, http.StatusUnauthorized, "unauthorized", "invalid credentials", nil)
			return
		}
		if err != nil {
			app.RenderError(c, err)
			return
		}
		token, exp, err := IssueToken(a.Cfg.AuthLocalSecret, a.Cfg.OIDCIssuer, *acct, a.Cfg.TokenTTL, time.Now().UTC())
		if err != nil {
			app.RenderError(c, err)
			return
		}
		c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: exp, ServiceRef: acct.ServiceRef, Role: acct.Role})
	}
}

// Register creates a service account.
func Register(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in catalog.RegisterInput
		if !app.BindJSON(c, &in) {
			return
		}
		acct, err := a.Catalog.Register(c.Request.Context(), in)
		if err != nil {
			app.RenderError(c, err)
			return
		}
		c.JSON(http.StatusCreated, acct)
	}
}
