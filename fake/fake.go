// Package fake provides an in-process PGDesk auth server for tests and
// demos: gin handlers speaking the same JSON envelope as the real API,
// HS256 JWTs, bcrypt password checks, and call counters so tests can
// assert how many refresh calls actually reached the server.
//
// Use httptest around Handler():
//
//	srv := fake.NewServer(fake.WithAccount("a@pg.test", "secret", user))
//	ts := httptest.NewServer(srv.Handler())
//	defer ts.Close()
package fake

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	session "github.com/pgdesk/session-go"
)

// signingKey is the fixed HS256 key. Tokens are only ever verified by
// this fake, never by the SDK, so a well-known key is fine.
var signingKey = []byte("pgdesk-fake-signing-key")

type account struct {
	hash []byte
	user session.User
}

type refreshRecord struct {
	email     string
	expiresAt time.Time
	revoked   bool
}

// Server is a fake PGDesk auth backend.
type Server struct {
	engine     *gin.Engine
	accessTTL  time.Duration
	refreshTTL time.Duration

	mu            sync.Mutex
	accounts      map[string]account
	refreshTokens map[string]refreshRecord
	failLogout    bool

	loginCalls   atomic.Int32
	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
}

// Option configures the fake server.
type Option func(*Server)

// WithAccount registers an account that can log in.
func WithAccount(email, password string, user session.User) Option {
	return func(s *Server) {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			panic(err)
		}
		s.accounts[email] = account{hash: hash, user: user}
	}
}

// WithAccessTTL sets the access token lifetime. Default: 15 minutes.
func WithAccessTTL(d time.Duration) Option {
	return func(s *Server) { s.accessTTL = d }
}

// WithRefreshTTL sets the refresh token lifetime. Default: 30 days.
func WithRefreshTTL(d time.Duration) Option {
	return func(s *Server) { s.refreshTTL = d }
}

// NewServer creates a fake auth server.
func NewServer(opts ...Option) *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		accessTTL:     15 * time.Minute,
		refreshTTL:    30 * 24 * time.Hour,
		accounts:      make(map[string]account),
		refreshTokens: make(map[string]refreshRecord),
	}
	for _, o := range opts {
		o(s)
	}

	e := gin.New()
	e.POST("/auth/login", s.handleLogin)
	e.POST("/auth/refresh", s.handleRefresh)
	e.POST("/auth/logout", s.handleLogout)

	authed := e.Group("/", s.authMiddleware())
	authed.GET("/auth/me", s.handleMe)
	authed.GET("/ping", s.handlePing)

	s.engine = e
	return s
}

// Handler returns the HTTP handler for use with httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// LoginCalls returns how many login requests the server has seen.
func (s *Server) LoginCalls() int32 { return s.loginCalls.Load() }

// RefreshCalls returns how many refresh requests the server has seen.
func (s *Server) RefreshCalls() int32 { return s.refreshCalls.Load() }

// LogoutCalls returns how many logout requests the server has seen.
func (s *Server) LogoutCalls() int32 { return s.logoutCalls.Load() }

// FailLogout makes subsequent logout calls return 500.
func (s *Server) FailLogout(fail bool) {
	s.mu.Lock()
	s.failLogout = fail
	s.mu.Unlock()
}

// RevokeRefreshTokens invalidates every outstanding refresh token, so the
// next refresh attempt fails like a server-side session purge.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	for k, rec := range s.refreshTokens {
		rec.revoked = true
		s.refreshTokens[k] = rec
	}
	s.mu.Unlock()
}

// Token mints an HS256 access token for the given user and expiry,
// for tests that need a crafted token without a login round-trip.
func Token(user session.User, exp time.Time) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"role":  string(user.Role),
		"pgId":  user.PGID,
		"name":  user.DisplayName,
		"exp":   exp.Unix(),
		"iat":   time.Now().Unix(),
	})
	signed, err := token.SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	return signed
}

func ok(c *gin.Context, data gin.H) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

func (s *Server) handleLogin(c *gin.Context) {
	s.loginCalls.Add(1)

	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	acct, found := s.accounts[req.Email]
	s.mu.Unlock()
	if !found {
		fail(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(req.Password)); err != nil {
		fail(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	refreshToken := s.issueRefreshToken(req.Email)
	ok(c, gin.H{
		"user": acct.user,
		"tokens": gin.H{
			"accessToken":  Token(acct.user, time.Now().Add(s.accessTTL)),
			"refreshToken": refreshToken,
		},
	})
}

func (s *Server) issueRefreshToken(email string) string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	token := hex.EncodeToString(b)

	s.mu.Lock()
	s.refreshTokens[token] = refreshRecord{
		email:     email,
		expiresAt: time.Now().Add(s.refreshTTL),
	}
	s.mu.Unlock()
	return token
}

func (s *Server) handleRefresh(c *gin.Context) {
	s.refreshCalls.Add(1)

	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	rec, found := s.refreshTokens[req.RefreshToken]
	acct, haveAcct := s.accounts[rec.email]
	s.mu.Unlock()

	if !found || rec.revoked || time.Now().After(rec.expiresAt) || !haveAcct {
		fail(c, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}

	// The refresh token is reused until its own expiry, not rotated.
	ok(c, gin.H{"accessToken": Token(acct.user, time.Now().Add(s.accessTTL))})
}

func (s *Server) handleLogout(c *gin.Context) {
	s.logoutCalls.Add(1)

	s.mu.Lock()
	failing := s.failLogout
	s.mu.Unlock()
	if failing {
		fail(c, http.StatusInternalServerError, "internal server error")
		return
	}
	ok(c, gin.H{})
}

// authMiddleware validates the bearer token the way the real API does,
// with the two 401 messages the SDK's classifier distinguishes: "jwt
// expired" for a time-expired token, "invalid token" for everything else.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			fail(c, http.StatusUnauthorized, "invalid token")
			c.Abort()
			return
		}
		tokenString := authHeader[7:]

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, isHMAC := token.Method.(*jwt.SigningMethodHMAC); !isHMAC {
				return nil, jwt.ErrInvalidKeyType
			}
			return signingKey, nil
		})
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				fail(c, http.StatusUnauthorized, "jwt expired")
			} else {
				fail(c, http.StatusUnauthorized, "invalid token")
			}
			c.Abort()
			return
		}

		claims, isMap := token.Claims.(jwt.MapClaims)
		if !isMap || !token.Valid {
			fail(c, http.StatusUnauthorized, "invalid token")
			c.Abort()
			return
		}
		email, _ := claims["email"].(string)
		c.Set("email", email)
		c.Next()
	}
}

func (s *Server) handleMe(c *gin.Context) {
	email, _ := c.Get("email")

	s.mu.Lock()
	acct, found := s.accounts[email.(string)]
	s.mu.Unlock()
	if !found {
		fail(c, http.StatusUnauthorized, "invalid token")
		return
	}
	ok(c, gin.H{"user": acct.user})
}

func (s *Server) handlePing(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}
