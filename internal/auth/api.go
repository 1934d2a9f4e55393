package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	jose "gopkg.in/go-jose/go-jose.v2"
)

// Cookie configuration
const (
	AccessTokenCookie   = "gateseal_access_token"
	RefreshTokenCookie  = "gateseal_refresh_token"
	ProviderStateCookie = "gateseal_provider_state"

	RefreshCookieMaxAge = 30 * 24 * 3600
	StateCookieMaxAge   = 10 * 60
)

// setSessionCookies sets httpOnly cookies for a freshly minted session.
func setSessionCookies(c *gin.Context, session *Session) {
	secure := os.Getenv("ENVIRONMENT") == "production"
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessTokenCookie, session.AccessToken, int(session.AccessTokenExpiresIn), "/", "", secure, true)
	c.SetCookie(RefreshTokenCookie, session.RefreshToken, RefreshCookieMaxAge, "/", "", secure, true)
}

// clearSessionCookies removes session cookies.
func clearSessionCookies(c *gin.Context) {
	c.SetCookie(AccessTokenCookie, "", -1, "/", "", false, true)
	c.SetCookie(RefreshTokenCookie, "", -1, "/", "", false, true)
}

// getTokenFromCookieOrHeader tries to get the access token from the cookie
// first, then the Authorization header.
func getTokenFromCookieOrHeader(c *gin.Context) string {
	if token, err := c.Cookie(AccessTokenCookie); err == nil && token != "" {
		return token
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
		return authHeader[7:]
	}
	return ""
}

// TokenVerifier checks inbound access tokens and publishes the signing
// keys. The issuer side of the same key pair lives behind TokenIssuer.
type TokenVerifier interface {
	VerifySubject(accessToken string) (string, error)
	JWKS() jose.JSONWebKeySet
}

// HTTPHandler represents the HTTP API handlers for the auth service.
type HTTPHandler struct {
	ctrl        *Controller
	verifier    TokenVerifier
	adminSecret string
	logger      *zap.Logger
}

// NewHTTPHandler creates a new HTTPHandler. The admin secret guards the
// whitelist management routes; an empty secret disables them entirely.
func NewHTTPHandler(ctrl *Controller, verifier TokenVerifier, adminSecret string, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{ctrl: ctrl, verifier: verifier, adminSecret: adminSecret, logger: logger}
}

// RegisterRoutes registers the authentication routes.
func (h *HTTPHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/register", h.register)
	router.POST("/login", h.login)
	router.POST("/logout", h.logout)
	router.POST("/mfa/totp", h.verifyTOTP)

	user := router.Group("/user")
	{
		user.GET("/email/verify", h.verifyEmail)
		user.POST("/email/change", h.changeEmail)
		user.POST("/email/change/confirm", h.confirmEmailChange)
		user.POST("/email/resend", h.resendConfirmation)
		user.POST("/password/reset", h.requestPasswordReset)
		user.POST("/password", h.resetPassword)
	}

	whitelist := router.Group("/whitelist")
	whitelist.Use(h.requireAdmin)
	{
		whitelist.POST("", h.whitelistEmail)
		whitelist.GET("", h.whitelistCheck)
	}

	providers := router.Group("/providers")
	{
		providers.GET("/:provider", h.providerSignIn)
		providers.GET("/:provider/callback", h.providerCallback)
	}

	router.GET("/healthz", h.healthz)
	router.GET("/.well-known/jwks.json", h.jwks)
}

func (h *HTTPHandler) register(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.ctrl.Register(c.Request.Context(), body)
	if err != nil {
		h.respondError(c, "Registration failed", err)
		return
	}
	if result.Session != nil {
		setSessionCookies(c, result.Session)
		c.JSON(http.StatusOK, gin.H{"session": result.Session})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": result.User})
}

func (h *HTTPHandler) login(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.ctrl.Login(c.Request.Context(), body)
	if err != nil {
		h.respondError(c, "Login failed", err)
		return
	}
	if resp.Session != nil {
		setSessionCookies(c, resp.Session)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HTTPHandler) logout(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ctrl.Logout(c.Request.Context(), h.authUserID(c), body); err != nil {
		h.respondError(c, "Logout failed", err)
		return
	}
	clearSessionCookies(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out successfully"})
}

func (h *HTTPHandler) verifyTOTP(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.ctrl.VerifyTOTP(c.Request.Context(), body)
	if err != nil {
		h.respondError(c, "MFA verification failed", err)
		return
	}
	if resp.Session != nil {
		setSessionCookies(c, resp.Session)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HTTPHandler) verifyEmail(c *gin.Context) {
	result, err := h.ctrl.VerifyEmail(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		h.redirectError(c, "Email verification failed", err)
		return
	}
	setSessionCookies(c, result.Session)

	target := result.RedirectTo
	if u, parseErr := url.Parse(target); parseErr == nil {
		q := u.Query()
		q.Set("refreshToken", result.Session.RefreshToken)
		u.RawQuery = q.Encode()
		target = u.String()
	}
	c.Redirect(http.StatusFound, target)
}

func (h *HTTPHandler) changeEmail(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ctrl.RequestEmailChange(c.Request.Context(), h.authUserID(c), body); err != nil {
		h.respondError(c, "Email change request failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "verification email sent"})
}

func (h *HTTPHandler) confirmEmailChange(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ctrl.ConfirmEmailChange(c.Request.Context(), body); err != nil {
		h.respondError(c, "Email change confirmation failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email updated"})
}

func (h *HTTPHandler) resendConfirmation(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ctrl.ResendConfirmation(c.Request.Context(), body); err != nil {
		h.respondError(c, "Confirmation resend failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "verification email sent"})
}

func (h *HTTPHandler) requestPasswordReset(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ctrl.RequestPasswordReset(c.Request.Context(), body); err != nil {
		h.respondError(c, "Password reset request failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password reset email sent"})
}

func (h *HTTPHandler) resetPassword(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ctrl.ResetPassword(c.Request.Context(), body); err != nil {
		h.respondError(c, "Password reset failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

func (h *HTTPHandler) whitelistEmail(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ctrl.WhitelistEmail(c.Request.Context(), body); err != nil {
		h.respondError(c, "Whitelisting failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "email whitelisted"})
}

func (h *HTTPHandler) whitelistCheck(c *gin.Context) {
	whitelisted, err := h.ctrl.IsWhitelisted(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		h.respondError(c, "Whitelist lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"whitelisted": whitelisted})
}

func (h *HTTPHandler) providerSignIn(c *gin.Context) {
	signIn, err := h.ctrl.SignInProvider(c.Param("provider"), c.Request.URL.Query())
	if err != nil {
		h.respondError(c, "Provider sign in failed", err)
		return
	}

	secure := os.Getenv("ENVIRONMENT") == "production"
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(ProviderStateCookie, signIn.State, StateCookieMaxAge, "/providers", "", secure, true)
	c.Redirect(http.StatusFound, signIn.AuthorizationURL)
}

func (h *HTTPHandler) providerCallback(c *gin.Context) {
	cb, err := h.ctrl.HandleProviderCallback(c.Param("provider"), c.Request.URL.Query())
	if err != nil {
		h.redirectError(c, "Provider callback failed", err)
		return
	}

	cookieState, _ := c.Cookie(ProviderStateCookie)
	if subtle.ConstantTimeCompare([]byte(cookieState), []byte(cb.State)) != 1 {
		h.redirectError(c, "Provider callback failed",
			&Error{"state_mismatch", "state token does not match this browser session"})
		return
	}
	c.SetCookie(ProviderStateCookie, "", -1, "/providers", "", false, true)

	// The provider's response travels back to the application untouched.
	target := h.ctrl.Config().RedirectURLSuccess
	if u, parseErr := url.Parse(target); parseErr == nil {
		q := u.Query()
		for key, values := range cb.Params {
			for _, value := range values {
				q.Add(key, value)
			}
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}
	c.Redirect(http.StatusFound, target)
}

func (h *HTTPHandler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HTTPHandler) jwks(c *gin.Context) {
	c.JSON(http.StatusOK, h.verifier.JWKS())
}

// requireAdmin guards management routes with the shared admin secret.
func (h *HTTPHandler) requireAdmin(c *gin.Context) {
	secret := c.GetHeader("X-Admin-Secret")
	if h.adminSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.adminSecret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin secret"})
		return
	}
	c.Next()
}

// authUserID extracts the authenticated user from the request, or returns
// an empty string for anonymous callers.
func (h *HTTPHandler) authUserID(c *gin.Context) string {
	token := getTokenFromCookieOrHeader(c)
	if token == "" {
		return ""
	}
	userID, err := h.verifier.VerifySubject(token)
	if err != nil {
		return ""
	}
	return userID
}

func (h *HTTPHandler) respondError(c *gin.Context, what string, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, verr)
		return
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		h.logger.Warn(what, zap.String("code", svcErr.Code))
		c.JSON(statusForCode(svcErr.Code), gin.H{
			"error":             svcErr.Code,
			"error_description": svcErr.Message,
		})
		return
	}
	h.logger.Error(what, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

// redirectError sends browser flows to the configured error page instead
// of answering with JSON.
func (h *HTTPHandler) redirectError(c *gin.Context, what string, err error) {
	target := h.ctrl.Config().RedirectURLError
	if target == "" {
		h.respondError(c, what, err)
		return
	}

	code := "internal_error"
	var svcErr *Error
	var verr *ValidationError
	switch {
	case errors.As(err, &svcErr):
		h.logger.Warn(what, zap.String("code", svcErr.Code))
		code = svcErr.Code
	case errors.As(err, &verr):
		code = "invalid_request"
	default:
		h.logger.Error(what, zap.Error(err))
	}

	if u, parseErr := url.Parse(target); parseErr == nil {
		q := u.Query()
		q.Set("error", code)
		u.RawQuery = q.Encode()
		target = u.String()
	}
	c.Redirect(http.StatusFound, target)
}

func statusForCode(code string) int {
	switch code {
	case ErrInvalidCredentials.Code, ErrUnauthenticated.Code, ErrInvalidTicket.Code,
		ErrInvalidOTP.Code, ErrUserDisabled.Code, ErrUnverifiedUser.Code:
		return http.StatusUnauthorized
	case ErrEmailInUse.Code, ErrEmailAlreadyVerified.Code:
		return http.StatusConflict
	case ErrUnknownProvider.Code:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
