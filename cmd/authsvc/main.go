package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dhawalhost/gateseal/internal/auth"
	"github.com/dhawalhost/gateseal/internal/mailer"
	"github.com/dhawalhost/gateseal/internal/providers"
	"github.com/dhawalhost/gateseal/internal/token"
	"github.com/dhawalhost/gateseal/pkg/database"
	"github.com/dhawalhost/gateseal/pkg/logger"
	"github.com/dhawalhost/gateseal/pkg/middleware"
	"github.com/dhawalhost/gateseal/pkg/observability"
)

func main() {
	_ = godotenv.Load(".env")

	logr, err := logger.New(getenv("LOG_LEVEL", "info"))
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logr.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    "authsvc",
		ServiceVersion: getenv("SERVICE_VERSION", "dev"),
		Environment:    getenv("ENVIRONMENT", "development"),
	}, logr)
	if err != nil {
		logr.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logr.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.NewConnection(database.Config{
		Host:     getenv("DB_HOST", "localhost"),
		Port:     getenvInt("DB_PORT", 5432),
		User:     getenv("DB_USER", "postgres"),
		Password: getenv("DB_PASSWORD", "postgres"),
		DBName:   getenv("DB_NAME", "gateseal"),
		SSLMode:  getenv("DB_SSLMODE", "disable"),
	})
	if err != nil {
		logr.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	baseURL := getenv("BASE_URL", "http://localhost:8080")

	var privateKeyPEM []byte
	if keyFile := os.Getenv("JWT_PRIVATE_KEY_FILE"); keyFile != "" {
		privateKeyPEM, err = os.ReadFile(keyFile)
		if err != nil {
			logr.Fatal("Failed to read JWT private key", zap.Error(err))
		}
	} else {
		logr.Warn("JWT_PRIVATE_KEY_FILE not set, generating an ephemeral signing key")
	}

	issuer, err := token.New(token.Config{
		Issuer:         getenv("JWT_ISSUER", "gateseal"),
		KeyID:          getenv("JWT_KEY_ID", "gateseal-key-1"),
		AccessTokenTTL: getenvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		PrivateKeyPEM:  privateKeyPEM,
	})
	if err != nil {
		logr.Fatal("Failed to initialize token issuer", zap.Error(err))
	}

	mail := mailer.New(mailer.Config{
		Host:     getenv("SMTP_HOST", "localhost"),
		Port:     getenvInt("SMTP_PORT", 587),
		Username: os.Getenv("SMTP_USER"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     getenv("SMTP_FROM", "no-reply@gateseal.local"),
		BaseURL:  baseURL,
	}, logr)

	registry, err := providers.New(baseURL, providerConfigs())
	if err != nil {
		logr.Fatal("Failed to configure OAuth providers", zap.Error(err))
	}

	userStore := auth.NewSQLUserStore(db)

	ctrl, err := auth.New(auth.Config{
		MinPasswordLength:        getenvInt("MIN_PASSWORD_LENGTH", 0),
		AllowedEmailDomains:      os.Getenv("ALLOWED_EMAIL_DOMAINS"),
		AllowedRedirectURLs:      splitCSVEnv("ALLOWED_REDIRECT_URLS"),
		CustomRegisterFields:     splitCSVEnv("CUSTOM_REGISTER_FIELDS"),
		DefaultLocale:            getenv("DEFAULT_LOCALE", "en"),
		DefaultRole:              getenv("DEFAULT_ROLE", "user"),
		AllowedRoles:             splitCSVEnv("ALLOWED_ROLES"),
		RedirectURLSuccess:       getenv("REDIRECT_URL_SUCCESS", baseURL),
		RedirectURLError:         os.Getenv("REDIRECT_URL_ERROR"),
		RequireEmailVerification: getenvBool("REQUIRE_EMAIL_VERIFICATION", false),
		MagicLinkEnabled:         getenvBool("MAGIC_LINK_ENABLED", false),
		AnonymousUsersEnabled:    getenvBool("ANONYMOUS_USERS_ENABLED", false),
		WhitelistEnabled:         getenvBool("WHITELIST_ENABLED", false),
		HIBPEnabled:              getenvBool("HIBP_ENABLED", false),
		GravatarEnabled:          getenvBool("GRAVATAR_ENABLED", true),
		GravatarDefault:          getenv("GRAVATAR_DEFAULT", "blank"),
		GravatarRating:           getenv("GRAVATAR_RATING", "g"),
		RefreshTokenTTL:          getenvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		TicketTTL:                getenvDuration("TICKET_TTL", time.Hour),
	}, auth.Collaborators{
		Store:     userStore,
		Whitelist: auth.NewSQLWhitelistStore(db),
		Mailer:    mail,
		Breach:    auth.NewHIBPClient(),
		Issuer:    issuer,
		OTP:       auth.NewTOTPVerifier(),
		Providers: registry,
	}, logr)
	if err != nil {
		logr.Fatal("Failed to construct auth controller", zap.Error(err))
	}

	if getenv("ENVIRONMENT", "development") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := observability.NewMetrics()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("authsvc"))
	router.Use(observability.PrometheusMiddleware(metrics))
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.RateLimitMiddleware(
		rate.Limit(getenvInt("RATE_LIMIT_RPS", 20)),
		getenvInt("RATE_LIMIT_BURST", 40),
	))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     splitCSVEnv("CORS_ALLOWED_ORIGINS"),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Admin-Secret"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/metrics", gin.WrapH(observability.PrometheusHandler()))

	handler := auth.NewHTTPHandler(ctrl, issuer, os.Getenv("ADMIN_SECRET"), logr)
	handler.RegisterRoutes(router)

	// Expired refresh tokens only stop validating on their own; the rows
	// still need sweeping.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := userStore.CleanupExpiredTokens(context.Background()); err != nil {
					logr.Warn("Refresh token cleanup failed", zap.Error(err))
				}
			}
		}
	}()

	addr := ":" + getenv("PORT", "8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("HTTP server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// providerConfigs assembles OAuth provider settings from PROVIDER_<NAME>_*
// environment variables. A provider is enabled by setting its client id.
func providerConfigs() []providers.Config {
	var configs []providers.Config
	for _, name := range []string{"google", "github", "facebook", "linkedin"} {
		prefix := "PROVIDER_" + strings.ToUpper(name) + "_"
		clientID := os.Getenv(prefix + "CLIENT_ID")
		if clientID == "" {
			continue
		}
		configs = append(configs, providers.Config{
			Name:         name,
			ClientID:     clientID,
			ClientSecret: os.Getenv(prefix + "CLIENT_SECRET"),
			Scopes:       splitCSV(os.Getenv(prefix + "SCOPES")),
			AuthURL:      os.Getenv(prefix + "AUTH_URL"),
			TokenURL:     os.Getenv(prefix + "TOKEN_URL"),
		})
	}
	return configs
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSVEnv(key string) []string {
	return splitCSV(os.Getenv(key))
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
