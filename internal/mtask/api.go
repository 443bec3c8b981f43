package mtask

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	auth "kyri56xcaesar/pms-tracker/internal/authmw"
	"kyri56xcaesar/pms-tracker/internal/config"
	"kyri56xcaesar/pms-tracker/internal/mteam"
	"kyri56xcaesar/pms-tracker/internal/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const (
	apiVersion = "/api/v1"
)

// Backend holds the services built on one store driver.
type Backend struct {
	Teams *mteam.Service
	Scope *Scope

	close func()
}

func NewBackend(teams mteam.Store, tasks TaskStore, comments CommentStore, closeFn func()) *Backend {
	svc := mteam.NewService(teams)
	return &Backend{
		Teams: svc,
		Scope: NewScope(svc, NewTaskRepository(tasks, svc), NewCommentRepository(comments)),
		close: closeFn,
	}
}

// OpenBackend connects to the configured database and applies the schema.
func OpenBackend(ctx context.Context, cfg config.Config) (*Backend, error) {
	switch cfg.DBDriver {
	case storage.DriverPostgres:
		pool, err := storage.OpenPostgres(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, err
		}
		store := NewPGStore(pool)
		return NewBackend(mteam.NewPGStore(pool), store, store, pool.Close), nil
	case storage.DriverSQLite:
		db, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		store := NewSQLiteStore(db)
		return NewBackend(mteam.NewSQLiteStore(db), store, store, func() { _ = db.Close() }), nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
	}
}

func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// IdentitySink stores an authenticated or imported identity as a local user.
func (b *Backend) IdentitySink(ctx context.Context, id auth.Identity) error {
	return b.Teams.EnsureUser(ctx, mteam.User{ID: id.UserID, Name: id.DisplayName()})
}

// NewAuth builds the token verifier for cfg.AuthMode. HMAC mode checks the
// signature and expiry only.
func NewAuth(cfg config.Config) (*auth.KeycloakAuth, error) {
	switch cfg.AuthMode {
	case "keycloak":
		return auth.NewKeycloakAuth(cfg.JWKSURL(), cfg.Issuer, cfg.Audience, cfg.ClientID)
	case "hmac":
		return auth.NewHMACAuth([]byte(cfg.JWTSecret), "", "")
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
	}
}

// NewAdminClient returns the Keycloak admin client used to import users.
func NewAdminClient(cfg config.Config) (*auth.Service, error) {
	if cfg.AuthMode != "keycloak" || cfg.ClientSecret == "" {
		return nil, errors.New("keycloak admin client not configured (AUTH_MODE=keycloak and KC_CLIENT_SECRET required)")
	}
	return auth.NewService(cfg.AuthAddress, cfg.Realm, cfg.ClientID, cfg.ClientSecret)
}

func setCors(engine *gin.Engine, cfg config.Config) {
	corsconfig := cors.DefaultConfig()
	corsconfig.AllowOrigins = cfg.AllowedOrigins
	corsconfig.AllowMethods = cfg.AllowedMethods
	corsconfig.AllowHeaders = cfg.AllowedHeaders
	corsconfig.ExposeHeaders = []string{auth.RequestIDHeader}
	engine.Use(cors.New(corsconfig))
}

// NewRouter wires every route. Each accepted token upserts its subject into
// the users table before the handler runs. admin may be nil.
func NewRouter(cfg config.Config, b *Backend, kcAuth *auth.KeycloakAuth, admin *auth.Service) *gin.Engine {
	engine := gin.Default()
	engine.Use(auth.RequestID())
	setCors(engine, cfg)

	kcAuth.OnIdentity = b.IdentitySink

	root := engine.Group("/")
	{
		root.GET("/healthz", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "alive"})
		})
	}

	secure := engine.Group(apiVersion + "/auth")
	secure.Use(kcAuth.RequireRoles())
	NewHandler(b.Scope).RegisterRoutes(secure)
	teams := mteam.NewHandler(b.Teams)
	teams.RegisterRoutes(secure)

	adminGroup := engine.Group(apiVersion + "/admin")
	adminGroup.Use(kcAuth.RequireRoles("admin"))
	{
		adminGroup.POST("/users/sync", handleUserSync(admin, b))
		teams.RegisterAdminRoutes(adminGroup)
	}

	return engine
}

func handleUserSync(admin *auth.Service, b *Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		if admin == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "keycloak admin client not configured"})
			return
		}

		n, err := admin.SyncUsers(c.Request.Context(), b.IdentitySink)
		if err != nil {
			log.Printf("[%s] user sync stopped after %d users: %v", c.GetString(auth.RequestIDKey), n, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "user sync failed", "synced": n})

			return
		}

		c.JSON(http.StatusOK, gin.H{"synced": n})
	}
}

func InitAndServe(cfg config.Config) error {
	setGinMode(cfg.ApiGinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("could not open the database: %w", err)
	}
	defer backend.Close()

	kcAuth, err := NewAuth(cfg)
	if err != nil {
		return fmt.Errorf("could not init auth: %w", err)
	}

	admin, err := NewAdminClient(cfg)
	if err != nil {
		log.Printf("user sync disabled: %v", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           NewRouter(cfg, backend, kcAuth, admin),
		ReadHeaderTimeout: time.Second * 5,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %s\n", err)
		}
	}()
	log.Printf("serving on :%s (db=%s, auth=%s)", cfg.Port, cfg.DBDriver, cfg.AuthMode)

	<-ctx.Done()

	stop()
	log.Println("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server exiting")
	return nil
}

func setGinMode(mode string) {
	switch strings.ToLower(mode) {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "envgin":
		gin.SetMode(gin.EnvGinMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}
}
