package main

import (
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/vakharwalad23/google-mcp-remote/pkg"
	"github.com/vakharwalad23/google-mcp-remote/pkg/approval"
	"github.com/vakharwalad23/google-mcp-remote/pkg/authserver"
	"github.com/vakharwalad23/google-mcp-remote/pkg/googleauth"
	"github.com/vakharwalad23/google-mcp-remote/pkg/prettylog"
	"github.com/vakharwalad23/google-mcp-remote/pkg/relay"
	"github.com/vakharwalad23/google-mcp-remote/pkg/util"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func main() {
	godotenv.Load()

	logLevel := slog.LevelInfo
	if util.GetEnv("LOG_LEVEL", "") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(prettylog.NewHandler(logLevel)))

	baseURL := util.GetEnv("BASE_URL", "http://localhost:8080")

	cookieSecret := os.Getenv("COOKIE_SECRET")
	if cookieSecret == "" {
		log.Fatal("COOKIE_SECRET not set")
	}

	registry, err := authserver.LoadRegistry(util.GetEnv("CLIENT_REGISTRY_PATH", "clients.yaml"))
	if err != nil {
		log.Fatal(err)
	}

	upstream, err := googleauth.NewClient(googleauth.Config{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		RedirectURI:  baseURL + "/callback",
	})
	if err != nil {
		log.Fatal(err)
	}

	authz, err := authserver.NewServer(
		authserver.WithRegistry(registry),
		authserver.WithIssuer(baseURL),
		authserver.WithSigningKeyFromFile(os.Getenv("SIGNING_KEY_PATH"), authserver.UseRandomIfNotAvailable),
	)
	if err != nil {
		log.Fatal(err)
	}

	dialog := approval.NewDialog(approval.ServerMetadata{
		Name:        util.GetEnv("SERVER_NAME", "Google MCP Remote"),
		Description: "Remote gateway brokering agent access to Google APIs",
	}, []byte(cookieSecret))

	relayServer, err := relay.NewServer(
		relay.WithAuthorizationServer(authz),
		relay.WithUpstreamClient(upstream),
		relay.WithApprovalDialog(dialog),
		relay.WithCookieSecret([]byte(cookieSecret)),
	)
	if err != nil {
		log.Fatal(err)
	}

	root := echo.New()
	root.HideBanner = true
	root.Validator = &CustomValidator{validator: validator.New()}
	root.Use(
		middleware.Recover(),
		middleware.Logger(),
	)

	relayServer.MountRoutes(root.Group(""))
	authz.MountRoutes(root.Group(""))

	addr := util.GetEnv("SERVER_ADDR", ":8080")
	slog.Info("Starting google-mcp-remote", "addr", addr, "version", pkg.Version)

	if certPath := os.Getenv("TLS_CERT_PATH"); certPath != "" {
		keyPath := os.Getenv("TLS_KEY_PATH")
		if keyPath == "" {
			log.Fatal("TLS_KEY_PATH not set")
		}
		log.Fatal(root.StartTLS(addr, certPath, keyPath))
	}

	log.Fatal(root.Start(addr))
}
