package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"nextup/api"
	"nextup/session"
	"nextup/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTableName := envString("TASKS_TABLE", "tasks")
	projectsTableName := envString("PROJECTS_TABLE", "projects")
	commandQueueName := envString("COMMAND_QUEUE", "commands")
	if connStr == "" {
		log.Fatal("missing storage config")
	}
	remote, err := storage.NewRemote(connStr, tasksTableName, projectsTableName, commandQueueName)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := redis.ParseURL(redisConn)
	if err != nil {
		parts := strings.Split(redisConn, ",")
		redisOpts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				redisOpts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					redisOpts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	rc := redis.NewClient(redisOpts)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	deduper := api.NewRedisDeduper(rc, envDur("DEDUPER_TTL", 24*time.Hour))

	var auth *api.Auth
	if os.Getenv("LOCAL_AUTH_MODE") != "" {
		auth = api.NewAuth(nil, "", "")
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		domain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+domain+"/")
	}

	logger := log.New()
	manager := session.NewManager(session.Config{
		MaxRetries:    envInt("QUEUE_MAX_RETRIES", 5),
		FlushInterval: envDur("FLUSH_INTERVAL", 30*time.Second),
	}, remote, storage.NewRedisKV(rc, "nextup"), rc, logger)
	defer manager.Close()

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())
	e.Use(echoprometheus.NewMiddleware("nextup"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, api.ManagerSessions(manager), auth, deduper, logger)
	api.RegisterStream(e, rc, auth, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
