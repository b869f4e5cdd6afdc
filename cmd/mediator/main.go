package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"

	"github.com/affinidi/didcomm-mediator/core"
	"github.com/affinidi/didcomm-mediator/x/account"
	"github.com/affinidi/didcomm-mediator/x/audit"
	"github.com/affinidi/didcomm-mediator/x/didcomm"
	"github.com/affinidi/didcomm-mediator/x/dispatch"
	"github.com/affinidi/didcomm-mediator/x/envelope"
	"github.com/affinidi/didcomm-mediator/x/expiry"
	"github.com/affinidi/didcomm-mediator/x/forward"
	"github.com/affinidi/didcomm-mediator/x/jwt"
	"github.com/affinidi/didcomm-mediator/x/mailbox"
	"github.com/affinidi/didcomm-mediator/x/oob"
	"github.com/affinidi/didcomm-mediator/x/peer"
	"github.com/affinidi/didcomm-mediator/x/problem"
	"github.com/affinidi/didcomm-mediator/x/resolver"
	"github.com/affinidi/didcomm-mediator/x/session"
	"github.com/affinidi/didcomm-mediator/x/socket"
	"github.com/affinidi/didcomm-mediator/x/util"
)

var version = "unknown"

func main() {
	handler := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(handler))

	slog.Info(fmt.Sprintf("didcomm-mediator %s starting...", version))

	configPath := os.Getenv("MEDIATOR_CONFIG")
	if configPath == "" {
		configPath = "/etc/mediator/config.yaml"
	}
	config, err := util.LoadConfig(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	e := echo.New()
	e.HidePort = true
	e.HideBanner = true

	if config.Server.EnableTrace {
		cleanup, err := setupTraceProvider(config.Server.TraceEndpoint, config.Mediator.DID, version)
		if err != nil {
			panic(err)
		}
		defer cleanup()

		skipper := otelecho.WithSkipper(func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/health"
		})
		e.Use(otelecho.Middleware("mediator", skipper))
	}

	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace: "mediator",
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/health"
		},
	}))
	e.Use(middleware.Recover())

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             300 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(config.Server.Dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		slog.Error("failed to connect database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sqlDB, err := db.DB()
	if err != nil {
		slog.Error("failed to obtain sql.DB handle", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sqlDB.Close()

	if config.Server.EnableTrace {
		if err := db.Use(tracing.NewPlugin(tracing.WithDBName("postgres"))); err != nil {
			slog.Error("failed to set up gorm tracing plugin", slog.String("error", err.Error()))
		}
	}

	if err := db.AutoMigrate(&core.ForwardTask{}, &core.AuditEntry{}, &peer.Record{}); err != nil {
		slog.Error("failed to migrate schema", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: config.Server.RedisAddr})

	mc := memcache.New(config.Server.MemcachedAddr)
	defer mc.Close()

	identity, err := didcomm.NewIdentity(config.Mediator.DID, config.Mediator.PrivateKeyJWK)
	if err != nil {
		slog.Error("failed to load mediator signing identity", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := verifyEd25519Identity(identity); err != nil {
		slog.Error("mediator identity key mismatch", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- service layer ---

	resolverSvc := resolver.NewService(1000, 10*time.Minute, mc)
	didcommSvc := didcomm.NewService(resolverSvc, identity)

	accountRepo := account.NewRepository(rdb)
	accounts := account.NewService(accountRepo, config, config.Mediator.DID)

	socketSvc := socket.NewService(rdb)
	socketHandler := socket.NewHandler(socketSvc)

	mailboxRepo := mailbox.NewRepository(rdb)
	mailboxes := mailbox.NewService(mailboxRepo, accounts, socketSvc, config)

	jwtRepo := jwt.NewRepository(rdb)
	tokens := jwt.NewService(jwtRepo, config.Mediator.TokenSigningKey)

	sessionRepo := session.NewRepository(rdb)
	sessions := session.NewService(sessionRepo, tokens, config)
	sessionHandler := session.NewHandler(sessions, didcommSvc, accounts, config.Mediator.DID)

	peerRepo := peer.NewRepository(db)
	peers := peer.NewService(peerRepo, resolverSvc, config.Mediator.DID)
	peerHandler := peer.NewHandler(peers)

	auditRepo := audit.NewRepository(db)
	auditSvc := audit.NewService(auditRepo)
	auditHandler := audit.NewHandler(auditSvc)

	oobRepo := oob.NewRepository(rdb)
	oobSvc := oob.NewService(oobRepo, config.TTL.OOBInvite)
	oobHandler := oob.NewHandler(oobSvc)

	forwardRepo := forward.NewRepository(db)
	forwards := forward.NewService(forwardRepo, config)
	problemReporter := problem.NewMailboxReporter(mailboxes, accounts, config.TTL.AdminMessages)
	forwardReactor := forward.NewReactor(forwardRepo, peers, problemReporter, didcommSvc, config, 4)

	dispatcher := dispatch.NewDispatcher(didcommSvc, accounts, mailboxes, socketSvc, auditSvc, sessions, config, config.Mediator.DID)

	envelopeSvc := envelope.NewService(didcommSvc, accounts, mailboxes, forwards, dispatcher, peers, config)

	expiryReactor := expiry.NewReactor(mailboxes, accounts, config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	forwardReactor.Start(ctx)
	expiryReactor.Start(ctx)

	// --- HTTP surface (spec §6 Endpoints) ---

	group := e.Group(config.Server.PathPrefix)

	group.POST("/authenticate", sessionHandler.Authenticate)
	group.POST("/authentication/refresh", sessionHandler.Refresh)
	group.GET("/oob", oobHandler.Get)
	group.GET("/.well-known/did.json", didDocumentHandler(config, identity))

	authed := group.Group("", session.RequireSession(sessions))
	authed.POST("/inbound", inboundHandler(envelopeSvc))
	authed.GET("/outbound", outboundHandler(mailboxes))
	authed.POST("/delete", deleteHandler(mailboxes))
	authed.GET("/ws", socketHandler.Connect)
	authed.POST("/oob", oobHandler.Create)
	authed.DELETE("/oob/:id", oobHandler.Delete)

	admin := authed.Group("", requireAdmin(accounts))
	admin.GET("/admin/peers", peerHandler.List)
	admin.DELETE("/admin/peers/:didHash", peerHandler.Delete)
	admin.GET("/admin/audit", auditHandler.List)

	e.GET("/health", func(c echo.Context) error {
		if err := sqlDB.Ping(); err != nil {
			return c.String(http.StatusInternalServerError, "db error")
		}
		if err := rdb.Ping(c.Request().Context()).Err(); err != nil {
			return c.String(http.StatusInternalServerError, "redis error")
		}
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echoprometheus.NewHandler())

	e.Logger.Fatal(e.StartTLS(config.Server.ListenAddr, config.Server.TLSCert, config.Server.TLSKey))
}

// requireAdmin extends session.RequireSession: it looks up the calling
// session's account type and rejects anything below Admin, setting
// core.RequesterTypeCtxKey for downstream handlers (x/oob's owner-or-admin
// delete check reads it the same way). Kept here rather than in x/session,
// since answering "is this DID an admin" needs the account store, which
// session deliberately has no dependency on.
func requireAdmin(accounts account.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			didHash, _ := ctx.Value(core.RequesterDidHashCtxKey).(string)
			if didHash == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}

			acc, err := accounts.Get(ctx, didHash)
			if err != nil {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			if acc.Type != core.AccountTypeAdmin && acc.Type != core.AccountTypeRootAdmin {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}

			ctx = context.WithValue(ctx, core.RequesterTypeCtxKey, acc.Type)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// inboundHandler implements POST /inbound (spec §6): the request body is
// the raw DIDComm envelope, run through the fixed-order pipeline of
// x/envelope. A problem.Error is rendered as a report-problem body mirrored
// over the HTTP status per spec §7; anything else is an unexpected fault.
func inboundHandler(envelopes envelope.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		raw, err := readBody(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unable to read request body"})
		}

		sessionDIDHash, _ := ctx.Value(core.RequesterDidHashCtxKey).(string)

		result, err := envelopes.Process(ctx, raw, sessionDIDHash)
		if err != nil {
			var probErr problem.Error
			if errors.As(err, &probErr) {
				return problem.Render(c, probErr)
			}
			return problem.RenderUnknown(c, err)
		}

		return c.JSON(http.StatusOK, echo.Map{"outcome": result.Outcome})
	}
}

func readBody(c echo.Context) ([]byte, error) {
	defer c.Request().Body.Close()
	return io.ReadAll(c.Request().Body)
}

type outboundMessage struct {
	ContentHash string `json:"contentHash"`
	Envelope    string `json:"envelope"`
	ReceivedAt  int64  `json:"receivedAt"`
	ExpiresAt   int64  `json:"expiresAt"`
}

// outboundHandler implements GET /outbound (spec §6): the REST fallback to
// pickup, listing a caller's own receive queue.
func outboundHandler(mailboxes mailbox.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		didHash, _ := ctx.Value(core.RequesterDidHashCtxKey).(string)

		cursor := c.QueryParam("cursor")
		var limit int64
		if v := c.QueryParam("limit"); v != "" {
			json.Unmarshal([]byte(v), &limit)
		}

		messages, next, err := mailboxes.List(ctx, didHash, mailbox.QueueReceive, cursor, limit)
		if err != nil {
			return problem.RenderUnknown(c, err)
		}

		out := make([]outboundMessage, 0, len(messages))
		for _, m := range messages {
			out = append(out, outboundMessage{
				ContentHash: m.ContentHash,
				Envelope:    string(m.Envelope),
				ReceivedAt:  m.ReceivedAt.Unix(),
				ExpiresAt:   m.ExpiresAt.Unix(),
			})
		}
		return c.JSON(http.StatusOK, echo.Map{"messages": out, "cursor": next})
	}
}

type deleteRequest struct {
	ContentHashes []string `json:"contentHashes"`
}

// deleteHandler implements POST /delete (spec §6): acknowledging and
// removing up to the configured batch size of messages from the caller's
// receive queue.
func deleteHandler(mailboxes mailbox.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		didHash, _ := ctx.Value(core.RequesterDidHashCtxKey).(string)

		var req deleteRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
		}

		removed, err := mailboxes.Delete(ctx, didHash, mailbox.QueueReceive, req.ContentHashes)
		if err != nil {
			return problem.RenderUnknown(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"removed": removed})
	}
}

type didDocumentVerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

type didDocumentService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

type didDocument struct {
	Context            []string                        `json:"@context"`
	ID                 string                           `json:"id"`
	VerificationMethod []didDocumentVerificationMethod  `json:"verificationMethod"`
	Authentication     []string                         `json:"authentication"`
	KeyAgreement       []string                         `json:"keyAgreement"`
	Service            []didDocumentService             `json:"service"`
}

// didDocumentHandler implements GET /.well-known/did.json (spec §6,
// optional self-hosted DID document): the mediator's own did:key identifier
// already encodes its public signing key in the multibase suffix, so the
// document is built straight from the DID string rather than a resolver
// round-trip, the same derivation x/resolver's resolveDIDKey applies to any
// other did:key it is asked to look up.
func didDocumentHandler(config core.Config, identity *didcomm.Identity) echo.HandlerFunc {
	const prefix = "did:key:"
	multibase := ""
	if len(config.Mediator.DID) > len(prefix) {
		multibase = config.Mediator.DID[len(prefix):]
	}
	vmID := config.Mediator.DID + "#" + multibase

	doc := didDocument{
		Context: []string{"https://www.w3.org/ns/did/v1"},
		ID:      config.Mediator.DID,
		VerificationMethod: []didDocumentVerificationMethod{{
			ID:                 vmID,
			Type:               "Ed25519VerificationKey2020",
			Controller:         config.Mediator.DID,
			PublicKeyMultibase: multibase,
		}},
		Authentication: []string{vmID},
		KeyAgreement:   []string{vmID},
		Service: []didDocumentService{{
			ID:              config.Mediator.DID + "#didcomm",
			Type:            "DIDCommMessaging",
			ServiceEndpoint: config.Mediator.ServiceEndpoint,
		}},
	}

	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, doc)
	}
}

// verifyEd25519Identity is a startup sanity check that the configured
// private key is an ed25519 private key. It does not compare the key with
// the configured DID.
func verifyEd25519Identity(identity *didcomm.Identity) error {
	if _, ok := identity.Key.Key.(ed25519.PrivateKey); !ok {
		return fmt.Errorf("mediator private key is not ed25519")
	}
	return nil
}

func setupTraceProvider(endpoint string, serviceName string, serviceVersion string) (func(), error) {
	exporter, err := otlptracehttp.New(context.Background(), otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(serviceVersion),
	)

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := tracerProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shut down tracer provider", slog.String("error", err.Error()))
		}
	}
	return cleanup, nil
}
