package api

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/woozar/prophecy-sub003/broker"
	"github.com/woozar/prophecy-sub003/domain"
	"github.com/woozar/prophecy-sub003/internal/consts"
)

const (
	streamPath  = "/events"
	publishPath = "/events/publish"
)

// Broker is the part of the event broker the HTTP surface relies on.
type Broker interface {
	AddClient(id string, sink broker.Sink)
	RemoveClientSink(id string, sink broker.Sink)
	Broadcast(ev domain.Event)
	SendToClient(id string, ev domain.Event)
	ClientCount() int
}

// Options configures the HTTP surface. A nil Auth leaves the stream open to
// anonymous subscribers; an empty PublishToken disables the publish endpoint.
type Options struct {
	Auth          Authenticator
	PublishToken  string
	WriteTimeout  time.Duration
	StreamLimiter *rate.Limiter
	Logger        *log.Logger
}

type connectedPayload struct {
	ClientID string `json:"clientId"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

// Register wires up stream endpoints on the given Echo instance.
func Register(e *echo.Echo, b Broker, opts Options) {
	opts = opts.withDefaults()
	e.GET(streamPath, streamEvents(b, opts), AdmitStreams(opts.StreamLimiter))
	if opts.PublishToken != "" {
		e.POST(publishPath, publishEvent(b, opts.PublishToken, opts.Logger), PublishBody(consts.PublishMaxSize))
	}
	e.GET("/healthz", healthz(b))
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = log.New()
		o.Logger.SetOutput(io.Discard)
	}
	return o
}

func healthz(b Broker) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, healthResponse{Status: "ok", Clients: b.ClientCount()})
	}
}

func streamEvents(b Broker, opts Options) echo.HandlerFunc {
	opts = opts.withDefaults()
	return func(c echo.Context) error {
		var userID string
		if opts.Auth != nil {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if token := c.QueryParam("token"); authHeader == "" && token != "" {
				authHeader = "Bearer " + token
			}
			var err error
			userID, err = opts.Auth.UserIDFromAuthHeader(authHeader)
			if err != nil {
				return c.String(http.StatusUnauthorized, err.Error())
			}
		}

		clientID := strings.TrimSpace(c.QueryParam("clientId"))
		if clientID == "" {
			clientID = uuid.NewString()
		} else if _, err := uuid.Parse(clientID); err != nil {
			return c.String(http.StatusBadRequest, "invalid clientId")
		}

		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		sink := newStreamSink(c.Response(), flusher, opts.WriteTimeout)
		if err := sink.Write([]byte(consts.SSERetryFrame)); err != nil {
			return nil
		}

		logger := opts.Logger.WithFields(log.Fields{"client_id": clientID, "user_id": userID})
		b.AddClient(clientID, sink)
		logger.Debug("stream opened")
		defer func() {
			sink.Close()
			b.RemoveClientSink(clientID, sink)
			logger.Debug("stream closed")
		}()

		b.SendToClient(clientID, domain.NewEvent(domain.Connected, connectedPayload{ClientID: clientID}))

		select {
		case <-c.Request().Context().Done():
		case <-sink.Done():
		}
		return nil
	}
}

// publishEvent accepts events from producers running outside this process.
func publishEvent(b Broker, token string, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !validPublishToken(c.Request().Header.Get(echo.HeaderAuthorization), token) {
			return c.NoContent(http.StatusUnauthorized)
		}
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return c.String(http.StatusRequestEntityTooLarge, "body too large")
			}
			return c.String(http.StatusBadRequest, "invalid body")
		}
		env, err := domain.ParseEnvelope(body)
		if err != nil {
			logger.WithError(err).Debug("rejected publish request")
			return c.String(http.StatusBadRequest, err.Error())
		}
		if env.ClientID != "" {
			b.SendToClient(env.ClientID, env.Event())
		} else {
			b.Broadcast(env.Event())
		}
		return c.NoContent(http.StatusAccepted)
	}
}

func validPublishToken(header, token string) bool {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) == 1
}
