package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tikcluster/tikwatch/internal/monitor"
	"github.com/tikcluster/tikwatch/internal/reservation"
	"github.com/tikcluster/tikwatch/internal/utils"
)

const headerRequestID = "X-Request-ID"

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Start the JSON API server",
	Long: `Start a web server exposing the dashboard as JSON. The dashboard is
rebuilt every --refresh interval; if a refresh fails the previous data keeps
being served.

Endpoints:
  GET /healthz
  GET /api/dashboard
  GET /api/supervisors
  GET /api/theses
  GET /api/reservations
  GET /api/reservations/unparsed
  GET /api/reservations/encode?user=&count=&resource=&comment=
  GET /api/alerts`,
	RunE: runWeb,
}

func init() {
	webCmd.Flags().IntP("port", "p", 8080, "Port to run the web server on")
	webCmd.Flags().String("host", "0.0.0.0", "Host to bind the web server to")
	webCmd.Flags().Bool("strict", false, "Reject reservations by unknown users and on unknown resources")
	rootCmd.AddCommand(webCmd)
}

func runWeb(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := getConfig()
	log := getLogger()

	source, err := openSource(ctx, config)
	if err != nil {
		return err
	}
	defer closeSource(source)

	cache, err := bigcache.New(ctx, bigcache.DefaultConfig(2*config.RefreshInterval))
	if err != nil {
		return fmt.Errorf("failed to create response cache: %w", err)
	}
	defer cache.Close()

	refresher := monitor.NewRefresher(ctx, source, monitorOptions(config, viper.GetBool("web.strict")), config.RefreshInterval, log)
	server := newWebServer(refresher, cache, log)
	refresher.OnRefresh = server.invalidate

	if err := refresher.Start(); err != nil {
		return err
	}
	defer refresher.Stop()

	e := server.routes()
	addr := fmt.Sprintf("%s:%d", viper.GetString("web.host"), viper.GetInt("web.port"))

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":    addr,
			"source":  source.Name(),
			"refresh": utils.FormatDuration(config.RefreshInterval),
		}).Info("Starting web server")
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("Shutting down web server")
	return e.Shutdown(shutdownCtx)
}

// dashboardSource is the part of monitor.Refresher the server reads from
type dashboardSource interface {
	Latest() *monitor.Dashboard
	LastError() error
}

type webServer struct {
	dashboards dashboardSource
	cache      *bigcache.BigCache
	log        logrus.FieldLogger
}

func newWebServer(dashboards dashboardSource, cache *bigcache.BigCache, log logrus.FieldLogger) *webServer {
	return &webServer{dashboards: dashboards, cache: cache, log: log}
}

func (ws *webServer) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(requestIDMiddleware())
	e.Use(accessLogMiddleware(ws.log))

	e.GET("/healthz", ws.handleHealth)

	api := e.Group("/api")
	api.GET("/dashboard", ws.cached("dashboard", func(d *monitor.Dashboard) interface{} {
		return d
	}))
	api.GET("/supervisors", ws.cached("supervisors", func(d *monitor.Dashboard) interface{} {
		return newSupervisorsOutput(d)
	}))
	api.GET("/theses", ws.cached("theses", func(d *monitor.Dashboard) interface{} {
		return d.Theses
	}))
	api.GET("/reservations", ws.cached("reservations", func(d *monitor.Dashboard) interface{} {
		return d.Reservations
	}))
	api.GET("/reservations/unparsed", ws.cached("unparsed", func(d *monitor.Dashboard) interface{} {
		return d.Unparsed
	}))
	api.GET("/alerts", ws.cached("alerts", func(d *monitor.Dashboard) interface{} {
		return checkOutput{Activity: d.Activity, Alerts: d.Alerts}
	}))
	api.GET("/reservations/encode", ws.handleEncode)

	return e
}

// invalidate drops cached responses after a refresh
func (ws *webServer) invalidate(*monitor.Dashboard) {
	if err := ws.cache.Reset(); err != nil {
		ws.log.WithError(err).Warn("Failed to reset response cache")
	}
}

// cached serves the JSON view of the latest dashboard, memoized per dashboard
func (ws *webServer) cached(name string, view func(*monitor.Dashboard) interface{}) echo.HandlerFunc {
	return func(c echo.Context) error {
		d := ws.dashboards.Latest()
		if d == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "dashboard not ready"})
		}

		key := name + "@" + strconv.FormatInt(d.GeneratedAt.UnixNano(), 10)
		if body, err := ws.cache.Get(key); err == nil {
			return c.JSONBlob(http.StatusOK, body)
		}

		body, err := json.Marshal(view(d))
		if err != nil {
			return err
		}
		if err := ws.cache.Set(key, body); err != nil {
			ws.log.WithError(err).WithField("key", key).Warn("Failed to cache response")
		}
		return c.JSONBlob(http.StatusOK, body)
	}
}

func (ws *webServer) handleHealth(c echo.Context) error {
	d := ws.dashboards.Latest()
	if d == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "starting"})
	}

	resp := map[string]interface{}{
		"status":       "ok",
		"source":       d.Source,
		"generated_at": d.GeneratedAt,
	}
	if err := ws.dashboards.LastError(); err != nil {
		resp["status"] = "stale"
		resp["last_error"] = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (ws *webServer) handleEncode(c echo.Context) error {
	count, err := strconv.Atoi(c.QueryParam("count"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "count must be an integer"})
	}

	line, err := reservation.Encode(c.QueryParam("user"), count, c.QueryParam("resource"), c.QueryParam("comment"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"line": line})
}

// requestIDMiddleware sets X-Request-ID if missing or invalid, and propagates it
func requestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Request().Header.Get(headerRequestID)
			if _, err := uuid.Parse(requestID); err != nil || requestID == "" {
				requestID = uuid.New().String()
			}

			c.Set("request_id", requestID)
			c.Response().Header().Set(headerRequestID, requestID)
			return next(c)
		}
	}
}

func accessLogMiddleware(log logrus.FieldLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			log.WithFields(logrus.Fields{
				"request_id": c.Get("request_id"),
				"method":     c.Request().Method,
				"path":       c.Path(),
				"status":     c.Response().Status,
				"latency":    time.Since(start).String(),
			}).Debug("Handled request")
			return nil
		}
	}
}
