package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	sessionName     = "dashboard"
	sessionTokenKey = "token"
	athleteCookie   = "athlete_id"
)

// Cache-Control values per endpoint freshness tier.
const (
	ccPrimary = "private, max-age=900, stale-while-revalidate=900"
	ccHistory = "private, max-age=604800"
	ccZones   = "private, max-age=1800"
)

// Handler exposes the dashboard API over echo.
type Handler struct {
	cfg        *Config
	service    *Service
	races      *RaceStore
	state      string
	clientOpts []ClientOption
}

// NewHandler wires the HTTP surface. state is the oauth anti-forgery
// token for this process.
func NewHandler(cfg *Config, service *Service, races *RaceStore, state string, opts ...ClientOption) *Handler {
	return &Handler{cfg: cfg, service: service, races: races, state: state, clientOpts: opts}
}

// NewEngine builds the echo engine with sessions and routes attached.
func NewEngine(cfg *Config, h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(session.Middleware(sessions.NewCookieStore([]byte(cfg.SessionKey))))
	h.Register(e)
	return e
}

// Register attaches all routes.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/auth/login", h.login)
	e.GET("/auth/callback", h.callback)
	e.GET("/auth/logout", h.logout)

	api := e.Group("/api")
	api.GET("/activities", h.activities(ccPrimary, false))
	api.GET("/activities/history", h.activities(ccHistory, false))
	api.GET("/activities/zones", h.activities(ccZones, true))
	api.GET("/summary", h.summary)
	api.GET("/races", h.listRaces)
	api.POST("/races", h.createRace)
	api.DELETE("/races/:id", h.deleteRace)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// login redirects to the oauth provider's credential acceptance page.
func (h *Handler) login(c echo.Context) error {
	return c.Redirect(http.StatusFound, h.cfg.OAuth().AuthCodeURL(h.state))
}

// callback receives the redirect from the oauth provider, exchanges
// the code and stores the credential in the session.
func (h *Handler) callback(c echo.Context) error {
	if c.QueryParam("state") != h.state {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "state invalid"})
	}
	code := c.QueryParam("code")
	if code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code not found"})
	}
	token, athleteID, err := ExchangeCode(c.Request().Context(), h.cfg.OAuth(), code)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	if err := h.saveToken(c, token); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	c.SetCookie(&http.Cookie{
		Name:     athleteCookie,
		Value:    strconv.FormatInt(athleteID, 10),
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Now().AddDate(1, 0, 0),
	})
	return c.Redirect(http.StatusFound, "/")
}

// logout drops the session credential.
func (h *Handler) logout(c echo.Context) error {
	sess, err := session.Get(sessionName, c)
	if err == nil {
		delete(sess.Values, sessionTokenKey)
		sess.Options.MaxAge = -1
		_ = sess.Save(c.Request(), c.Response())
	}
	return c.Redirect(http.StatusFound, "/")
}

func (h *Handler) saveToken(c echo.Context, token Token) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return err
	}
	blob, err := json.Marshal(token)
	if err != nil {
		return err
	}
	sess.Values[sessionTokenKey] = string(blob)
	sess.Options.Path = "/"
	sess.Options.HttpOnly = true
	return sess.Save(c.Request(), c.Response())
}

// client builds a remote client from the session credential.
func (h *Handler) client(c echo.Context) (*Client, error) {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return nil, ErrSessionExpired
	}
	blob, ok := sess.Values[sessionTokenKey].(string)
	if !ok || blob == "" {
		return nil, ErrSessionExpired
	}
	var token Token
	if err := json.Unmarshal([]byte(blob), &token); err != nil {
		return nil, ErrSessionExpired
	}
	opts := h.clientOpts
	if h.cfg.APIBaseURL != "" {
		opts = append([]ClientOption{WithBaseURL(h.cfg.APIBaseURL)}, opts...)
	}
	return NewClient(h.cfg.OAuth(), token, opts...), nil
}

// persistToken writes a possibly refreshed credential back to the
// session so the next request does not have to refresh again.
func (h *Handler) persistToken(c echo.Context, before Token, client *Client) {
	after := client.Token()
	if after != before {
		if err := h.saveToken(c, after); err != nil {
			log.Warn().Err(err).Msg("failed to persist refreshed token")
		}
	}
}

func writeServiceError(c echo.Context, err error) error {
	if errors.Is(err, ErrSessionExpired) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "session expired"})
	}
	if errors.Is(err, ErrRangeTooLarge) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
}

func parseWindow(c echo.Context) (start, end time.Time, err error) {
	start, err = ParseDate(c.QueryParam("start"))
	if err != nil {
		return
	}
	end, err = ParseDate(c.QueryParam("end"))
	if err != nil {
		return
	}
	if end.Before(start) {
		err = errors.New("end before start")
	}
	return
}

func parseSport(c echo.Context) (Sport, error) {
	switch s := Sport(c.QueryParam("sport")); s {
	case SportAll, SportRun, SportRide:
		return s, nil
	default:
		return SportAll, errors.New("unknown sport")
	}
}

// activities serves the date-windowed activity list at one of the
// three freshness tiers.
func (h *Handler) activities(cacheControl string, withZones bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		start, end, err := parseWindow(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		sport, err := parseSport(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		client, err := h.client(c)
		if err != nil {
			return writeServiceError(c, err)
		}
		before := client.Token()
		acts, err := h.service.Activities(c.Request().Context(), client, Query{
			Start:     start,
			End:       end,
			Sport:     sport,
			WithZones: withZones,
		})
		h.persistToken(c, before, client)
		if err != nil {
			return writeServiceError(c, err)
		}
		c.Response().Header().Set("Cache-Control", cacheControl)
		return c.JSON(http.StatusOK, acts)
	}
}

// summary serves weekly or monthly buckets for chart consumption.
func (h *Handler) summary(c echo.Context) error {
	start, end, err := parseWindow(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	sport, err := parseSport(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	period := PeriodWeek
	var starts []time.Time
	switch c.QueryParam("period") {
	case "", "week":
		starts = weekStartsBetween(start, end, h.cfg.WeekStart)
	case "month":
		period = PeriodMonth
		starts = monthStartsBetween(start, end)
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown period"})
	}
	excluded := make(map[int64]bool)
	if raw := c.QueryParam("exclude"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad exclude id"})
			}
			excluded[id] = true
		}
	}
	client, err := h.client(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	before := client.Token()
	acts, err := h.service.Activities(c.Request().Context(), client, Query{Start: start, End: end, Sport: sport})
	h.persistToken(c, before, client)
	if err != nil {
		return writeServiceError(c, err)
	}
	c.Response().Header().Set("Cache-Control", ccPrimary)
	return c.JSON(http.StatusOK, BucketByPeriod(acts, starts, period, excluded))
}

// athleteID resolves the race-list owner from the athlete cookie.
func athleteID(c echo.Context) (int64, error) {
	cookie, err := c.Cookie(athleteCookie)
	if err != nil {
		return 0, ErrSessionExpired
	}
	id, err := strconv.ParseInt(cookie.Value, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrSessionExpired
	}
	return id, nil
}

func (h *Handler) listRaces(c echo.Context) error {
	id, err := athleteID(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	races, err := h.races.List(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, races)
}

func (h *Handler) createRace(c echo.Context) error {
	id, err := athleteID(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	var race Race
	if err := c.Bind(&race); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad race payload"})
	}
	if race.Name == "" || race.Date == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name and date required"})
	}
	if _, err := ParseDate(race.Date); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad date"})
	}
	race.AthleteID = id
	created, err := h.races.Create(c.Request().Context(), race)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) deleteRace(c echo.Context) error {
	id, err := athleteID(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	raceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad race id"})
	}
	deleted, err := h.races.Delete(c.Request().Context(), id, raceID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	if !deleted {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "race not found"})
	}
	return c.NoContent(http.StatusNoContent)
}

// weekStartsBetween lists week starts covering [start, end].
func weekStartsBetween(start, end time.Time, weekStart time.Weekday) []time.Time {
	var starts []time.Time
	for t := StartOfWeek(start, weekStart); !t.After(end); t = t.AddDate(0, 0, 7) {
		starts = append(starts, t)
	}
	return starts
}

// monthStartsBetween lists month starts covering [start, end].
func monthStartsBetween(start, end time.Time) []time.Time {
	var starts []time.Time
	for t := StartOfMonth(start); !t.After(end); t = t.AddDate(0, 1, 0) {
		starts = append(starts, t)
	}
	return starts
}
