// Package simulator serves a small imitation of the planetarium remote
// control API. Its clock runs on a clock.Predictor, so time advances at the
// configured rate between requests. It backs the demo command and the tests
// of every package that talks HTTP.
package simulator

import (
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/daviddao/skyclock/pkg/calendar"
	"github.com/daviddao/skyclock/pkg/clock"
	"github.com/daviddao/skyclock/pkg/model"
)

// Server holds the simulated program state. Safe for concurrent use.
type Server struct {
	pred *clock.Predictor
	log  zerolog.Logger

	mu        sync.Mutex
	loc       model.Location
	catalog   []model.Location
	props     map[string]string
	propSeq   int
	propLog   []propChange
	view      model.View
	down      bool
	requests  int
	timePosts []string
}

type propChange struct {
	seq int
	id  string
}

// Options configures a new Server.
type Options struct {
	Clock    clock.Clock
	Logger   zerolog.Logger
	Start    model.TimeState
	Location model.Location
	Catalog  []model.Location
}

// DefaultCatalog is the location list searched when Options.Catalog is empty.
var DefaultCatalog = []model.Location{
	{Name: "Vienna", Country: "Austria", Planet: "Earth", Latitude: 48.2082, Longitude: 16.3738, Altitude: 190},
	{Name: "Graz", Country: "Austria", Planet: "Earth", Latitude: 47.0707, Longitude: 15.4395, Altitude: 353},
	{Name: "Paris", Country: "France", Planet: "Earth", Latitude: 48.8566, Longitude: 2.3522, Altitude: 35},
	{Name: "Paranal", Country: "Chile", Planet: "Earth", Latitude: -24.6272, Longitude: -70.4045, Altitude: 2635},
	{Name: "Mauna Kea", Country: "United States", Planet: "Earth", Latitude: 19.8207, Longitude: -155.4681, Altitude: 4207},
}

// New returns a simulator. A zero Start begins at the current wall-clock
// instant running in real time.
func New(opts Options) *Server {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	start := opts.Start
	if start.JD == 0 {
		start.JD = calendar.TimeToJD(clk.Now())
		start.TimeRate = calendar.JDSecond
		start.IsTimeNow = true
	}
	loc := opts.Location
	if loc.Planet == "" {
		loc = DefaultCatalog[0]
	}
	catalog := opts.Catalog
	if len(catalog) == 0 {
		catalog = DefaultCatalog
	}

	pred := clock.NewPredictor(clk)
	pred.Update(start)
	return &Server{
		pred:    pred,
		log:     opts.Logger,
		loc:     loc,
		catalog: catalog,
		props:   map[string]string{},
		view:    model.View{FOV: 60},
	}
}

// Handler returns the gin engine serving the API.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(otelgin.Middleware("skyclock-simulator"))
	r.Use(s.logRequests)

	api := r.Group("/api")
	api.GET("/main/status", s.status)
	api.POST("/main/time", s.setTime)
	api.POST("/location/setlocationfields", s.setLocationFields)
	api.GET("/locationsearch/search", s.search)
	api.GET("/locationsearch/nearby", s.nearby)
	api.POST("/stelproperty/set", s.setProperty)
	return r
}

// SetDown makes every request fail with 503 until called with false.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// Requests returns the number of API requests served.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// TimePosts returns the form bodies of every accepted time command.
func (s *Server) TimePosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.timePosts...)
}

// Time returns the simulated time state.
func (s *Server) Time() model.TimeState { return s.pred.State() }

// Location returns the simulated observer location.
func (s *Server) Location() model.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Property returns the value of a property.
func (s *Server) Property(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.props[id]
	return v, ok
}

func (s *Server) logRequests(c *gin.Context) {
	s.mu.Lock()
	down := s.down
	s.requests++
	s.mu.Unlock()
	if down {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	c.Next()
	s.log.Debug().
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", c.Writer.Status()).
		Msg("simulator: request")
}

func (s *Server) status(c *gin.Context) {
	st := model.Status{
		Time: s.pred.State(),
	}
	s.mu.Lock()
	st.Location = s.loc
	st.View = s.view
	if raw := c.Query("propId"); raw != "" {
		if since, err := strconv.Atoi(raw); err == nil {
			st.PropertyChanges = s.propChangesLocked(since)
		}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, st)
}

// propChangesLocked lists properties changed after since. Before the first
// change only -1 is current; -2 (a client that just started) or any id the
// log cannot diff from gets every property.
func (s *Server) propChangesLocked(since int) *model.Changes {
	ch := &model.Changes{ID: s.propSeq, Changes: map[string]any{}}
	if len(s.propLog) == 0 {
		ch.ID = -1
		if since != -1 {
			s.allPropsLocked(ch)
		}
		return ch
	}
	switch {
	case since < 0 || since > s.propSeq:
		s.allPropsLocked(ch)
	case since < s.propSeq:
		for _, pc := range s.propLog {
			if pc.seq > since {
				ch.Changes[pc.id] = s.props[pc.id]
			}
		}
	}
	return ch
}

func (s *Server) allPropsLocked(ch *model.Changes) {
	for id, v := range s.props {
		ch.Changes[id] = v
	}
}

func (s *Server) setTime(c *gin.Context) {
	done := false

	if raw := c.PostForm("time"); raw != "" {
		if jd, err := strconv.ParseFloat(raw, 64); err == nil {
			if math.IsNaN(jd) || math.IsInf(jd, 0) {
				s.log.Warn().Str("time", raw).Msg("simulator: prevented setting invalid time")
				c.String(http.StatusOK, "error: invalid time value")
				return
			}
			s.pred.Resync(jd)
			done = true
		}
	}
	if raw := c.PostForm("timerate"); raw != "" {
		if rate, err := strconv.ParseFloat(raw, 64); err == nil {
			s.pred.SetRate(rate)
			done = true
		}
	}

	if !done {
		c.String(http.StatusOK, "error: invalid parameters, use time/timerate as double values")
		return
	}
	s.mu.Lock()
	s.timePosts = append(s.timePosts, c.Request.PostForm.Encode())
	s.mu.Unlock()
	c.String(http.StatusOK, "ok")
}

func (s *Server) setLocationFields(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc := s.loc

	if raw, ok := c.GetPostForm("latitude"); ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || v < -90 || v > 90 {
			c.String(http.StatusOK, "error: invalid latitude")
			return
		}
		loc.Latitude = v
	}
	if raw, ok := c.GetPostForm("longitude"); ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || v < -180 || v > 180 {
			c.String(http.StatusOK, "error: invalid longitude")
			return
		}
		loc.Longitude = v
	}
	if raw, ok := c.GetPostForm("altitude"); ok {
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.String(http.StatusOK, "error: invalid altitude")
			return
		}
		loc.Altitude = v
	}
	if v := c.PostForm("planet"); v != "" {
		loc.Planet = v
	}
	if v, ok := c.GetPostForm("name"); ok {
		loc.Name = v
	}
	if v, ok := c.GetPostForm("country"); ok {
		loc.Country = v
	}
	s.loc = loc
	c.String(http.StatusOK, "ok")
}

func (s *Server) search(c *gin.Context) {
	term := strings.ToLower(strings.TrimSpace(c.Query("term")))
	ids := []string{}
	if term != "" {
		for _, l := range s.catalog {
			if strings.HasPrefix(strings.ToLower(l.Name), term) {
				ids = append(ids, locationID(l))
			}
		}
	}
	sort.Strings(ids)
	c.JSON(http.StatusOK, ids)
}

func (s *Server) nearby(c *gin.Context) {
	lat, err1 := strconv.ParseFloat(c.Query("latitude"), 64)
	lon, err2 := strconv.ParseFloat(c.Query("longitude"), 64)
	radius, err3 := strconv.ParseFloat(c.Query("radius"), 64)
	if err1 != nil || err2 != nil || err3 != nil {
		c.String(http.StatusBadRequest, "invalid parameters")
		return
	}
	planet := c.DefaultQuery("planet", "Earth")
	ids := []string{}
	for _, l := range s.catalog {
		if l.Planet == planet && math.Hypot(l.Latitude-lat, l.Longitude-lon) <= radius {
			ids = append(ids, locationID(l))
		}
	}
	sort.Strings(ids)
	c.JSON(http.StatusOK, ids)
}

func (s *Server) setProperty(c *gin.Context) {
	id := c.PostForm("id")
	value, ok := c.GetPostForm("value")
	if id == "" || !ok {
		c.String(http.StatusBadRequest, "need parameters id and value")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.props[id] != value {
		s.props[id] = value
		s.propSeq++
		s.propLog = append(s.propLog, propChange{seq: s.propSeq, id: id})
	}
	c.String(http.StatusOK, "ok")
}

func locationID(l model.Location) string {
	if l.Country == "" {
		return l.Name
	}
	return l.Name + ", " + l.Country
}
