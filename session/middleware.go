package session

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ice-blockchain/go-multidb"
)

const DefaultCookieName = "multidb_session"

type MiddlewareOpts struct {
	// CookieName defaults to DefaultCookieName.
	CookieName string
	// Secure marks the session cookie as https only.
	Secure bool
	Logger multidb.Logger
}

// Middleware binds a multidb.Scope to every request and keeps the sticky
// tables of the scope in a Store between requests of the same client.
type Middleware struct {
	dispatcher *multidb.Dispatcher
	store      Store
	opts       MiddlewareOpts
}

func NewMiddleware(d *multidb.Dispatcher, store Store, opts MiddlewareOpts) *Middleware {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.Logger == nil {
		opts.Logger = multidb.NewSlogLogger(nil)
	}
	return &Middleware{dispatcher: d, store: store, opts: opts}
}

func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := m.sessionID(w, r)

		sess, err := m.store.Load(ctx, id)
		if err != nil {
			m.opts.Logger.Report(StoreFailedEvent{Op: "load", SessionID: id, Error: err, EventTime: time.Now()})
		}
		scope := m.dispatcher.NewScope(multidb.WithStickySession(sess))
		next.ServeHTTP(w, r.WithContext(multidb.NewContext(ctx, scope)))

		if sess == nil && scope.Session().IsEmpty() {
			return
		}
		if err := m.store.Save(ctx, id, scope.Session()); err != nil {
			m.opts.Logger.Report(StoreFailedEvent{Op: "save", SessionID: id, Error: err, EventTime: time.Now()})
		}
	})
}

// sessionID returns the id of the session cookie, issuing a new one for
// clients without a valid cookie.
func (m *Middleware) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(m.opts.CookieName); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

type StoreFailedEvent struct {
	Op        string
	SessionID string
	Error     error
	EventTime time.Time
}

func (e StoreFailedEvent) EventName() string { return "session_store_failed" }
func (e StoreFailedEvent) Message() string {
	return fmt.Sprintf("Failed to %s sticky session: %s", e.Op, e.Error)
}
func (e StoreFailedEvent) LogLevel() slog.Level { return slog.LevelWarn }
func (e StoreFailedEvent) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("component", "multidb"),
		slog.Time("event_time", e.EventTime),
		slog.String("event", e.EventName()),
		slog.String("session_id", e.SessionID),
	}
	if e.Error != nil {
		attrs = append(attrs, slog.String("error", e.Error.Error()))
	}
	return attrs
}
