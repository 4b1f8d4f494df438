// Package httpx holds the minimal HTTP router contract the connector's
// transport depends on, backed by chi.
package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Router is the surface the connector mounts itself on.
type Router interface {
	Handle(method, path string, h http.Handler)
	Get(path string, h http.Handler)
	Post(path string, h http.Handler)
	Use(mw ...func(http.Handler) http.Handler)
	Mux() http.Handler
}

type chiRouter struct{ r *chi.Mux }

// NewChi returns a chi-backed Router.
func NewChi() Router { return &chiRouter{r: chi.NewRouter()} }

func (c *chiRouter) Handle(method, path string, h http.Handler) { c.r.Method(method, path, h) }
func (c *chiRouter) Get(path string, h http.Handler)            { c.r.Method(http.MethodGet, path, h) }
func (c *chiRouter) Post(path string, h http.Handler)           { c.r.Method(http.MethodPost, path, h) }
func (c *chiRouter) Use(mw ...func(http.Handler) http.Handler)  { c.r.Use(mw...) }
func (c *chiRouter) Mux() http.Handler                          { return c.r }
