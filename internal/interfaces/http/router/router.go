package router

import (
	"github.com/gin-gonic/gin"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// ProbeRegistrar registers unversioned routes such as health probes
type ProbeRegistrar interface {
	RegisterRoutes(engine gin.IRoutes)
}

type mount struct {
	prefix     string
	registrar  RouteRegistrar
	middleware []gin.HandlerFunc
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	mounts     []mount
	probes     []ProbeRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mount registers a resource under /api/<version><prefix>. The middleware
// runs only for that resource.
func (r *Router) Mount(prefix string, registrar RouteRegistrar, middleware ...gin.HandlerFunc) *Router {
	r.mounts = append(r.mounts, mount{prefix: prefix, registrar: registrar, middleware: middleware})
	return r
}

// Probe registers routes on the bare engine, outside API versioning
func (r *Router) Probe(registrar ProbeRegistrar) *Router {
	r.probes = append(r.probes, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	for _, p := range r.probes {
		p.RegisterRoutes(r.engine)
	}

	api := r.engine.Group("/api/" + r.apiVersion)
	for _, m := range r.mounts {
		group := api.Group(m.prefix)
		if len(m.middleware) > 0 {
			group.Use(m.middleware...)
		}
		m.registrar.RegisterRoutes(group)
	}
}

// Routes lists "METHOD path" for every registered route, for startup logging
func (r *Router) Routes() []string {
	info := r.engine.Routes()
	out := make([]string, len(info))
	for i, ri := range info {
		out[i] = ri.Method + " " + ri.Path
	}
	return out
}
