package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jobgate/jobgate/pkg/audit"
	"github.com/jobgate/jobgate/pkg/auth"
	"github.com/jobgate/jobgate/pkg/jobs"
	"github.com/jobgate/jobgate/pkg/middleware"
	"github.com/jobgate/jobgate/pkg/observability"
	"github.com/jobgate/jobgate/pkg/rbac"
	"github.com/jobgate/jobgate/pkg/users"
)

// Deps carries everything the API server needs. All fields are required
// except AuditStore, which disables the audit query endpoints when nil.
type Deps struct {
	Users      *users.Store
	Roles      *rbac.Store
	Resolver   *rbac.Resolver
	Jobs       *jobs.Service
	AuditStore *audit.Store
	Issuer     *auth.TokenIssuer
	Logger     *observability.Logger
}

// Server is the HTTP front of the gateway
type Server struct {
	router *mux.Router
	logger *observability.Logger

	authHandlers  *AuthHandlers
	userHandlers  *UserHandlers
	roleHandlers  *RoleHandlers
	jobHandlers   *JobHandlers
	auditHandlers *AuditHandlers

	authMiddleware *middleware.AuthMiddleware
}

// NewServer creates a new API server and wires up all routes
func NewServer(deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: deps.Logger,

		authHandlers:   NewAuthHandlers(deps.Users, deps.Resolver, deps.Issuer, deps.Logger),
		userHandlers:   NewUserHandlers(deps.Users, deps.Roles),
		roleHandlers:   NewRoleHandlers(deps.Roles),
		jobHandlers:    NewJobHandlers(deps.Jobs, deps.Logger),
		authMiddleware: middleware.NewAuthMiddleware(deps.Issuer),
	}
	if deps.AuditStore != nil {
		s.auditHandlers = NewAuditHandlers(deps.AuditStore)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Unauthenticated routes
	public := s.router.PathPrefix("/api/v1/auth").Subrouter()
	public.HandleFunc("/login", s.authHandlers.login).Methods("POST")
	public.HandleFunc("/refresh", s.authHandlers.refresh).Methods("POST")

	// Everything else requires a valid access token
	protected := s.router.PathPrefix("/api/v1").Subrouter()
	protected.Use(s.authMiddleware.Handler)

	protected.HandleFunc("/me", s.authHandlers.me).Methods("GET")
	protected.HandleFunc("/me/permissions", s.authHandlers.myPermissions).Methods("GET")

	s.jobHandlers.RegisterRoutes(protected)

	// User, role, and audit management is admin-only
	admin := protected.NewRoute().Subrouter()
	admin.Use(middleware.RequireAdmin)
	s.userHandlers.RegisterRoutes(admin)
	s.roleHandlers.RegisterRoutes(admin)
	if s.auditHandlers != nil {
		s.auditHandlers.RegisterRoutes(admin)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router so the caller can wrap it with
// outer middleware (request IDs, rate limiting, metrics).
func (s *Server) Router() *mux.Router {
	return s.router
}
