package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"studysprint/internal/auth"
	"studysprint/internal/calendar"
	"studysprint/internal/chat"
	"studysprint/internal/groups"
	"studysprint/internal/memberships"
	"studysprint/internal/tasks"
	"studysprint/internal/users"
	"studysprint/internal/web"
)

func newAPI(d Deps, authSvc *auth.Service, limiter *web.RateLimiter) http.Handler {
	r := chi.NewRouter()
	pool, log := d.Pool, d.Log

	r.Post("/auth/register", authSvc.Register)
	r.Get("/auth/google/login", authSvc.GoogleLogin)
	r.Get("/auth/google/callback", authSvc.GoogleCallback)
	r.With(limiter.Middleware).Post("/token", authSvc.Obtain)
	r.With(limiter.Middleware).Post("/token/refresh", authSvc.Refresh)

	groupSvc := groups.NewService(pool, log)
	taskSvc := tasks.NewService(pool, log)
	calSvc := calendar.NewService(d.Config, pool, groupSvc, taskSvc, log)
	r.Get("/calendar/google/callback", calSvc.Callback)

	r.Group(func(r chi.Router) {
		r.Use(authSvc.JWTMiddleware)

		r.Get("/user/me", authSvc.Me)

		us := users.NewService(pool, log)
		r.Get("/users", us.List)
		r.Get("/users/{id}", us.Get)

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", groupSvc.List)
			r.Post("/", groupSvc.Create)
			r.Get("/{id}", groupSvc.Get)
			r.Put("/{id}", groupSvc.Update)
			r.Patch("/{id}", groupSvc.Update)
			r.Delete("/{id}", groupSvc.Delete)
		})

		ms := memberships.NewService(pool, log)
		r.Route("/memberships", func(r chi.Router) {
			r.Get("/", ms.List)
			r.Post("/", ms.Create)
			r.Get("/{id}", ms.Get)
			r.Delete("/{id}", ms.Delete)
		})

		msgs := chat.NewService(d.History, d.Chat.Router, log)
		r.Route("/messages", func(r chi.Router) {
			r.Get("/", msgs.List)
			r.Post("/", msgs.Post)
			r.Get("/{id}", msgs.Get)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", taskSvc.List)
			r.Post("/", taskSvc.Create)
			r.Get("/{id}", taskSvc.Get)
			r.Put("/{id}", taskSvc.Update)
			r.Patch("/{id}", taskSvc.Update)
			r.Delete("/{id}", taskSvc.Delete)
			r.Post("/{id}/complete", taskSvc.Complete)
		})

		r.Get("/calendar/groups/{id}/ics", calSvc.GroupICS)
		r.Get("/calendar/google/connect", calSvc.Connect)
		r.Post("/calendar/google/sync", calSvc.Sync)
	})

	return r
}
