package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	aiHandler "github.com/zhouzirui/pawtrack/backend/internal/handler/ai"
	"github.com/zhouzirui/pawtrack/backend/internal/handler/conversation"
	"github.com/zhouzirui/pawtrack/backend/internal/handler/events"
	"github.com/zhouzirui/pawtrack/backend/internal/handler/notification"
	"github.com/zhouzirui/pawtrack/backend/internal/handler/overview"
	"github.com/zhouzirui/pawtrack/backend/internal/handler/pets"
	"github.com/zhouzirui/pawtrack/backend/internal/logging"
	middlewarePkg "github.com/zhouzirui/pawtrack/backend/internal/middleware"
	"github.com/zhouzirui/pawtrack/backend/internal/model/event"
	"github.com/zhouzirui/pawtrack/backend/internal/model/pet"
	"github.com/zhouzirui/pawtrack/backend/internal/repository"
	aiService "github.com/zhouzirui/pawtrack/backend/internal/service/ai"
	assistantService "github.com/zhouzirui/pawtrack/backend/internal/service/assistant"
	"github.com/zhouzirui/pawtrack/backend/internal/service/notify"
	petsService "github.com/zhouzirui/pawtrack/backend/internal/service/pets"
	"github.com/zhouzirui/pawtrack/backend/pkg/utils"
)

// Dependencies 汇总路由需要的服务；AI 为 nil 时不挂载 /ai 接口。
type Dependencies struct {
	Store     *repository.Store
	Pets      *petsService.Service
	PetDocs   *repository.Collection[pet.Pet]
	Events    *repository.Collection[event.Event]
	Assistant *assistantService.Service
	AI        *aiService.Service
	Hub       *notify.Hub
	Logger    *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	logger := logging.OrNop(deps.Logger)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.Ping(r.Context()); err != nil {
			utils.RespondError(w, http.StatusServiceUnavailable, "document store unavailable")
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		pets.New(deps.Pets).RegisterRoutes(api)
		events.New(deps.Events, deps.Hub, logger).RegisterRoutes(api)
		overview.New(deps.PetDocs, deps.Events, logger).RegisterRoutes(api)
		notification.New(deps.Hub).RegisterRoutes(api)

		conversation.New(deps.Assistant, deps.Hub, logger).RegisterRoutes(api)
		conversation.NewWebSocketHandler(deps.Assistant, logger).RegisterRoutes(api)

		if deps.AI != nil {
			aiHandler.New(deps.AI, logger).RegisterRoutes(api)
		} else {
			unavailable := func(w http.ResponseWriter, r *http.Request) {
				utils.RespondError(w, http.StatusNotFound, "ai backend not configured")
			}
			api.Post("/ai", unavailable)
			api.Post("/ai/stream", unavailable)
		}
	})

	return r
}
