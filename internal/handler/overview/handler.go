package overview

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/pawtrack/backend/internal/handler/events"
	"github.com/zhouzirui/pawtrack/backend/internal/logging"
	"github.com/zhouzirui/pawtrack/backend/internal/model/event"
	"github.com/zhouzirui/pawtrack/backend/internal/model/pet"
	"github.com/zhouzirui/pawtrack/backend/internal/repository"
	"github.com/zhouzirui/pawtrack/backend/internal/service/transform"
	"github.com/zhouzirui/pawtrack/backend/pkg/utils"
)

const defaultSpan = 7 * 24 * time.Hour

// Handler 汇总宠物与事件，供首页一次性加载
type Handler struct {
	pets   *repository.Collection[pet.Pet]
	events *repository.Collection[event.Event]
	now    func() time.Time
	logger *zap.Logger
}

// New 创建汇总处理器
func New(pets *repository.Collection[pet.Pet], events *repository.Collection[event.Event], logger *zap.Logger) *Handler {
	return &Handler{
		pets:   pets,
		events: events,
		now:    time.Now,
		logger: logging.OrNop(logger).Named("overview-handler"),
	}
}

// RegisterRoutes 注册汇总路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/overview", h.handleOverview)
}

type eventCard struct {
	Event   event.Event       `json:"event"`
	Summary event.PrimaryData `json:"summary"`
}

type response struct {
	Start  time.Time   `json:"start"`
	End    time.Time   `json:"end"`
	Pets   []pet.Pet   `json:"pets"`
	Events []eventCard `json:"events"`
}

// handleOverview 并行读取宠物列表与时间段内的事件；默认时间段为接下来的 7 天。
func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	start, end, ranged, err := events.ParsePeriod(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ranged {
		start = h.now()
		end = start.Add(defaultSpan)
	}

	var (
		pets []pet.Pet
		list []event.Event
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		pets, err = h.pets.List(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		list, err = h.events.InPeriod(ctx, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		h.logger.Error("overview failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to load overview")
		return
	}

	cards := make([]eventCard, 0, len(list))
	for _, e := range list {
		cards = append(cards, eventCard{Event: e, Summary: transform.ExtractPrimaryData(e)})
	}
	if pets == nil {
		pets = []pet.Pet{}
	}
	utils.RespondJSON(w, http.StatusOK, response{Start: start, End: end, Pets: pets, Events: cards})
}
