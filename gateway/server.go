package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"strapt/native/drop"
	"strapt/native/registry"
	"strapt/native/stream"
	"strapt/native/transfer"
)

// Server is the HTTP front-end exposing the escrow engines to wallets and
// indexers. Callers identify themselves through the request payload; signing
// and session auth live in the wallet layer, outside this engine.
type Server struct {
	transfers *transfer.Engine
	streams   *stream.Engine
	drops     *drop.Engine
	registry  *registry.Registry
	logger    *slog.Logger
	limiter   *rate.Limiter
	obs       *Observability
	metricsG  prometheus.Gatherer
}

// Options bundles the collaborators the server needs.
type Options struct {
	Transfers  *transfer.Engine
	Streams    *stream.Engine
	Drops      *drop.Engine
	Registry   *registry.Registry
	Logger     *slog.Logger
	Limiter    *rate.Limiter
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// NewServer wires the engines into an HTTP handler.
func NewServer(opts Options) *Server {
	registerer := opts.Registerer
	gatherer := opts.Gatherer
	if registerer == nil || gatherer == nil {
		reg := prometheus.NewRegistry()
		registerer = reg
		gatherer = reg
	}
	return &Server{
		transfers: opts.Transfers,
		streams:   opts.Streams,
		drops:     opts.Drops,
		registry:  opts.Registry,
		logger:    opts.Logger,
		limiter:   opts.Limiter,
		obs:       NewObservability(registerer),
		metricsG:  gatherer,
	}
}

// Handler builds the chi router with logging, metrics and rate limiting.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.obs.Middleware(s.logger))
	r.Use(RateLimit(s.limiter))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metricsG, promhttp.HandlerOpts{}))

	r.Route("/transfers", func(tr chi.Router) {
		tr.Post("/", s.handleTransferCreate)
		tr.Post("/link", s.handleLinkTransferCreate)
		tr.Get("/{id}", s.handleTransferGet)
		tr.Get("/{id}/claimable", s.handleTransferClaimable)
		tr.Post("/{id}/claim", s.handleTransferClaim)
		tr.Post("/{id}/refund", s.handleTransferRefund)
	})
	r.Get("/accounts/{addr}/transfers", s.handleRecipientTransfers)

	r.Route("/streams", func(sr chi.Router) {
		sr.Post("/", s.handleStreamCreate)
		sr.Get("/{id}", s.handleStreamGet)
		sr.Post("/{id}/update", s.handleStreamUpdate)
		sr.Post("/{id}/pause", s.handleStreamPause)
		sr.Post("/{id}/resume", s.handleStreamResume)
		sr.Post("/{id}/withdraw", s.handleStreamWithdraw)
		sr.Post("/{id}/cancel", s.handleStreamCancel)
		sr.Post("/{id}/milestones/{index}/release", s.handleMilestoneRelease)
	})

	r.Route("/drops", func(dr chi.Router) {
		dr.Post("/", s.handleDropCreate)
		dr.Get("/{id}", s.handleDropGet)
		dr.Post("/{id}/claim", s.handleDropClaim)
		dr.Post("/{id}/refund", s.handleDropRefund)
		dr.Get("/{id}/claimed/{addr}", s.handleDropClaimed)
	})

	r.Route("/admin", func(ar chi.Router) {
		ar.Post("/fee", s.handleSetFee)
		ar.Post("/fee-collector", s.handleSetFeeCollector)
		ar.Post("/tokens", s.handleSetTokenSupport)
	})

	return r
}
