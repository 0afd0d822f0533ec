package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/render"

	"github.com/baechuer/eventgate/internal/domain"
	appCtx "github.com/baechuer/eventgate/internal/pkg/context"
	"github.com/baechuer/eventgate/internal/service"
	"github.com/baechuer/eventgate/internal/transport/rest/response"
)

const (
	serviceName    = "eventgate"
	serviceVersion = "1.0.0"

	defaultLimit = 100
	maxLimit     = 1000

	maxPublishBody = 1 << 20
)

type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": serviceVersion,
		"status":  "running",
		"endpoints": map[string]string{
			"publish": "POST /publish",
			"events":  "GET /events?topic=...",
			"stats":   "GET /stats",
			"health":  "GET /health",
		},
	})
}

// Publish accepts a single event object or {"events": [...]}. Validation
// failures reject the whole request; admission outcomes (duplicate, queue
// full) are reported per batch in a 200 body.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPublishBody)

	var body json.RawMessage
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			fail(w, r, http.StatusRequestEntityTooLarge, string(domain.CodeValidation),
				"request body too large", nil)
			return
		}
		fail(w, r, http.StatusUnprocessableEntity, string(domain.CodeValidation),
			"request body must be valid JSON", nil)
		return
	}

	events, err := domain.ParsePublishRequest(body)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	res, err := h.svc.Publish(r.Context(), events)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, res)
}

func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	if topic == "" {
		fail(w, r, http.StatusUnprocessableEntity, string(domain.CodeValidation),
			"invalid query", map[string]string{"topic": "required"})
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		handleErr(w, r, err)
		return
	}

	res, err := h.svc.QueryEvents(r.Context(), topic, limit)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, res)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Stats(r.Context())
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, res)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.svc.Health())
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.ErrValidationMeta("invalid query", map[string]string{
			"limit": "must be an integer",
		})
	}
	if n < 1 || n > maxLimit {
		return 0, domain.ErrValidationMeta("invalid query", map[string]string{
			"limit": "must be between 1 and 1000",
		})
	}
	return n, nil
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	response.Fail(w, status, code, message, meta, appCtx.GetRequestID(r.Context()))
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	response.Err(w, err, appCtx.GetRequestID(r.Context()))
}
