// Package server exposes the scanning session over a local HTTP API. The
// scanner UI and the operator tooling are both clients of this surface.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"turnstile/internal/domain"
	"turnstile/internal/metrics"
	"turnstile/internal/session"
	"turnstile/internal/syncer"
)

// Config for the HTTP API handler.
type Config struct {
	Session  *session.Session
	Engine   *syncer.Engine
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"unknown participant"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// New returns the API handler.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Turnstile API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerScan(group, cfg)
	registerSelection(group, cfg)
	registerParticipants(group, cfg)
	registerStatus(group, cfg)
	registerLastScan(group, cfg)

	if cfg.Registry != nil {
		router.Get("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	return router, nil
}

type healthOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		out := &healthOutput{}
		out.Body.Status = "ok"
		return out, nil
	})
}

type scanInput struct {
	Body struct {
		Identifier string `json:"identifier" minLength:"1" doc:"Scanned QR payload, a participant user id"`
	}
}

type scanOutput struct {
	Body session.Outcome
}

func registerScan(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "scan",
		Method:      http.MethodPost,
		Path:        "/scan",
		Summary:     "Resolve a scanned badge identifier",
	}, func(ctx context.Context, in *scanInput) (*scanOutput, error) {
		out := cfg.Session.Resolve(in.Body.Identifier)
		if cfg.Metrics != nil {
			cfg.Metrics.Scans.Inc()
			if out.Kind == session.OutcomeAutoRedeemed {
				cfg.Metrics.Redemptions.Inc()
			}
		}
		return &scanOutput{Body: out}, nil
	})
}

type selectionInput struct {
	Body struct {
		UserID    string   `json:"user_id" minLength:"1"`
		EntityIDs []string `json:"entity_ids" minItems:"1"`
	}
}

type selectionOutput struct {
	Body struct {
		Marked []string `json:"marked_entity_ids"`
	}
}

func registerSelection(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "confirm-selection",
		Method:      http.MethodPost,
		Path:        "/selection",
		Summary:     "Redeem the chosen badges after a needs_selection scan",
	}, func(ctx context.Context, in *selectionInput) (*selectionOutput, error) {
		marked, err := cfg.Session.ConfirmSelection(in.Body.UserID, in.Body.EntityIDs)
		if err != nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
		}
		if cfg.Metrics != nil {
			cfg.Metrics.Redemptions.Add(float64(len(marked)))
		}
		out := &selectionOutput{}
		out.Body.Marked = marked
		if out.Body.Marked == nil {
			out.Body.Marked = []string{}
		}
		return out, nil
	})
}

type participantsInput struct {
	Query string `query:"q" doc:"Case- and diacritic-insensitive substring filter"`
}

type participantsOutput struct {
	Body struct {
		Items []domain.Participant `json:"items"`
	}
}

func registerParticipants(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-participants",
		Method:      http.MethodGet,
		Path:        "/participants",
		Summary:     "Filtered participant list",
	}, func(ctx context.Context, in *participantsInput) (*participantsOutput, error) {
		out := &participantsOutput{}
		out.Body.Items = cfg.Session.Filter(in.Query)
		if out.Body.Items == nil {
			out.Body.Items = []domain.Participant{}
		}
		return out, nil
	})
}

type statusOutput struct {
	Body struct {
		Alive      bool             `json:"alive"`
		Stats      session.Stats    `json:"stats"`
		LastScan   *session.Outcome `json:"last_scan,omitempty"`
		LastSynced string           `json:"last_synced,omitempty"`
		Watermark  int64            `json:"watermark,omitempty"`
	}
}

func registerStatus(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Session counters and sync freshness",
	}, func(ctx context.Context, _ *struct{}) (*statusOutput, error) {
		out := &statusOutput{}
		out.Body.Alive = cfg.Session.Alive()
		out.Body.Stats = cfg.Session.Stats()
		out.Body.LastScan = cfg.Session.LastScan()
		if cfg.Engine != nil {
			if t := cfg.Engine.LastSync(); !t.IsZero() {
				out.Body.LastSynced = t.UTC().Format(time.RFC3339)
			}
			out.Body.Watermark = cfg.Engine.Watermark()
		}
		return out, nil
	})
}

func registerLastScan(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "clear-last-scan",
		Method:      http.MethodDelete,
		Path:        "/last-scan",
		Summary:     "Dismiss the last-scan indicator",
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		cfg.Session.ClearLastScan()
		return &struct{}{}, nil
	})
}
