package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"atelierdesk/internal/domain"
	"atelierdesk/internal/engine"
	"atelierdesk/internal/events"
	"atelierdesk/internal/export"
	"atelierdesk/internal/ingest"
	"atelierdesk/internal/insights"
	"atelierdesk/internal/views"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	Insights *insights.Service
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"order not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Atelierdesk API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Atelierdesk API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerLogin(group, cfg.Auth, cfg.Engine)
	registerOrders(group, cfg.Engine)
	registerTaxonomy(group, cfg.Engine)
	registerImport(group, cfg.Engine)
	registerViews(group, cfg.Engine)
	registerInsights(group, cfg.Engine, cfg.Insights)
	registerEvents(group, cfg.Engine)
	registerExports(router, basePath, cfg.Engine)

	return router, nil
}

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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, engine.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, ingest.ErrNoHeader) || errors.Is(err, ingest.ErrEmpty) {
		return newAPIError(http.StatusBadRequest, "unreadable_sheet", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "required"),
		strings.Contains(lowered, "must"),
		strings.Contains(lowered, "duplicate"),
		strings.Contains(lowered, "can only"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", basePath, "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Atelierdesk API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerLogin(api huma.API, auth AuthConfig, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange the access key for a bearer token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		if !auth.enabled() {
			return nil, newAPIError(http.StatusBadRequest, "auth_disabled", "no access key configured", nil)
		}
		if input.Body.AccessKey != auth.AccessKey {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid access key", nil)
		}
		token, err := auth.issueToken(e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{Token: token}}, nil
	})
}

func registerOrders(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/orders",
		Summary:     "List orders",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []OrderResponse `json:"body"`
	}, error) {
		return &struct {
			Body []OrderResponse `json:"body"`
		}{Body: mapOrders(e.Orders(), e.Taxonomy())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-order",
		Method:        http.MethodPost,
		Path:          "/orders",
		Summary:       "Create order",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateOrderRequest `json:"body"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		o, err := e.CreateOrder(ctx, engine.OrderCreateOptions{
			Title:       input.Body.Title,
			Amount:      input.Body.Amount,
			Deadline:    input.Body.Deadline,
			Stage:       input.Body.Stage,
			Source:      input.Body.Source,
			Priority:    input.Body.Priority,
			PersonCount: input.Body.PersonCount,
			ArtType:     input.Body.ArtType,
			Nature:      input.Body.Nature,
			Notes:       input.Body.Notes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o, e.Taxonomy())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/orders/{order_id}",
		Summary:     "Get order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		o, err := e.GetOrder(input.OrderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o, e.Taxonomy())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-order",
		Method:      http.MethodPatch,
		Path:        "/orders/{order_id}",
		Summary:     "Update order",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrderID string             `path:"order_id"`
		Body    UpdateOrderRequest `json:"body"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		o, err := e.UpdateOrder(ctx, engine.OrderUpdateOptions{
			ID:          input.OrderID,
			Title:       input.Body.Title,
			Amount:      input.Body.Amount,
			Deadline:    input.Body.Deadline,
			Stage:       input.Body.Stage,
			Source:      input.Body.Source,
			Priority:    input.Body.Priority,
			PersonCount: input.Body.PersonCount,
			ArtType:     input.Body.ArtType,
			Nature:      input.Body.Nature,
			Notes:       input.Body.Notes,
			HoursSpent:  input.Body.HoursSpent,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o, e.Taxonomy())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-order",
		Method:        http.MethodDelete,
		Path:          "/orders/{order_id}",
		Summary:       "Delete order",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*struct{}, error) {
		if err := e.DeleteOrder(ctx, input.OrderID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTaxonomy(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-taxonomy",
		Method:      http.MethodGet,
		Path:        "/taxonomy",
		Summary:     "Get taxonomy",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Taxonomy `json:"body"`
	}, error) {
		return &struct {
			Body domain.Taxonomy `json:"body"`
		}{Body: e.Taxonomy()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-taxonomy",
		Method:      http.MethodPut,
		Path:        "/taxonomy",
		Summary:     "Replace taxonomy, cascading renames across orders",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body domain.Taxonomy `json:"body"`
	}) (*struct {
		Body TaxonomyApplyResponse `json:"body"`
	}, error) {
		cascaded, err := e.ApplyTaxonomy(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaxonomyApplyResponse `json:"body"`
		}{Body: TaxonomyApplyResponse{Taxonomy: e.Taxonomy(), Cascaded: cascaded}}, nil
	})
}

func registerImport(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "import-orders",
		Method:      http.MethodPost,
		Path:        "/import",
		Summary:     "Reconcile a candidate batch into the order store",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ImportRequest `json:"body"`
	}) (*struct {
		Body domain.ImportSummary `json:"body"`
	}, error) {
		mode, err := engine.ParseMode(input.Body.Mode)
		if err != nil {
			return nil, handleError(err)
		}
		summary, err := e.Import(ctx, input.Body.Candidates, mode)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ImportSummary `json:"body"`
		}{Body: summary}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-xlsx",
		Method:      http.MethodPost,
		Path:        "/import/xlsx",
		Summary:     "Parse an uploaded workbook and reconcile it",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Mode    string `query:"mode" enum:"replace,append,merge," doc:"import mode, defaults to merge"`
		RawBody []byte `contentType:"application/octet-stream"`
	}) (*struct {
		Body domain.ImportSummary `json:"body"`
	}, error) {
		mode, err := engine.ParseMode(input.Mode)
		if err != nil {
			return nil, handleError(err)
		}
		candidates, err := ingest.ParseXLSX(bytes.NewReader(input.RawBody))
		if err != nil {
			return nil, handleError(err)
		}
		summary, err := e.Import(ctx, candidates, mode)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ImportSummary `json:"body"`
		}{Body: summary}, nil
	})
}

func registerViews(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Dashboard stats",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body views.Stats `json:"body"`
	}, error) {
		return &struct {
			Body views.Stats `json:"body"`
		}{Body: views.Collect(e.Orders(), e.Taxonomy())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finance-monthly",
		Method:      http.MethodGet,
		Path:        "/finance/monthly",
		Summary:     "Net amounts grouped by deadline month",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]float64 `json:"body"`
	}, error) {
		return &struct {
			Body map[string]float64 `json:"body"`
		}{Body: views.NetByMonth(e.Orders(), e.Taxonomy())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finance-annual",
		Method:      http.MethodGet,
		Path:        "/finance/annual",
		Summary:     "Net amounts grouped by deadline year",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]float64 `json:"body"`
	}, error) {
		return &struct {
			Body map[string]float64 `json:"body"`
		}{Body: views.NetByYear(e.Orders(), e.Taxonomy())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upcoming",
		Method:      http.MethodGet,
		Path:        "/upcoming",
		Summary:     "Active orders due in the next two weeks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []OrderResponse `json:"body"`
	}, error) {
		tax := e.Taxonomy()
		return &struct {
			Body []OrderResponse `json:"body"`
		}{Body: mapOrders(views.Upcoming(e.Orders(), tax, e.Now()), tax)}, nil
	})
}

func registerInsights(api huma.API, e *engine.Engine, svc *insights.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "get-insights",
		Method:      http.MethodGet,
		Path:        "/insights",
		Summary:     "Last generated insights",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body InsightsResponse `json:"body"`
	}, error) {
		text, err := e.Insights(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if text == "" {
			text = insights.Placeholder
		}
		return &struct {
			Body InsightsResponse `json:"body"`
		}{Body: InsightsResponse{Text: text}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-insights",
		Method:      http.MethodPost,
		Path:        "/insights",
		Summary:     "Generate fresh insights",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body InsightsResponse `json:"body"`
	}, error) {
		text := insights.Placeholder
		if svc != nil {
			generated, current := svc.Generate(ctx, e.Orders(), e.Taxonomy())
			text = generated
			if current {
				// Persistence is best effort; the response carries the text
				// either way.
				_ = e.SaveInsights(ctx, generated)
			}
		}
		return &struct {
			Body InsightsResponse `json:"body"`
		}{Body: InsightsResponse{Text: text}}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the change log",
	}, func(ctx context.Context, input *struct {
		N    int    `query:"n" default:"20" minimum:"1" maximum:"500"`
		Type string `query:"type"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := events.Latest(ctx, e.DB, input.N, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

// registerExports serves the binary export formats as plain chi routes; the
// auth middleware still covers them under the base path.
func registerExports(r chi.Router, basePath string, e *engine.Engine) {
	r.Get(path.Join(basePath, "orders/{order_id}/calendar.ics"), func(w http.ResponseWriter, req *http.Request) {
		o, err := e.GetOrder(chi.URLParam(req, "order_id"))
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		block, err := export.CalendarEvent(o)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", o.ID+".ics"))
		io.WriteString(w, block)
	})
	r.Get(path.Join(basePath, "export.xlsx"), func(w http.ResponseWriter, req *http.Request) {
		var buf bytes.Buffer
		if err := export.WriteXLSX(&buf, e.Orders(), e.Taxonomy()); err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="orders.xlsx"`)
		w.Write(buf.Bytes())
	})
}
