package pricing

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/gauravitis/crm-sub001/internal/platform/httpx"
)

// Handler serves totals previews so the UI never computes money itself.
type Handler struct {
	formatter *Formatter
	validate  *validator.Validate
}

// NewHandler constructs the pricing handler.
func NewHandler(formatter *Formatter) *Handler {
	return &Handler{formatter: formatter, validate: validator.New()}
}

// MountRoutes registers pricing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/preview", h.preview)
}

type previewRequest struct {
	DeliveryCharges decimal.Decimal `json:"delivery_charges"`
	Lines           []LineItem      `json:"lines" validate:"dive"`
}

type previewLine struct {
	LineItem
	LineBreakdown
}

type previewResponse struct {
	Lines   []previewLine `json:"lines"`
	Totals  OrderTotals   `json:"totals"`
	Display DisplayTotals `json:"display"`
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.BindError(w, err)
		return
	}
	breakdowns, totals, err := ComputeDocument(req.Lines, req.DeliveryCharges)
	if err != nil {
		if errors.Is(err, ErrInvalidLineItem) {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Line Item", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}
	lines := make([]previewLine, len(req.Lines))
	for i := range req.Lines {
		lines[i] = previewLine{LineItem: req.Lines[i], LineBreakdown: breakdowns[i]}
	}
	httpx.JSON(w, http.StatusOK, previewResponse{Lines: lines, Totals: totals, Display: h.formatter.Totals(totals)})
}
