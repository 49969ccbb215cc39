package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type bindTarget struct {
	Name     string `json:"name" validate:"required"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
}

func TestBindValidatesPayload(t *testing.T) {
	v := validator.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"","quantity":0}`))
	var target bindTarget
	err := Bind(req, v, &target)
	require.Error(t, err)

	rr := httptest.NewRecorder()
	BindError(rr, err)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "required", problem.Fields["Name"])
	require.Equal(t, "gt", problem.Fields["Quantity"])
}

func TestBindRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","quantity":1,"extra":true}`))
	var target bindTarget
	err := Bind(req, validator.New(), &target)
	require.ErrorIs(t, err, ErrValidation)

	rr := httptest.NewRecorder()
	BindError(rr, err)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, errBoom{})
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "secret")
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

type errBoom struct{}

func (errBoom) Error() string { return "secret connection string" }
