package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dunamismax/badgeflow/internal/badge"
	"github.com/dunamismax/badgeflow/internal/crop"
	"github.com/dunamismax/badgeflow/internal/domain"
	"github.com/dunamismax/badgeflow/internal/export"
	"github.com/dunamismax/badgeflow/internal/filter"
	"github.com/dunamismax/badgeflow/internal/flow"
)

var errBadRequest = errors.New("bad request")

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrMissingRequiredField),
		errors.Is(err, domain.ErrInvalidEmailFormat),
		errors.Is(err, filter.ErrUnknownField),
		errors.Is(err, export.ErrUnknownResolution),
		errors.Is(err, badge.ErrInvalidScale),
		errors.Is(err, crop.ErrNoSource):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidFileType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, domain.ErrImageDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, flow.ErrWrongStage),
		errors.Is(err, flow.ErrSuperseded),
		errors.Is(err, export.ErrNotMounted):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
