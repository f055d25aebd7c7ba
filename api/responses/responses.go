// Package responses writes the JSON envelopes shared by every handler.
package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	zlog "github.com/rs/zerolog/log"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError maps err onto its code's status and public shape. Errors without
// a code are reported as internal. 5xx responses are logged as errors, the
// rest as warnings.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("error response written without an error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	body := types.ErrorBody{
		Code:      string(typed.Code()),
		Message:   meta.PublicMessage,
		Retryable: meta.Retryable,
		RequestID: logger.RequestID(ctx),
	}
	if meta.ExposeMessage && typed.Message() != "" {
		body.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		body.Details = typed.Details()
	}

	if logg != nil {
		logCtx := logg.WithFields(ctx, pkgerrors.Dump(err).Fields())
		logCtx = logg.WithField(logCtx, "status", meta.HTTPStatus)
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(logCtx, "request failed", err)
		} else {
			logg.Warn(logg.WithField(logCtx, "error", err.Error()), "request rejected")
		}
	}

	writeJSON(w, meta.HTTPStatus, types.ErrorEnvelope{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are already out; all that is left is to record it.
		zlog.Error().Err(err).Int("status", status).Msg("encode response body")
	}
}
