package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.ErrorBody {
	t.Helper()
	var env types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env.Error
}

func TestWriteSuccessStatusWrapsData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccessStatus(rec, http.StatusCreated, map[string]string{"order_number": "SF-1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"data":{"order_number":"SF-1"}}`, rec.Body.String())
}

func TestWriteErrorExposesClientMessagesAndDetails(t *testing.T) {
	log := logger.Nop()
	ctx := log.WithRequestID(context.Background(), "req-9")
	rec := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeStateConflict, "order already shipped").
		WithDetails(map[string]string{"status": "shipped"})

	WriteError(ctx, log, rec, err)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, string(pkgerrors.CodeStateConflict), body.Code)
	assert.Equal(t, "order already shipped", body.Message)
	assert.Equal(t, map[string]any{"status": "shipped"}, body.Details)
	assert.Equal(t, "req-9", body.RequestID)
	assert.False(t, body.Retryable)
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(logger.Options{Output: buf})
	rec := httptest.NewRecorder()

	WriteError(context.Background(), log, rec, errors.New("pq: relation \"orders\" does not exist"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, string(pkgerrors.CodeInternal), body.Code)
	assert.Equal(t, "internal server error", body.Message)
	assert.Nil(t, body.Details)
	assert.True(t, body.Retryable)
	assert.NotContains(t, rec.Body.String(), "relation")
	assert.Contains(t, buf.String(), `"level":"error"`)
}

func TestWriteErrorLogsClientErrorsAsWarnings(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(logger.Options{Output: buf})
	rec := httptest.NewRecorder()

	WriteError(context.Background(), log, rec, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "order not found", decodeError(t, rec).Message)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"status":404`)
}

func TestWriteErrorKeepsPublicMessageForServerCodes(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, pkgerrors.Wrap(pkgerrors.CodePersistence, errors.New("deadlock"), "insert order"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "order could not be saved", decodeError(t, rec).Message)
}
