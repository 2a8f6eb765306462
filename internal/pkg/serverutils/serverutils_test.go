package serverutils

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"araquem/internal/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Question string `json:"question" validate:"required"`
	Mode     string `json:"compute_mode" validate:"omitempty,oneof=data concept"`
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(sample{Question: "oi"}))

	err := ValidateRequest(sample{Mode: "loud"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "is required", verr.Fields["question"])
	assert.Equal(t, "must be one of: data concept", verr.Fields["compute_mode"])
	assert.Equal(t, "validation failed: compute_mode must be one of: data concept; question is required", err.Error())
}

func newApp(h fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Use(ErrorHandlerMiddleware(logger.NewNopLogger()))
	app.Get("/", h)
	return app
}

func TestErrorHandlerMiddleware(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", &ValidationError{Fields: map[string]string{"question": "is required"}}, 400},
		{"fiber", fiber.NewError(fiber.StatusNotFound, "nope"), 404},
		{"other", errors.New("boom"), 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newApp(func(*fiber.Ctx) error { return tc.err })
			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			require.NoError(t, err)
			assert.Equal(t, tc.code, resp.StatusCode)
			body, _ := io.ReadAll(resp.Body)
			assert.Contains(t, string(body), `"success":false`)
		})
	}
}

func TestOpsTokenMiddleware(t *testing.T) {
	ok := func(c *fiber.Ctx) error { return c.SendString("ok") }

	closed := fiber.New()
	closed.Get("/", OpsTokenMiddleware(""), ok)
	resp, err := closed.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, 403, resp.StatusCode)

	app := fiber.New()
	app.Get("/", OpsTokenMiddleware("s3cret"), ok)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(OpsTokenHeader, "wrong")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(OpsTokenHeader, "s3cret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}
