package transport

import (
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorHandlerStatusMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		err        error
		wantStatus int
		wantLevel  zapcore.Level
	}{
		{
			name:       "fiber error keeps its code",
			err:        fiber.NewError(fiber.StatusTeapot, "teapot"),
			wantStatus: fiber.StatusTeapot,
			wantLevel:  zapcore.WarnLevel,
		},
		{
			name:       "unwrapped validation error maps to 400",
			err:        fmt.Errorf("%w: bad channel", domain.ErrValidation),
			wantStatus: fiber.StatusBadRequest,
			wantLevel:  zapcore.WarnLevel,
		},
		{
			name:       "unwrapped not found maps to 404",
			err:        fmt.Errorf("%w: notification", domain.ErrNotFound),
			wantStatus: fiber.StatusNotFound,
			wantLevel:  zapcore.WarnLevel,
		},
		{
			name:       "unwrapped conflict maps to 409",
			err:        fmt.Errorf("%w: already cancelled", domain.ErrConflict),
			wantStatus: fiber.StatusConflict,
			wantLevel:  zapcore.WarnLevel,
		},
		{
			name:       "unknown error is a 500 logged at error",
			err:        fmt.Errorf("connection reset"),
			wantStatus: fiber.StatusInternalServerError,
			wantLevel:  zapcore.ErrorLevel,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			core, recorded := observer.New(zapcore.DebugLevel)
			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.New(core))})
			app.Get("/boom", func(*fiber.Ctx) error { return tc.err })

			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}

			entries := recorded.All()
			if len(entries) != 1 {
				t.Fatalf("log entries = %d, want 1", len(entries))
			}
			if entries[0].Level != tc.wantLevel {
				t.Fatalf("log level = %s, want %s", entries[0].Level, tc.wantLevel)
			}
		})
	}
}
