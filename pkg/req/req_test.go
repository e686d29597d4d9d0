package req

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decisionBody struct {
	Decision string `json:"decision" validate:"required,oneof=approve cancel"`
}

func TestHandleBody(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		ok     bool
		status int
	}{
		{name: "valid", body: `{"decision":"approve"}`, ok: true},
		{name: "malformed", body: `{"decision":`, status: http.StatusUnprocessableEntity},
		{name: "invalid value", body: `{"decision":"maybe"}`, status: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			got, err := HandleBody[decisionBody](w, r, logger.NewNop())
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, "approve", got.Decision)
				return
			}
			assert.Error(t, err)
			assert.Nil(t, got)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), "error_code")
		})
	}
}
