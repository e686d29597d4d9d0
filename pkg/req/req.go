package req

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/Dhoini/numgate/pkg/res"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Decode декодирует JSON тело в T
func Decode[T any](body io.ReadCloser) (T, error) {
	var payload T
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return payload, err
	}
	return payload, nil
}

// IsValid проверяет validate теги payload
func IsValid[T any](payload T) error {
	return validate.Struct(payload)
}

// HandleBody декодирует и проверяет тело запроса. При ошибке ответ 422 уже
// записан.
func HandleBody[T any](w http.ResponseWriter, r *http.Request, log *logger.Logger) (*T, error) {
	body, err := Decode[T](r.Body)
	if err != nil {
		res.JsonErrorResponse(w, res.ErrorResponse{Error: "malformed request body"}, http.StatusUnprocessableEntity, log)
		return nil, err
	}

	if err := IsValid(body); err != nil {
		res.JsonErrorResponse(w, res.ErrorResponse{Error: "invalid request data", Details: err.Error()}, http.StatusUnprocessableEntity, log)
		return nil, err
	}
	return &body, nil
}
