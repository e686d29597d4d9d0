package twilio

import (
	"net/url"

	twilioclient "github.com/twilio/twilio-go/client"
)

// ValidSignature сообщает, совпадает ли signature с подписью authToken для POST
// формы form на fullURL. Подписывается только первое значение каждого поля.
func ValidSignature(authToken, fullURL string, form url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	params := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	validator := twilioclient.NewRequestValidator(authToken)
	return validator.Validate(fullURL, params, signature)
}
