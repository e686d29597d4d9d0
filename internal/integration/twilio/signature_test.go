package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

// sign повторяет провайдера: URL, затем отсортированные ключи и значения,
// HMAC-SHA1 с auth token в base64.
func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	payload := fullURL
	for _, k := range keys {
		payload += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidSignature(t *testing.T) {
	const fullURL = "https://bot.example.com/webhooks/sms/77"
	form := url.Values{"To": {"+14155550100"}, "From": {"+15550001"}, "Body": {"code 1234"}}
	good := sign(cred.AuthToken, fullURL, form)

	tests := []struct {
		name      string
		token     string
		url       string
		form      url.Values
		signature string
		want      bool
	}{
		{name: "valid", token: cred.AuthToken, url: fullURL, form: form, signature: good, want: true},
		{name: "other token", token: "ffffffffffffffffffffffffffffffff", url: fullURL, form: form, signature: good},
		{name: "other url", token: cred.AuthToken, url: "https://bot.example.com/webhooks/sms/78", form: form, signature: good},
		{name: "tampered body", token: cred.AuthToken, url: fullURL, form: url.Values{"To": {"+14155550100"}, "From": {"+15550001"}, "Body": {"forged"}}, signature: good},
		{name: "missing signature", token: cred.AuthToken, url: fullURL, form: form},
		{name: "missing token", url: fullURL, form: form, signature: good},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidSignature(tt.token, tt.url, tt.form, tt.signature))
		})
	}
}
