package githubapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func signedRequest(t *testing.T, secret string, body []byte) *http.Request {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature-256", sig)
	return req
}

func TestVerifyWebhookAcceptsValidSignature(t *testing.T) {
	a := &App{Secret: "s3cret"}
	body := []byte(`{"action":"completed"}`)
	req := signedRequest(t, "s3cret", body)

	got, err := a.VerifyWebhook(req)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestVerifyWebhookRejectsBadSignature(t *testing.T) {
	a := &App{Secret: "s3cret"}
	body := []byte(`{"action":"completed"}`)
	req := signedRequest(t, "wrong-secret", body)

	_, err := a.VerifyWebhook(req)
	require.Error(t, err)
}

func TestVerifyWebhookRejectsMissingSignature(t *testing.T) {
	a := &App{Secret: "s3cret"}
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(`{}`))
	_, err := a.VerifyWebhook(req)
	require.Error(t, err)
}

func TestCheckRunCompletedSuccess(t *testing.T) {
	require.True(t, CheckRunCompletedSuccess("check_run", []byte(`{"action":"completed","check_run":{"status":"completed","conclusion":"success"}}`)))
	require.False(t, CheckRunCompletedSuccess("check_run", []byte(`{"action":"completed","check_run":{"conclusion":"failure"}}`)))
	require.False(t, CheckRunCompletedSuccess("check_run", []byte(`{"action":"created"}`)))
	require.False(t, CheckRunCompletedSuccess("ping", []byte(`{}`)))
}
