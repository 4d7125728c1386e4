// Package githubapp wraps the GitHub App JWT / installation-token
// transport (ghinstallation) and webhook signature verification Inkstone's
// webhook endpoint and comments mirror share.
package githubapp

import (
	"fmt"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v66/github"
)

type App struct {
	AppID          int64
	Slug           string
	Secret         string
	InstallationID int64
	PrivateKeyPEM  []byte
}

func New(appID int64, slug, webhookSecret, privateKeyPEM string, installationID int64) (*App, error) {
	keyBytes := []byte(privateKeyPEM)
	if len(bytesTrimSpace(keyBytes)) == 0 {
		return nil, fmt.Errorf("empty private key PEM")
	}
	return &App{
		AppID:          appID,
		Slug:           slug,
		Secret:         webhookSecret,
		InstallationID: installationID,
		PrivateKeyPEM:  keyBytes,
	}, nil
}

// InstallationClient returns a go-github REST client authenticated as the
// configured installation.
func (a *App) InstallationClient() (*github.Client, error) {
	tr, err := ghinstallation.New(http.DefaultTransport, a.AppID, a.InstallationID, a.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}
	return github.NewClient(&http.Client{Transport: tr}), nil
}

// InstallationHTTPClient returns the bare *http.Client behind
// InstallationClient, for callers that need the App-JWT-to-installation-
// token transport without go-github's REST surface — the comments
// mirror's raw GraphQL POST (internal/comments).
func (a *App) InstallationHTTPClient() (*http.Client, error) {
	tr, err := ghinstallation.New(http.DefaultTransport, a.AppID, a.InstallationID, a.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: tr}, nil
}

func bytesTrimSpace(b []byte) []byte {
	i := 0
	j := len(b)
	for i < j && (b[i] == ' ' || b[i] == '\n' || b[i] == '\r' || b[i] == '\t') {
		i++
	}
	for j > i && (b[j-1] == ' ' || b[j-1] == '\n' || b[j-1] == '\r' || b[j-1] == '\t') {
		j--
	}
	return b[i:j]
}
