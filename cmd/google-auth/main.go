// Command google-auth mints the refresh token the worker uses for Google
// Drive storage and YouTube publishing.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	yt "google.golang.org/api/youtube/v3"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/config"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
)

const authTimeout = 3 * time.Minute

func main() {
	_ = godotenv.Load()
	log := logger.New(logger.Config{Level: "info", Format: "text", ServiceName: "google-auth"})

	clientID := config.Env("GOOGLE_CLIENT_ID", config.Env("GDRIVE_CLIENT_ID", ""))
	clientSecret := config.Env("GOOGLE_CLIENT_SECRET", config.Env("GDRIVE_CLIENT_SECRET", ""))
	if clientID == "" || clientSecret == "" {
		log.Error("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET (or the GDRIVE_ equivalents) are required")
		os.Exit(1)
	}

	scopes := []string{drive.DriveFileScope}
	if config.BoolEnv("GOOGLE_AUTH_YOUTUBE", true) {
		scopes = append(scopes, yt.YoutubeUploadScope, yt.YoutubeReadonlyScope)
	}

	// Local callback on a free port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.LogFatal("failed to listen for the OAuth callback", err)
	}
	defer ln.Close()
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", ln.Addr().(*net.TCPAddr).Port)

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
		RedirectURL:  redirectURL,
	}

	state := randomState()
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "invalid state", http.StatusBadRequest)
			errCh <- fmt.Errorf("invalid state")
		case q.Get("error") != "":
			http.Error(w, "auth error: "+q.Get("error"), http.StatusBadRequest)
			errCh <- fmt.Errorf("auth error: %s", q.Get("error"))
		case q.Get("code") == "":
			http.Error(w, "missing code", http.StatusBadRequest)
			errCh <- fmt.Errorf("missing code")
		default:
			fmt.Fprintln(w, "Authorized. You can close this window and return to the terminal.")
			codeCh <- q.Get("code")
		}
	})

	srv := &http.Server{Handler: mux, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	// Offline access with forced consent so a refresh token is issued.
	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Printf("\nOpen this URL in your browser:\n\n%s\n\nWaiting for authorization on %s\n", authURL, redirectURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		log.LogFatal("authorization failed", err)
	case <-time.After(authTimeout):
		log.Error("timed out waiting for authorization")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		log.LogFatal("token exchange failed", err)
	}

	if strings.TrimSpace(tok.RefreshToken) == "" {
		fmt.Println("\nNo refresh token was returned.")
		fmt.Println("Revoke the app's previous access at https://myaccount.google.com/permissions and run this again.")
		return
	}

	fmt.Println("\nRefresh token (set GDRIVE_REFRESH_TOKEN and/or YOUTUBE_REFRESH_TOKEN):")
	fmt.Println(tok.RefreshToken)
}

func randomState() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
