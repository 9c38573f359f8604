package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/theroutercompany/mock_api/pkg/mock/auth"
	mockconfig "github.com/theroutercompany/mock_api/pkg/mock/config"
)

func adminCommand(args []string) error {
	subcommand := "status"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		subcommand = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("admin "+subcommand, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:9091", "Base URL for the admin server")
	token := fs.String("token", "", "Bearer token for admin requests")
	jwtSecret := fs.String("jwt-secret", "", "Mint a short-lived admin JWT with this HS256 secret")
	jwtIssuer := fs.String("jwt-issuer", "", "Issuer claim for minted tokens")
	timeout := fs.Duration("timeout", 5*time.Second, "HTTP request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	bearer := *token
	if bearer == "" && *jwtSecret != "" {
		issuer, err := auth.New(mockconfig.AdminConfig{JWTSecret: *jwtSecret, JWTIssuer: *jwtIssuer})
		if err != nil {
			return err
		}
		bearer, err = issuer.Issue("mockapi-cli", time.Minute, time.Now())
		if err != nil {
			return fmt.Errorf("mint admin token: %w", err)
		}
	}

	client := &http.Client{Timeout: *timeout}
	base := strings.TrimRight(*baseURL, "/")

	switch subcommand {
	case "status":
		return adminRequest(client, http.MethodGet, base+"/__admin/status", bearer, http.StatusOK)
	case "config":
		return adminRequest(client, http.MethodGet, base+"/__admin/config", bearer, http.StatusOK)
	case "lint":
		return adminRequest(client, http.MethodGet, base+"/__admin/lint", bearer, http.StatusOK)
	case "reload":
		return adminRequest(client, http.MethodPost, base+"/__admin/reload", bearer, http.StatusAccepted)
	default:
		return fmt.Errorf("unknown admin subcommand %q", subcommand)
	}
}

func adminRequest(client *http.Client, method, url, token string, want int) error {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != want {
		return fmt.Errorf("admin request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		fmt.Println(string(body))
	} else if method == http.MethodPost {
		fmt.Println("reload requested")
	}
	return nil
}
