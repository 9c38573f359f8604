package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/theroutercompany/mock_api/pkg/mock/auth"
	"github.com/theroutercompany/mock_api/pkg/mock/problem"
)

func parseAllowList(entries []string) []*net.IPNet {
	if len(entries) == 0 {
		return nil
	}
	allow := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		e := strings.TrimSpace(entry)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			if _, network, err := net.ParseCIDR(e); err == nil {
				allow = append(allow, network)
			}
			continue
		}
		if ip := net.ParseIP(e); ip != nil {
			mask := net.CIDRMask(len(ip)*8, len(ip)*8)
			allow = append(allow, &net.IPNet{IP: ip, Mask: mask})
		}
	}
	return allow
}

func (r *Runtime) startAdminServer(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.cfg.Admin.Listen)
	if err != nil {
		return err
	}

	r.adminAddr = ln.Addr().String()
	mux := http.NewServeMux()
	mux.HandleFunc("/__admin/status", r.adminAuth(r.handleAdminStatus))
	mux.HandleFunc("/__admin/config", r.adminAuth(r.handleAdminConfig))
	mux.HandleFunc("/__admin/reload", r.adminAuth(r.handleAdminReload))
	mux.HandleFunc("/__admin/lint", r.adminAuth(r.handleAdminLint))
	mux.HandleFunc("/__admin/events", r.adminAuth(r.events.serve))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	r.adminSrv = srv
	adminErrCh := make(chan error, 1)
	r.adminErrCh = adminErrCh

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			adminErrCh <- err
		}
		close(adminErrCh)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.HTTP.ShutdownTimeout.AsDuration())
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	r.logger.Infow("admin server listening", "addr", r.adminAddr)
	return nil
}

func (r *Runtime) adminAuth(handler func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !r.authorizeAdmin(w, req) {
			return
		}
		handler(w, req)
	}
}

// authorizeAdmin accepts a valid credential when one is configured,
// otherwise loopback callers and the allow-list.
func (r *Runtime) authorizeAdmin(w http.ResponseWriter, req *http.Request) bool {
	r.mu.Lock()
	authenticator := r.authenticator
	allowList := r.adminAllow
	r.mu.Unlock()

	if authenticator != nil {
		if _, err := authenticator.Authenticate(req); err != nil {
			status, title := http.StatusUnauthorized, "Authentication Required"
			var authErr auth.Error
			if errors.As(err, &authErr) {
				status, title = authErr.Status, authErr.Title
			}
			problem.Write(w, status, title, err.Error(), "", req.URL.Path)
			return false
		}
		return true
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	for _, network := range allowList {
		if network.Contains(ip) {
			return true
		}
	}
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	return false
}

func (r *Runtime) handleAdminStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	r.mu.Lock()
	response := map[string]any{
		"pid":           os.Getpid(),
		"uptimeSeconds": time.Since(r.bootTime).Seconds(),
		"version":       r.cfg.Version,
		"listen":        r.server.Addr(),
		"fixtures": map[string]any{
			"root":       r.root,
			"wildcard":   r.store.Wildcard(),
			"extension":  r.store.Extension(),
			"routes":     r.lastLint.Routes,
			"lintErrors": len(r.lastLint.Errors()),
		},
		"watch": map[string]any{
			"enabled": r.cfg.Watch.Enabled,
			"clients": r.events.size(),
		},
		"admin": map[string]any{
			"enabled": r.cfg.Admin.Enabled,
			"listen":  r.adminAddr,
		},
	}
	r.mu.Unlock()
	_ = json.NewEncoder(w).Encode(response)
}

func (r *Runtime) handleAdminConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(r.Config().Redacted())
}

// handleAdminReload hands off to the reload callback when one is registered.
// Without one it rescans the fixture tree, which is all a running server
// needs since fixtures are read per request.
func (r *Runtime) handleAdminReload(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if r.reloadFn == nil {
		report := r.relint()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "fixtures rescanned", "routes": report.Routes})
		return
	}
	if _, err := r.reloadFn(); err != nil {
		http.Error(w, fmt.Sprintf("reload failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "reload requested"})
}

type lintResponse struct {
	Routes int         `json:"routes"`
	Errors []lintIssue `json:"errors"`
	Warns  []lintIssue `json:"warnings"`
}

type lintIssue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (r *Runtime) handleAdminLint(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	report := r.relint()

	resp := lintResponse{Routes: report.Routes, Errors: []lintIssue{}, Warns: []lintIssue{}}
	for _, issue := range report.Errors() {
		resp.Errors = append(resp.Errors, lintIssue{Path: issue.Path, Message: issue.Message})
	}
	for _, issue := range report.Warnings() {
		resp.Warns = append(resp.Warns, lintIssue{Path: issue.Path, Message: issue.Message})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
