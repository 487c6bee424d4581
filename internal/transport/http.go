package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTP is a Transport backed by a remote blob-store HTTP server: GET to
// read a file, PUT to write one, DELETE to remove one, and GET with an
// Accept: application/json header on a directory path to list it. It
// speaks no Conserve-specific wire protocol; any static file server that
// supports a JSON directory listing on request can serve as a remote
// archive.
//
// It uses the same client/context-aware-request shape as a typical
// smart-HTTP VCS transport, repointed at this much simpler contract.
type HTTP struct {
	client    *http.Client
	baseURL   string
	userAgent string
}

// NewHTTP returns an HTTP transport rooted at baseURL.
func NewHTTP(baseURL string) *HTTP {
	return &HTTP{
		client:    &http.Client{Timeout: 60 * time.Second},
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "conserve/1.0",
	}
}

func (h *HTTP) url(p string) string {
	return h.baseURL + "/" + strings.TrimLeft(p, "/")
}

func (h *HTTP) do(ctx context.Context, method, p string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.url(p), body)
	if err != nil {
		return nil, fmt.Errorf("build %s request for %q: %w", method, p, err)
	}
	req.Header.Set("User-Agent", h.userAgent)
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", method, p, err)
	}
	return resp, nil
}

func (h *HTTP) CreateDir(ctx context.Context, p string) error {
	resp, err := h.do(ctx, http.MethodPut, strings.TrimRight(p, "/")+"/", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("create dir %q: server returned %d", p, resp.StatusCode)
	}
	return nil
}

type httpDirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
}

func (h *HTTP) List(ctx context.Context, p string) ([]DirEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url(strings.TrimRight(p, "/")+"/"), nil)
	if err != nil {
		return nil, fmt.Errorf("build list request for %q: %w", p, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", h.userAgent)
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", p, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("list %q: %w", p, fs.ErrNotExist)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("list %q: server returned %d", p, resp.StatusCode)
	}
	var entries []httpDirEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode listing for %q: %w", p, err)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name, IsDir: e.IsDir})
	}
	return out, nil
}

func (h *HTTP) Exists(ctx context.Context, p string) (bool, error) {
	resp, err := h.do(ctx, http.MethodHead, p, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("exists %q: server returned %d", p, resp.StatusCode)
	}
	return true, nil
}

func (h *HTTP) ReadAll(ctx context.Context, p string) ([]byte, error) {
	resp, err := h.do(ctx, http.MethodGet, p, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("read %q: %w", p, fs.ErrNotExist)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("read %q: server returned %d", p, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body for %q: %w", p, err)
	}
	return data, nil
}

func (h *HTTP) WriteFileAtomic(ctx context.Context, p string, data []byte) error {
	resp, err := h.do(ctx, http.MethodPut, p, bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("write %q: server returned %d", p, resp.StatusCode)
	}
	return nil
}

func (h *HTTP) Delete(ctx context.Context, p string) error {
	resp, err := h.do(ctx, http.MethodDelete, p, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("delete %q: %w", p, fs.ErrNotExist)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("delete %q: server returned %d", p, resp.StatusCode)
	}
	return nil
}

func (h *HTTP) RemoveDirAll(ctx context.Context, p string) error {
	resp, err := h.do(ctx, http.MethodDelete, strings.TrimRight(p, "/")+"/", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("remove dir all %q: server returned %d", p, resp.StatusCode)
	}
	return nil
}

func (h *HTTP) Sub(p string) Transport {
	u, err := url.Parse(h.baseURL)
	if err != nil {
		return &HTTP{client: h.client, baseURL: h.baseURL + "/" + p, userAgent: h.userAgent}
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Trim(p, "/")
	return &HTTP{client: h.client, baseURL: u.String(), userAgent: h.userAgent}
}
