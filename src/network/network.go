package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"quote-aggregator/src/helpers"
	"quote-aggregator/src/interfaces"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"
)

// maxResponseBytes caps carrier responses.
const maxResponseBytes = 4 << 20

type AsyncNetworkManager struct {
	Config       *models.MConfig
	ProxyManager interfaces.IProxyManager
	Logger       *logger.Logger

	mu     sync.RWMutex
	client *http.Client
}

// -----------------------------------------------------------------------------

func NewAsyncNetworkManager(cfg *models.MConfig, log *logger.Logger) *AsyncNetworkManager {
	var proxies []string
	if cfg.Network.Enabled {
		proxies = cfg.Network.Proxies
	}

	nm := &AsyncNetworkManager{
		Config:       cfg,
		ProxyManager: helpers.NewProxyManager(proxies, cfg.Network.UserAgent, log.Named("proxy")),
		Logger:       log,
	}
	nm.client = nm.createClient()
	return nm
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) createClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if nm.ProxyManager.HasProxies() {
		proxyStr, err := nm.ProxyManager.GetCurrentProxy()
		if err == nil && proxyStr != "" {
			proxyURL, err := url.Parse(proxyStr)
			if err == nil {
				transport.Proxy = http.ProxyURL(proxyURL)
			}
		}
	}

	timeout := time.Duration(nm.Config.Network.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) rotateProxy() {
	if !nm.ProxyManager.HasProxies() {
		return
	}

	nm.ProxyManager.RotateProxy()
	client := nm.createClient()

	nm.mu.Lock()
	nm.client = client
	nm.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) httpClient() *http.Client {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return nm.client
}

// -----------------------------------------------------------------------------

// PostJSON performs a single POST and classifies the outcome.
func (nm *AsyncNetworkManager) PostJSON(ctx context.Context, urlStr string, payload interface{}, headers map[string]string) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, helpers.NewPermanentError("encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, bytes.NewReader(body))
	if err != nil {
		return nil, helpers.NewPermanentError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", nm.ProxyManager.GetUserAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := nm.httpClient().Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		classified := helpers.ClassifyProviderError(err)
		if helpers.IsTransient(classified) {
			nm.Logger.Info("Request to %s failed: %v. Rotating proxy.", urlStr, err)
			nm.rotateProxy()
		}
		return nil, classified
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, helpers.NewTransientError("read response", err)
	}

	return respBody, StatusError(resp.StatusCode, respBody)
}

// -----------------------------------------------------------------------------

// StatusError maps an HTTP status onto the provider error taxonomy.
// 2xx returns nil; 429 and 5xx are transient; other codes are permanent.
func StatusError(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return helpers.NewTransientError(fmt.Sprintf("upstream status %d", status), nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return helpers.NewAuthenticationError(fmt.Sprintf("upstream status %d", status), nil)
	default:
		msg := string(body)
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return helpers.NewPermanentError(fmt.Sprintf("upstream status %d: %s", status, msg), nil)
	}
}
