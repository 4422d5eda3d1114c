package client

import (
	"net/http"
	"time"

	"nowshowing/work/config"
)

// HeaderSettingClient wraps http.Client to automatically apply the service's
// identifying headers to every outbound request. Streaming providers are
// probed with the same User-Agent the original front end advertised, so probe
// results match what a direct embed load would see.
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
}

// NewHeaderSettingClient builds the shared outbound client. Individual probes
// carry their own context deadlines, so the client itself has no overall
// timeout; the transport guards the slow phases instead.
func NewHeaderSettingClient(config *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: 30 * time.Second,
		},
		// Providers redirect embed URLs liberally; follow a few hops and
		// then judge whatever we landed on.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	return &HeaderSettingClient{
		Client: client,
		config: config,
	}
}

func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", hsc.config.UserAgent)
	req.Header.Set("Accept", "*/*")
}
