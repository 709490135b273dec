package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"pewcms/internal/schedule"
	logx "pewcms/pkg/logx"
)

const userAgent = "pewcms-scheduler/1"

func runHTTPPing(ctx context.Context, d *Dispatcher, _ *int64, p Params) schedule.Outcome {
	target := p.String("url")
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return failed(errors.New("payload.url must be an absolute http(s) url"))
	}
	method := strings.ToUpper(strings.TrimSpace(p.String("method")))
	if method == "" {
		method = http.MethodGet
	}
	if !isToken(method) {
		return failed(fmt.Errorf("payload.method %q is not a valid http method", method))
	}
	code, err := d.ping(ctx, method, u.String())
	if err != nil {
		return failed(err)
	}
	if want := p.Int("expectStatus"); want > 0 {
		if code != want {
			return failed(fmt.Errorf("http ping %s: status %d, want %d", u.Host, code, want))
		}
		return succeeded()
	}
	if code >= 400 {
		return failed(fmt.Errorf("http ping %s: status %d", u.Host, code))
	}
	return succeeded()
}

func runSitemapPing(ctx context.Context, d *Dispatcher, _ *int64, p Params) schedule.Outcome {
	if d.settings != nil {
		on, err := d.settings.GetBool(ctx, settingPingSitemap, true)
		if err != nil {
			return failed(fmt.Errorf("read %s: %w", settingPingSitemap, err))
		}
		if !on {
			return skipped("sitemap ping disabled")
		}
	}
	sc := d.sitemapConfig()
	sitemap := p.String("sitemapUrl")
	if sitemap == "" {
		sitemap = sc.URL
	}
	if sitemap == "" {
		return skipped("no sitemap url configured")
	}
	if len(sc.PingEndpoints) == 0 {
		return skipped("no sitemap ping endpoints configured")
	}

	var errs []error
	for _, ep := range sc.PingEndpoints {
		target := sitemapPingURL(ep, sitemap)
		code, err := d.ping(ctx, http.MethodGet, target)
		if err == nil && code >= 400 {
			err = fmt.Errorf("sitemap ping %s: status %d", hostOf(target), code)
		}
		if err != nil {
			d.log.Debug("sitemap ping failed", logx.String("endpoint", hostOf(target)), logx.Err(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return failed(errors.Join(errs...))
	}
	return succeeded()
}

// sitemapPingURL substitutes {sitemap} in endpoint, or appends it as the
// "sitemap" query parameter.
func sitemapPingURL(endpoint, sitemap string) string {
	escaped := url.QueryEscape(sitemap)
	if strings.Contains(endpoint, "{sitemap}") {
		return strings.ReplaceAll(endpoint, "{sitemap}", escaped)
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + "sitemap=" + escaped
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}

// isToken reports whether s is an RFC 9110 token, the grammar of a method.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range []byte(s) {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}

func (d *Dispatcher) ping(ctx context.Context, method, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http %s %s: %w", method, hostOf(target), err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
