package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/html"
)

const fetchMaxBytes = 512 * 1024

var errDisallowedTarget = errors.New("disallowed local/internal target")

// WebFetchTool fetches a public web page and returns its readable text.
// Loopback, private, link-local and unspecified addresses are refused both
// before the request and at dial time, which also covers redirects.
type WebFetchTool struct {
	client       *http.Client
	allowPrivate bool
}

type WebFetchConfig struct {
	// AllowPrivate disables the internal-address guard. Tests only.
	AllowPrivate bool
}

func NewWebFetchTool(cfg WebFetchConfig) *WebFetchTool {
	t := &WebFetchTool{allowPrivate: cfg.AllowPrivate}
	dialer := &net.Dialer{Timeout: 10 * time.Second, Control: t.dialControl}
	t.client = &http.Client{
		Timeout: searchTimeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			return checkScheme(req.URL)
		},
	}
	return t
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch a public web page by URL and return its text content with markup removed."
}
func (t *WebFetchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"url": {Type: "string", Description: "Full URL to fetch (must start with http:// or https://)"},
		},
		[]string{"url"},
	)
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if err := requireArgs(args, "url"); err != nil {
		return "", err
	}
	rawURL := strings.TrimSpace(ArgsString(args, "url"))

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Sprintf("invalid URL: %v", err), nil
	}
	if err := checkScheme(parsed); err != nil {
		return err.Error(), nil
	}
	if !t.allowPrivate {
		if err := checkHost(ctx, parsed.Hostname()); err != nil {
			return err.Error(), nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgentString)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, errDisallowedTarget) {
			return errDisallowedTarget.Error(), nil
		}
		return fmt.Sprintf("fetch failed: %v", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Sprintf("fetch failed: HTTP %d", resp.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	text := string(body)
	if isHTML(resp.Header.Get("Content-Type"), body) {
		text = extractText(text)
	}
	text = strings.TrimSpace(strings.ToValidUTF8(text, "�"))
	if text == "" {
		return "(empty page)", nil
	}
	return text, nil
}

func checkScheme(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %q (only http/https allowed)", u.Scheme)
	}
	if u.Hostname() == "" {
		return errors.New("invalid URL: missing host")
	}
	return nil
}

func checkHost(ctx context.Context, host string) error {
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return errDisallowedTarget
	}
	if ip := net.ParseIP(host); ip != nil {
		if disallowedIP(ip) {
			return errDisallowedTarget
		}
		return nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("cannot resolve host %s: %v", host, err)
	}
	for _, a := range addrs {
		if disallowedIP(a.IP) {
			return errDisallowedTarget
		}
	}
	return nil
}

func disallowedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

func (t *WebFetchTool) dialControl(_, address string, _ syscall.RawConn) error {
	if t.allowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	if ip := net.ParseIP(host); ip == nil || disallowedIP(ip) {
		return errDisallowedTarget
	}
	return nil
}

func isHTML(contentType string, body []byte) bool {
	if strings.Contains(contentType, "html") {
		return true
	}
	if contentType == "" {
		return strings.Contains(http.DetectContentType(body), "html")
	}
	return false
}

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"svg": true, "iframe": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true,
	"article": true, "header": true, "footer": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "pre": true, "blockquote": true,
	"title": true, "table": true, "ul": true, "ol": true,
}

// extractText renders the visible text of an HTML document, one block per
// line, with runs of whitespace collapsed.
func extractText(doc string) string {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return doc
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(strings.Join(strings.Fields(n.Data), " "))
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			b.WriteByte('\n')
		}
	}
	walk(root)

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
