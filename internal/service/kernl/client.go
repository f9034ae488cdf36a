package kernl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/oshokin/kernl-deploy/internal/version"
)

const (
	// archiveContentType is sent for the file part of an upload.
	archiveContentType = "application/zip"
	// s3URLPlaceholder tells the service the archive is attached, not hosted elsewhere.
	s3URLPlaceholder = "none"
)

// quoteEscaper escapes quoted-string values in part headers.
var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Client talks to the Kernl API.
type Client struct {
	// httpClient performs the requests.
	httpClient *http.Client
	// authURL is the authentication endpoint.
	authURL string
	// pluginsURL is the base of per-plugin endpoints.
	pluginsURL *url.URL

	// callTimeout bounds every request; zero means no timeout.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithCallTimeout sets a timeout for each call.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// Credentials are exchanged for a token.
type Credentials struct {
	// Email is the account login.
	Email string `json:"email"`
	// Password is the account password.
	Password string `json:"password"`
}

// Upload is a plugin version ready to be published.
type Upload struct {
	// Version is the release version.
	Version string
	// Changelog is the release description, possibly empty.
	Changelog string
	// FileName is the archive name reported to the service.
	FileName string
	// Size is the archive size in bytes.
	Size int64
	// Content streams the archive bytes.
	Content io.Reader
}

// NewClient creates a client for the given authentication and plugins endpoints.
func NewClient(authURL, pluginsURL string, opts ...Option) (*Client, error) {
	if authURL == "" || pluginsURL == "" {
		return nil, errURLRequired
	}

	base, err := url.Parse(pluginsURL)
	if err != nil {
		return nil, fmt.Errorf("parse plugins url: %w", err)
	}

	client := &Client{
		httpClient: http.DefaultClient,
		authURL:    authURL,
		pluginsURL: base,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Authenticate exchanges credentials for a bearer token.
// The response body is the token; a JSON string body is unquoted.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	payload, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.authURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")

	status, body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		// The body may echo credentials back, keep only the status.
		return "", fmt.Errorf("authenticate: %w", newStatusError(status, nil))
	}

	token := parseToken(body)
	if token == "" {
		return "", ErrEmptyToken
	}

	return token, nil
}

// UploadVersion publishes an archive as a new version of the plugin.
// Only 201 Created counts as success; the response body is returned.
func (c *Client) UploadVersion(ctx context.Context, token, pluginID string, upload *Upload) ([]byte, error) {
	if token == "" {
		return nil, errTokenRequired
	}

	if pluginID == "" {
		return nil, errPluginIDRequired
	}

	form, err := encodeUpload(upload)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.VersionsURL(pluginID), form.body)
	if err != nil {
		return nil, err
	}

	req.ContentLength = form.length
	req.Header.Set("Content-Type", form.contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	status, respBody, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("upload version: %w", err)
	}

	if status != http.StatusCreated {
		return nil, fmt.Errorf("upload version: %w", newStatusError(status, respBody))
	}

	return respBody, nil
}

// VersionsURL returns <pluginsURL>/<pluginID>/versions.
func (c *Client) VersionsURL(pluginID string) string {
	target := *c.pluginsURL
	// Use path.Join to normalize duplicate slashes when composing the URL path.
	target.Path = path.Join(target.Path, pluginID, "versions")
	target.RawPath = ""

	return target.String()
}

// do sends req and reads the whole response.
func (c *Client) do(req *http.Request) (int, []byte, error) {
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, body, nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

// uploadForm is a multipart body that streams the archive between a fixed head and tail.
type uploadForm struct {
	// body reads the head, the archive and the tail in turn.
	body io.Reader
	// length is the exact body size, so the request is not chunked.
	length int64
	// contentType carries the multipart boundary.
	contentType string
}

// encodeUpload renders the multipart form. Field order matters to the service:
// text fields first, the file last. Only the form framing is buffered; the
// archive itself is read from upload.Content while the request is sent.
func encodeUpload(upload *Upload) (*uploadForm, error) {
	var buf bytes.Buffer

	form := multipart.NewWriter(&buf)

	fields := []struct {
		name  string
		value string
	}{
		{"changelog", upload.Changelog},
		{"fileSize", strconv.FormatInt(upload.Size, 10)},
		{"s3Url", s3URLPlaceholder},
		{"version", upload.Version},
	}
	for _, field := range fields {
		if err := form.WriteField(field.name, field.value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", field.name, err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(upload.FileName)))
	header.Set("Content-Type", archiveContentType)

	if _, err := form.CreatePart(header); err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}

	head := bytes.Clone(buf.Bytes())
	buf.Reset()

	// Closing the writer now renders only the closing boundary.
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	tail := bytes.Clone(buf.Bytes())

	return &uploadForm{
		body: io.MultiReader(
			bytes.NewReader(head),
			io.LimitReader(upload.Content, upload.Size),
			bytes.NewReader(tail)),
		length:      int64(len(head)) + upload.Size + int64(len(tail)),
		contentType: form.FormDataContentType(),
	}, nil
}

// parseToken trims the body and unquotes it when it is a JSON string.
func parseToken(body []byte) string {
	raw := strings.TrimSpace(string(body))

	var token string
	if err := json.Unmarshal([]byte(raw), &token); err == nil {
		return strings.TrimSpace(token)
	}

	return raw
}
