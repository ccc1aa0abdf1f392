package ljarchive

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cavaliergopher/grab/v3"
	"github.com/pkg/errors"
)

const (
	interfacePath = "/interface/flat" // flat protocol endpoint relative to the server URL
	secretWord    = "SECRET"          // replaces secrets in log lines
	defaultTries  = 3                 // attempts per request when Options.Retries is unset
)

var (
	// secretParams are request parameters never written to logs.
	secretParams = map[string]bool{"auth_challenge": true, "auth_response": true}
	// secretHeaders keeps the matched prefix of a header value and hides the rest.
	secretHeaders = map[string]*regexp.Regexp{"Cookie": regexp.MustCompile(`(?i)^(ljsession\s*=)`)}
)

// Waiter delays the caller before each remote call.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Options configure a Conn.
type Options struct {
	HTTPClient   *http.Client // HTTPClient performs all requests; its Timeout bounds every attempt.
	Limiter      Waiter       // Limiter is consulted before every attempt. Nil disables throttling.
	Logger       *log.Logger  // Logger receives debug output. Nil discards it.
	UserAgent    string       // UserAgent is sent with every request.
	Retries      int          // Retries is the number of attempts per request.
	MinFreeSpace uint64       // MinFreeSpace is the number of free bytes required before a download.
}

// Conn talks to one server on behalf of one journal.
type Conn struct {
	creds        Credentials
	http         *http.Client
	grab         *grab.Client
	limiter      Waiter
	logger       *log.Logger
	userAgent    string
	retries      int
	minFreeSpace uint64
}

// New creates a Conn for the given credentials.
func New(creds Credentials, opts Options) (*Conn, error) {
	if strings.TrimSpace(creds.Server) == "" {
		return nil, errors.New("server cannot be empty")
	}
	if strings.TrimSpace(creds.User) == "" {
		return nil, errors.New("user cannot be empty")
	}
	creds.Server = strings.TrimRight(creds.Server, "/")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = Generator
	}
	retries := opts.Retries
	if retries <= 0 {
		retries = defaultTries
	}

	return &Conn{
		creds:        creds,
		http:         httpClient,
		grab:         &grab.Client{HTTPClient: httpClient, UserAgent: userAgent},
		limiter:      opts.Limiter,
		logger:       logger,
		userAgent:    userAgent,
		retries:      retries,
		minFreeSpace: opts.MinFreeSpace,
	}, nil
}

// Server returns the base server URL without a trailing slash.
func (c *Conn) Server() string {
	return c.creds.Server
}

// Request performs an HTTP request with bounded retries and returns the response body.
// GET requests carry params in the query string, POST requests in a form body.
// HTTP 403, 404 and 410 fail immediately with a *StatusError.
func (c *Conn) Request(ctx context.Context, rawURL string, params url.Values, headers http.Header, method string) ([]byte, error) {
	if method != http.MethodGet && method != http.MethodPost {
		return nil, errors.Errorf("invalid request method %s, only POST and GET are allowed", method)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		body, err := c.do(ctx, rawURL, params, headers, method)
		if err == nil {
			return body, nil
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Terminal() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		c.logger.Printf("attempt #%d to %s with params %s and headers %s failed: %v",
			attempt, rawURL, redactParams(params), redactHeaders(headers), err)
	}
	return nil, errors.Wrapf(ErrRetriesExhausted, "could not read response from %s after %d attempts (last error: %v)", rawURL, c.retries, lastErr)
}

// do performs a single attempt.
func (c *Conn) do(ctx context.Context, rawURL string, params url.Values, headers http.Header, method string) ([]byte, error) {
	var (
		req *http.Request
		err error
	)
	if method == http.MethodGet {
		target := rawURL
		if len(params) > 0 {
			target = rawURL + "?" + params.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Printf("error closing response body: %v", err)
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

func (c *Conn) wait(ctx context.Context) error {
	if c.limiter == nil {
		return ctx.Err()
	}
	return c.limiter.Wait(ctx)
}

// Call performs an authenticated flat protocol call with the challenge-response scheme.
func (c *Conn) Call(ctx context.Context, mode string, params url.Values) (*Response, error) {
	interfaceURL := c.creds.Server + interfacePath
	challenge, response, err := c.authResponse(ctx, interfaceURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get auth challenge")
	}

	form := url.Values{}
	for key, values := range params {
		form[key] = append([]string(nil), values...)
	}
	form.Set("mode", mode)
	form.Set("auth_method", "challenge")
	form.Set("user", c.creds.User)
	form.Set("ver", "1")
	form.Set("auth_challenge", challenge)
	form.Set("auth_response", response)

	body, err := c.Request(ctx, interfaceURL, form, nil, http.MethodPost)
	if err != nil {
		return nil, errors.Wrapf(err, "%s request failed", mode)
	}
	return ParseFlat(string(body))
}

// authResponse fetches a challenge and salts the password hash with it.
func (c *Conn) authResponse(ctx context.Context, interfaceURL string) (challenge, response string, err error) {
	body, err := c.Request(ctx, interfaceURL, url.Values{"mode": {"getchallenge"}, "ver": {"1"}}, nil, http.MethodPost)
	if err != nil {
		return "", "", err
	}
	answer, err := ParseFlat(string(body))
	if err != nil {
		return "", "", err
	}
	challenge, ok := answer.Get("challenge")
	if !ok {
		return "", "", errors.New("challenge answer has no challenge")
	}
	return challenge, MD5Hex(challenge + c.creds.PasswordHash), nil
}

// SessionToken opens a short-lived web session and returns its token.
func (c *Conn) SessionToken(ctx context.Context) (string, error) {
	answer, err := c.Call(ctx, "sessiongenerate", url.Values{"expiration": {"short"}})
	if err != nil {
		return "", err
	}
	token, ok := answer.Get("ljsession")
	if !ok || token == "" {
		return "", errors.New("sessiongenerate answer has no session token")
	}
	return token, nil
}

// ExpireSession revokes a session opened by SessionToken.
// Tokens look like "v2:u12345:s123:abcdefg:..."; the third part carries the session id.
func (c *Conn) ExpireSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	parts := strings.Split(token, ":")
	if len(parts) < 3 {
		return nil
	}
	sessionID := strings.TrimPrefix(parts[2], "s")
	_, err := c.Call(ctx, "sessionexpire", url.Values{"expire_id_" + sessionID: {"1"}})
	return err
}

// ExportComments fetches one comment export page as raw XML.
func (c *Conn) ExportComments(ctx context.Context, token, exportPage string, kind ExportKind, startID int) ([]byte, error) {
	pageURL := c.creds.Server + "/" + strings.TrimLeft(exportPage, "/")
	params := url.Values{"get": {string(kind)}, "startid": {strconv.Itoa(startID)}}
	headers := http.Header{"Cookie": {"ljsession=" + token}}
	return c.Request(ctx, pageURL, params, headers, http.MethodGet)
}

// Event fetches one post by its server id.
func (c *Conn) Event(ctx context.Context, itemID int) (*Response, error) {
	return c.Call(ctx, "getevents", url.Values{
		"selecttype":  {"one"},
		"itemid":      {strconv.Itoa(itemID)},
		"lineendings": {"pc"},
	})
}

// ProfileURL returns the profile page of an identity known only by id.
func ProfileURL(server, userID string) string {
	return fmt.Sprintf("%s/profile?userid=%s&t=I", strings.TrimRight(server, "/"), userID)
}

// AuthorURL returns the journal address of a local user: schema://user-with-dashes.netloc
func AuthorURL(schema, netloc, user string) string {
	return fmt.Sprintf("%s://%s.%s", schema, strings.ReplaceAll(user, "_", "-"), netloc)
}

// ProfileTitle fetches the profile page of userID and returns its title.
func (c *Conn) ProfileTitle(ctx context.Context, userID string) (string, error) {
	body, err := c.Request(ctx, c.creds.Server+"/profile", url.Values{"userid": {userID}, "t": {"I"}}, nil, http.MethodGet)
	if err != nil {
		return "", err
	}
	title, ok := PageTitle(body)
	if !ok {
		return "", errors.Errorf("profile page of user %s has no title", userID)
	}
	return title, nil
}

// MD5Hex returns the lowercase hex md5 digest of s.
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s)) // #nosec G401 -- md5 is mandated by the protocol
	return hex.EncodeToString(sum[:])
}

func redactParams(params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		value := strings.Join(params[key], ",")
		if secretParams[key] {
			value = secretWord
		}
		parts = append(parts, key+"="+value)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func redactHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		value := strings.Join(headers[key], ",")
		if re, ok := secretHeaders[key]; ok {
			if m := re.FindStringSubmatch(value); m != nil {
				value = m[1] + secretWord
			} else {
				value = secretWord
			}
		}
		parts = append(parts, key+"="+value)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
