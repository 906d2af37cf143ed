// Package twilio is a focused client for sending WhatsApp messages through
// the Twilio Messaging REST API.
package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"shop-assistant/internal/integrations/paramstore"
)

// DefaultFrom is the Twilio WhatsApp sandbox sender.
const DefaultFrom = "whatsapp:+14155238886"

const (
	defaultBaseURL = "https://api.twilio.com/2010-04-01"
	channelPrefix  = "whatsapp:"
	demoSIDPrefix  = "demo_message_"
)

// Twilio error codes meaning the destination cannot receive WhatsApp messages.
var invalidRecipientCodes = map[int]bool{
	21211: true, // invalid 'To' phone number
	21214: true, // 'To' number cannot be reached
	21614: true, // 'To' number is not a valid mobile number
	63003: true, // channel could not find the recipient
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// APIError is a non-2xx reply from Twilio.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
	MoreInfo   string `json:"more_info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio: status %d code %d: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) HTTPStatusCode() int {
	return e.StatusCode
}

// InvalidRecipient reports whether the error rejects the destination number
// rather than the request as a whole.
func (e *APIError) InvalidRecipient() bool {
	return invalidRecipientCodes[e.Code] || e.StatusCode == http.StatusNotFound
}

// Message is the subset of Twilio's message resource the service uses.
type Message struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	To           string `json:"to"`
	Direction    string `json:"direction"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	DateCreated  string `json:"date_created"`
	DateSent     string `json:"date_sent"`
	DateUpdated  string `json:"date_updated"`
}

type credentials struct {
	AccountSID string `json:"account_sid"`
	AuthToken  string `json:"auth_token"`
}

// Client sends WhatsApp messages. Without credentials it runs in demo mode:
// sends are logged and answered with synthetic ids.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	from           string
	statusCallback string
	logger         *slog.Logger

	getter    Getter
	paramName string
	static    *credentials

	credOnce sync.Once
	creds    credentials
	credErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithCredentials sets the account SID and auth token directly.
func WithCredentials(accountSID, authToken string) Option {
	return func(c *Client) {
		accountSID, authToken = strings.TrimSpace(accountSID), strings.TrimSpace(authToken)
		if accountSID == "" || authToken == "" {
			return
		}
		c.static = &credentials{AccountSID: accountSID, AuthToken: authToken}
	}
}

// WithParamStore reads credentials from a JSON parameter
// ({"account_sid": "...", "auth_token": "..."}) on first use.
func WithParamStore(g Getter, name string) Option {
	return func(c *Client) {
		c.getter = g
		c.paramName = strings.TrimSpace(name)
	}
}

// WithFrom sets the sender address; a bare number gets the whatsapp: prefix.
func WithFrom(from string) Option {
	return func(c *Client) {
		if from = strings.TrimSpace(from); from != "" {
			c.from = withChannel(from)
		}
	}
}

// WithStatusCallback asks Twilio to post delivery updates to callbackURL.
func WithStatusCallback(callbackURL string) Option {
	return func(c *Client) {
		c.statusCallback = strings.TrimSpace(callbackURL)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		from:       DefaultFrom,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Demo reports whether the client has no credential source.
func (c *Client) Demo() bool {
	return c.static == nil && (c.getter == nil || c.paramName == "")
}

func (c *Client) resolveCredentials(ctx context.Context) (credentials, error) {
	if c.static != nil {
		return *c.static, nil
	}
	c.credOnce.Do(func() {
		if err := paramstore.GetJSON(ctx, c.getter, c.paramName, &c.creds); err != nil {
			c.credErr = fmt.Errorf("twilio: fetch credentials: %w", err)
			return
		}
		if c.creds.AccountSID == "" || c.creds.AuthToken == "" {
			c.credErr = errors.New("twilio: credentials are incomplete")
		}
	})
	return c.creds, c.credErr
}

// AuthToken returns the auth token used to sign webhooks.
func (c *Client) AuthToken(ctx context.Context) (string, error) {
	if c.Demo() {
		return "", errors.New("twilio: no credentials configured")
	}
	creds, err := c.resolveCredentials(ctx)
	if err != nil {
		return "", err
	}
	return creds.AuthToken, nil
}

// Send delivers a text message and returns Twilio's message SID.
func (c *Client) Send(ctx context.Context, to, body string) (string, error) {
	form := url.Values{"Body": {body}}
	return c.create(ctx, to, form)
}

// SendMedia delivers a media message with an optional caption.
func (c *Client) SendMedia(ctx context.Context, to, mediaURL, caption string) (string, error) {
	form := url.Values{"MediaUrl": {mediaURL}}
	if caption != "" {
		form.Set("Body", caption)
	}
	return c.create(ctx, to, form)
}

func (c *Client) create(ctx context.Context, to string, form url.Values) (string, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return "", errors.New("twilio: recipient must not be empty")
	}
	if c.Demo() {
		sid := demoSIDPrefix + uuid.NewString()
		c.logger.Info("demo mode: message not sent", "to", to, "sid", sid, "body", form.Get("Body"), "media", form.Get("MediaUrl"))
		return sid, nil
	}
	creds, err := c.resolveCredentials(ctx)
	if err != nil {
		return "", err
	}

	form.Set("From", c.from)
	form.Set("To", withChannel(to))
	if c.statusCallback != "" {
		form.Set("StatusCallback", c.statusCallback)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(creds.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("twilio: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(creds.AccountSID, creds.AuthToken)

	var msg Message
	if err := c.do(req, &msg); err != nil {
		return "", err
	}
	if msg.SID == "" {
		return "", errors.New("twilio: response missing sid")
	}
	c.logger.Debug("message sent", "to", to, "sid", msg.SID)
	return msg.SID, nil
}

// Fetch returns the current state of a message.
func (c *Client) Fetch(ctx context.Context, sid string) (Message, error) {
	if strings.TrimSpace(sid) == "" {
		return Message{}, errors.New("twilio: sid must not be empty")
	}
	if c.Demo() {
		now := time.Now().UTC().Format(time.RFC1123Z)
		return Message{SID: sid, Status: "delivered", Direction: "outbound-api", DateCreated: now, DateSent: now, DateUpdated: now}, nil
	}
	creds, err := c.resolveCredentials(ctx)
	if err != nil {
		return Message{}, err
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages/%s.json", c.baseURL, url.PathEscape(creds.AccountSID), url.PathEscape(sid))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Message{}, fmt.Errorf("twilio: create request: %w", err)
	}
	req.SetBasicAuth(creds.AccountSID, creds.AuthToken)

	var msg Message
	if err := c.do(req, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twilio: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		apiErr := &APIError{StatusCode: res.StatusCode}
		if json.Unmarshal(buf, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(buf))
		}
		return apiErr
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("twilio: read response body: %w", err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("twilio: decode response: %w", err)
	}
	return nil
}

// Signature computes the X-Twilio-Signature value for a request: base64
// HMAC-SHA1 over the full URL followed by each POST parameter name and value
// in name order.
func Signature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)
		for _, v := range values {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidSignature checks a webhook signature in constant time.
func ValidSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	expected := Signature(authToken, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func withChannel(addr string) string {
	if strings.HasPrefix(addr, channelPrefix) {
		return addr
	}
	return channelPrefix + addr
}
