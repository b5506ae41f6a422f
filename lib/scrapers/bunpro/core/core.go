package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"bunpro-backup/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/bunpro/core")

var ErrLoginFailed = errors.New("login failed")

const (
	DefaultBaseUrl = "https://bunpro.jp"
	signInPath     = "/users/sign_in"

	// cookie issued at login whose value authorizes the frontend
	// JSON api calls
	tokenCookieName = "frontend_api_token"

	invalidCredentialsMarker = "Invalid Email or password."
)

type Credentials struct {
	Email    string
	Password string
}

// Client holds the cookie session shared by every bunpro scraper.
// It is not safe to share a single Client across processes scraping
// different accounts; create one per account.
type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	creds    Credentials
	loggedIn bool
}

type ClientOptions struct {
	// defaults to DefaultBaseUrl
	BaseUrl  string
	Email    string
	Password string
	// optional destination for http message dumps, see restyutil
	InstrumentOutput restyutil.InstrumentOutput
}

func NewClient(opts ClientOptions) (*Client, error) {
	rawBaseUrl := opts.BaseUrl
	if rawBaseUrl == "" {
		rawBaseUrl = DefaultBaseUrl
	}
	baseUrl, err := url.Parse(rawBaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(rawBaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	restyutil.InstrumentClient(client, tracer, opts.InstrumentOutput)

	return &Client{
		BaseUrl: baseUrl,
		Http:    client,
		creds: Credentials{
			Email:    opts.Email,
			Password: opts.Password,
		},
	}, nil
}

func (c *Client) LoggedIn() bool {
	return c.loggedIn
}

// APIToken returns the token cookie value issued at login, or ""
// when the session has none.
func (c *Client) APIToken() string {
	for _, cookie := range c.Http.GetClient().Jar.Cookies(c.BaseUrl) {
		if cookie.Name == tokenCookieName {
			return cookie.Value
		}
	}
	return ""
}

// EnsureLogin performs the login handshake unless the session is
// already authenticated. A second call makes no network requests.
func (c *Client) EnsureLogin(ctx context.Context) error {
	if c.loggedIn {
		return nil
	}
	slog.InfoContext(ctx, "logging in", "email", c.creds.Email)
	result := c.Login(ctx)
	if !result.OK {
		return fmt.Errorf("%w: %s", ErrLoginFailed, result.Message)
	}
	slog.InfoContext(ctx, "login succeeded")
	return nil
}

type LoginResult struct {
	OK      bool
	Message string
}

// Login runs the sign-in handshake: fetch the sign-in page, lift the
// hidden authenticity token out of the form, post the credentials and
// sniff the response for the invalid-credentials marker. Failures of
// any kind are reported through the result, never as a raw error.
func (c *Client) Login(ctx context.Context) LoginResult {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	fail := func(msg string) LoginResult {
		span.SetStatus(codes.Error, msg)
		return LoginResult{OK: false, Message: msg}
	}

	res, err := c.Http.R().
		SetContext(ctx).
		Get(signInPath)
	if err != nil {
		return fail(fmt.Sprintf("Connection error: %s", err))
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return fail(fmt.Sprintf("Unexpected error during login: %s", err))
	}

	authenticityToken := doc.Find("input[name=authenticity_token]").AttrOr("value", "")
	if authenticityToken == "" {
		return fail("Unexpected error during login: could not find authenticity token")
	}

	loginRes, err := c.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"utf8":               "✓",
			"authenticity_token": authenticityToken,
			"user[email]":        c.creds.Email,
			"user[password]":     c.creds.Password,
			"user[remember_me]":  "1",
			"commit":             "Log in",
		}).
		Post(signInPath)
	if err != nil {
		return fail(fmt.Sprintf("Connection error: %s", err))
	}

	errDoc, err := goquery.NewDocumentFromReader(bytes.NewReader(loginRes.Body()))
	if err == nil {
		alert := errDoc.Find("div.errors div.alert")
		if strings.Contains(alert.Text(), invalidCredentialsMarker) {
			return fail("Invalid email/password. Please check your Bunpro credentials.")
		}
	}

	if !loginRes.IsSuccess() {
		return fail(fmt.Sprintf("Login failed with status code: %d", loginRes.StatusCode()))
	}

	c.loggedIn = true
	return LoginResult{OK: true}
}
