package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"OtcPull/internal/domain/models"
	drepo "OtcPull/internal/domain/repository"
	pkghttp "OtcPull/pkg/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
)

// Strategy obtains a fresh session from the broker.
type Strategy interface {
	Name() string
	Login(ctx context.Context) (models.Session, error)
}

// sessionCookies are tried in order when a token travels as a cookie.
var sessionCookies = []string{"ssid", "token", "session"}

func tokenFromCookies(cookies map[string]string) string {
	for _, name := range sessionCookies {
		if v := cookies[name]; v != "" {
			return v
		}
	}
	return ""
}

// tokenExpiry reads exp from JWT-shaped tokens without verifying them.
// Opaque tokens have no known expiry.
func tokenExpiry(token string) *time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.Time.UTC()
	return &t
}

func rejected(err error) error {
	var se *pkghttp.StatusError
	if errors.As(err, &se) && (se.Code == 400 || se.Code == 401 || se.Code == 403) {
		return fmt.Errorf("%w: status %d", models.ErrAuthenticationFailed, se.Code)
	}
	return err
}

// JSONLogin posts credentials to the broker's login API.
type JSONLogin struct {
	client   *pkghttp.Client
	url      string
	email    string
	password string
}

func NewJSONLogin(client *pkghttp.Client, loginURL, email, password string) *JSONLogin {
	return &JSONLogin{client: client, url: loginURL, email: email, password: password}
}

func (s *JSONLogin) Name() string { return "json" }

type loginResponse struct {
	Code      string           `json:"code"`
	Success   *bool            `json:"success"`
	Message   string           `json:"message"`
	SSID      string           `json:"ssid"`
	SessionID string           `json:"session_id"`
	Token     string           `json:"token"`
	UserID    any              `json:"user_id"`
	Balance   *decimal.Decimal `json:"balance"`
	Data      *struct {
		SSID string `json:"ssid"`
	} `json:"data"`
	Result *struct {
		SSID string `json:"ssid"`
	} `json:"result"`
}

func (r loginResponse) token() string {
	switch {
	case r.Data != nil && r.Data.SSID != "":
		return r.Data.SSID
	case r.SSID != "":
		return r.SSID
	case r.Token != "":
		return r.Token
	case r.Result != nil && r.Result.SSID != "":
		return r.Result.SSID
	}
	return r.SessionID
}

func (s *JSONLogin) Login(ctx context.Context) (models.Session, error) {
	if s.email == "" || s.password == "" {
		return models.Session{}, fmt.Errorf("%w: missing credentials", models.ErrAuthenticationFailed)
	}
	var resp loginResponse
	err := s.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodPost,
		URL:     s.url,
		Headers: map[string]string{"Accept": "application/json"},
		Body: map[string]any{
			"identifier":         s.email,
			"password":           s.password,
			"remember":           false,
			"client_platform_id": 9,
		},
	}, &resp)
	if err != nil {
		return models.Session{}, fmt.Errorf("json login: %w", rejected(err))
	}
	if resp.Success != nil && !*resp.Success {
		return models.Session{}, fmt.Errorf("json login: %w: %s", models.ErrAuthenticationFailed, resp.Message)
	}

	cookies := s.client.Cookies(s.url)
	token := resp.token()
	if token == "" {
		token = tokenFromCookies(cookies)
	}
	if token == "" {
		return models.Session{}, fmt.Errorf("json login: %w: no session token in response", models.ErrAuthenticationFailed)
	}
	return models.Session{
		Token:   token,
		UserID:  idString(resp.UserID),
		Balance: resp.Balance,
		Cookies: cookies,
	}, nil
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ""
}

// FormLogin signs in through the HTML form, echoing its CSRF token.
type FormLogin struct {
	client   *pkghttp.Client
	url      string
	email    string
	password string
}

// NewFormLogin needs a client with a cookie jar; the session arrives as a cookie.
func NewFormLogin(client *pkghttp.Client, signInURL, email, password string) *FormLogin {
	return &FormLogin{client: client, url: signInURL, email: email, password: password}
}

func (s *FormLogin) Name() string { return "form" }

func (s *FormLogin) Login(ctx context.Context) (models.Session, error) {
	if s.email == "" || s.password == "" {
		return models.Session{}, fmt.Errorf("%w: missing credentials", models.ErrAuthenticationFailed)
	}
	var page []byte
	if err := s.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodGet,
		URL:     s.url,
		Headers: map[string]string{"Accept": "text/html"},
	}, &page); err != nil {
		return models.Session{}, fmt.Errorf("form login page: %w", err)
	}
	csrf, err := csrfToken(page)
	if err != nil {
		return models.Session{}, fmt.Errorf("form login: %w", err)
	}

	form := url.Values{}
	form.Set("_token", csrf)
	form.Set("email", s.email)
	form.Set("password", s.password)
	form.Set("remember", "1")
	var discard []byte
	if err := s.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodPost,
		URL:     s.url,
		Headers: map[string]string{"Referer": s.url},
		Body:    form,
	}, &discard); err != nil {
		return models.Session{}, fmt.Errorf("form login: %w", rejected(err))
	}

	cookies := s.client.Cookies(s.url)
	token := tokenFromCookies(cookies)
	if token == "" {
		return models.Session{}, fmt.Errorf("form login: %w: no session cookie", models.ErrAuthenticationFailed)
	}
	return models.Session{Token: token, Cookies: cookies}, nil
}

// csrfToken finds <input name="_token" value="..."> or the csrf-token meta tag.
func csrfToken(page []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse sign-in page: %w", err)
	}
	var found string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "input":
				if attr(n, "name") == "_token" {
					found = attr(n, "value")
				}
			case "meta":
				if attr(n, "name") == "csrf-token" {
					found = attr(n, "content")
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if found == "" {
		return "", errors.New("csrf token not found")
	}
	return found, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// CookieCapture lifts the session cookie out of an interactive browser login.
type CookieCapture struct {
	source drepo.CookieSource
}

func NewCookieCapture(source drepo.CookieSource) *CookieCapture {
	return &CookieCapture{source: source}
}

func (s *CookieCapture) Name() string { return "cookie" }

func (s *CookieCapture) Login(ctx context.Context) (models.Session, error) {
	if s.source == nil {
		return models.Session{}, fmt.Errorf("cookie capture: %w: no browser", models.ErrAuthenticationFailed)
	}
	cookies, err := s.source.CaptureCookies(ctx)
	if err != nil {
		return models.Session{}, fmt.Errorf("cookie capture: %w", err)
	}
	token := tokenFromCookies(cookies)
	if token == "" {
		return models.Session{}, fmt.Errorf("cookie capture: %w: no session cookie", models.ErrAuthenticationFailed)
	}
	return models.Session{Token: token, Cookies: cookies}, nil
}
