package apic

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
)

// Session is an authenticated controller session. The token is refreshed
// transparently once it is older than the configured refresh interval.
type Session struct {
	client    *Client
	id        string
	issuedAt  time.Time
	expiresAt time.Time

	mu          sync.Mutex
	token       string
	lastRefresh time.Time
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// IssuedAt is when the session logged in.
func (s *Session) IssuedAt() time.Time { return s.issuedAt }

// ExpiresAt is when the retry loop must replace the session.
func (s *Session) ExpiresAt() time.Time { return s.expiresAt }

// Token returns the current session token.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// currentToken refreshes the token if it is due and returns it.
func (s *Session) currentToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client.clock.Since(s.lastRefresh) <= s.client.config.RefreshInterval {
		return s.token, nil
	}

	const op = "refresh"
	resp, terr := s.client.do(ctx, op, http.MethodGet, s.client.config.URL("/api/aaaRefresh"), s.token, nil)
	if terr != nil {
		return "", classify(terr)
	}
	token, terr := tokenFrom(op, resp)
	if terr != nil {
		return "", classify(terr)
	}

	s.token = token
	s.lastRefresh = s.client.clock.Now()
	s.client.logger.WithField("session", s.id).Debug("Token refreshed")
	return s.token, nil
}

// get fetches an API path and returns the decoded reply. Anything but 200 is an error.
func (s *Session) get(ctx context.Context, path string, q *engine.Query) (*response, error) {
	token, err := s.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	op := "GET " + path
	resp, terr := s.client.do(ctx, op, http.MethodGet, withQuery(s.client.config.URL(path), q), token, nil)
	if terr != nil {
		return nil, classify(terr)
	}
	if resp.status != http.StatusOK {
		text, _ := resp.errorText()
		return nil, classify(statusError(op, resp.status, text))
	}

	s.client.logger.WithField("path", path).WithField("length", len(resp.imdata)).Debug("Response received")
	return resp, nil
}

// GetClass returns the attributes of every object of the class.
func (s *Session) GetClass(ctx context.Context, class string, q *engine.Query) ([]engine.Attributes, error) {
	resp, err := s.get(ctx, "/api/class/"+class, q)
	if err != nil {
		return nil, err
	}
	return resp.attributes(class), nil
}

// GetObject returns the records of the class found at or below dn.
func (s *Session) GetObject(ctx context.Context, dn, class string, q *engine.Query) ([]engine.Attributes, error) {
	resp, err := s.get(ctx, "/api/node/mo/"+dn, q)
	if err != nil {
		return nil, err
	}
	return resp.attributes(class), nil
}

// Count returns the number of objects of the class.
func (s *Session) Count(ctx context.Context, class string) (int, error) {
	resp, err := s.get(ctx, "/api/class/"+class, &engine.Query{SubtreeInclude: "count"})
	if err != nil {
		return 0, err
	}
	counts := resp.attributes("moCount")
	if len(counts) == 0 {
		return 0, nil
	}
	raw := counts[0].Get("count")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, engine.NewPermanentError(fmt.Sprintf("invalid count for %s", class), err).
			WithCode(engine.ErrCodeDecode).
			WithOperation("count " + class)
	}
	return n, nil
}

// Request sends a raw call and returns the HTTP status. Only transport and
// authentication failures are errors; callers judge the status themselves.
func (s *Session) Request(ctx context.Context, method, path string, body interface{}) (int, error) {
	token, err := s.currentToken(ctx)
	if err != nil {
		return 0, err
	}

	resp, terr := s.client.do(ctx, method+" "+path, method, s.client.config.URL(path), token, body)
	if terr != nil {
		return 0, classify(terr)
	}
	if text, ok := resp.errorText(); ok {
		s.client.logger.WithField("path", path).WithField("status", resp.status).Warnf("Controller error: %s", text)
	}
	return resp.status, nil
}

// Logout ends the session on the controller.
func (s *Session) Logout(ctx context.Context) error {
	body := map[string]interface{}{
		"aaaUser": map[string]interface{}{
			"attributes": map[string]string{"name": s.client.config.User},
		},
	}
	status, err := s.Request(ctx, http.MethodPost, "/api/aaaLogout", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return classify(statusError("logout", status, ""))
	}
	return nil
}

var _ engine.Session = (*Session)(nil)
