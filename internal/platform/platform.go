// Package platform wires the client-side core into the single session a
// process owns: one transport, one session manager, one content gateway and
// one chat log, sharing one lifecycle event stream.
package platform

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/afero"

	"kxfer.org/internal/apiclient"
	"kxfer.org/internal/auth"
	"kxfer.org/internal/chat"
	"kxfer.org/internal/config"
	"kxfer.org/internal/content"
	"kxfer.org/internal/session"
	"kxfer.org/internal/stream"
)

// Platform is the process-wide client. Construct one per process.
type Platform struct {
	client   *apiclient.Client
	sessions *session.Manager
	content  *content.Gateway
	chat     *chat.Conversation
	events   *stream.Stream
	store    session.TokenStore
}

type options struct {
	fs         afero.Fs
	tokenStore session.TokenStore
	httpClient *http.Client
}

// Option customises construction, mostly for tests.
type Option func(*options)

// WithFs persists the token on fs instead of the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithTokenStore replaces the file-backed token store.
func WithTokenStore(s session.TokenStore) Option {
	return func(o *options) { o.tokenStore = s }
}

// WithHTTPClient sets the transport's HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// New builds the platform from cfg. Every 401 seen by the transport is routed
// to the session manager, which purges once per session.
func New(cfg config.Config, opts ...Option) (*Platform, error) {
	o := options{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&o)
	}

	clientOpts := []apiclient.Option{
		apiclient.WithTimeout(cfg.RequestTimeout.Std()),
		apiclient.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, apiclient.WithHTTPClient(o.httpClient))
	}
	client, err := apiclient.New(cfg.APIURL, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}

	store := o.tokenStore
	if store == nil {
		fileStore, err := session.NewFileStore(o.fs, cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("platform: %w", err)
		}
		store = fileStore
	}

	events := stream.New()
	sessions := session.NewManager(client, store, session.WithEvents(events))
	client.SetUnauthorizedHandler(sessions.Invalidate)

	return &Platform{
		client:   client,
		sessions: sessions,
		content:  content.NewGateway(sessions, client),
		chat:     chat.New(sessions, client, chat.WithEvents(events)),
		events:   events,
		store:    store,
	}, nil
}

// Login authenticates and commits the session.
func (p *Platform) Login(ctx context.Context, username, password string) (auth.User, error) {
	cred, err := p.sessions.Login(ctx, username, password)
	if err != nil {
		return auth.User{}, err
	}
	return cred.User, nil
}

// Resume restores the session from the token store, if one was persisted.
func (p *Platform) Resume(ctx context.Context) (auth.User, error) {
	return p.sessions.Resume(ctx)
}

// Logout ends the session. It is safe to call without one.
func (p *Platform) Logout() { p.sessions.Logout() }

// Can is the advisory clearance check for UI gating.
func (p *Platform) Can(required int) bool { return p.sessions.HasPermission(required) }

func (p *Platform) Sessions() *session.Manager { return p.sessions }
func (p *Platform) Content() *content.Gateway { return p.content }
func (p *Platform) Chat() *chat.Conversation { return p.chat }
func (p *Platform) Events() *stream.Stream { return p.events }
func (p *Platform) Client() *apiclient.Client { return p.client }
func (p *Platform) TokenStore() session.TokenStore { return p.store }
