// Package server wires the request engine, the backend transport and the
// template configuration into the operations the navigation frontends call.
package server

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"

	"github.com/fleetnav/navserver/dispatch"
	"github.com/fleetnav/navserver/packet"
	"github.com/fleetnav/navserver/request"
	"github.com/fleetnav/navserver/template"
)

// Server owns the shared pieces of the navigation service: the transport to
// the backend module pool, the template loader and the request ID counter.
// Each operation drives its own dispatcher run, so operations from different
// callers proceed independently.
type Server struct {
	config      *Config
	transport   dispatch.Transport
	templates   *template.Loader
	recoverable packet.RecoverablePolicy
	logger      log.Logger

	reqID atomic.Uint32

	closeFn func()
}

// Option configures a server.
type Option func(*Server)

// WithTransport replaces the default simulated loopback transport.
func WithTransport(transport dispatch.Transport, closeFn func()) Option {
	return func(s *Server) {
		s.transport = transport
		s.closeFn = closeFn
	}
}

// WithTemplates replaces the default template configuration.
func WithTemplates(cfg template.Config) Option {
	return func(s *Server) {
		s.templates = template.NewLoader(cfg)
	}
}

// New builds a server. Without a transport option it runs against the
// in-process simulator.
func New(config *Config, opts ...Option) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Server{
		config:      config,
		recoverable: config.Policy.Recoverable(),
		logger:      log.New("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		loopback := dispatch.NewLoopback(config.Workers)
		RegisterSimulator(loopback)
		s.transport = loopback
		s.closeFn = loopback.Close
	}
	if s.templates == nil {
		s.templates = template.NewLoader(template.DefaultConfig())
	}
	return s
}

// Stop shuts the transport down.
func (s *Server) Stop() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

func (s *Server) nextID() uint32 {
	return s.reqID.Add(1)
}

// run drives one request to completion on a fresh dispatcher.
func (s *Server) run(req request.Request) (*request.Answer, error) {
	return dispatch.New(s.transport,
		dispatch.WithAttemptTimeout(s.config.PacketTimeout.Duration)).Run(req)
}

// MapImage aggregates and renders one map image. Screen dimensions and the
// packet timeout default from configuration when unset.
func (s *Server) MapImage(params request.MapImageParams) ([]byte, error) {
	if params.ScreenWidth == 0 {
		params.ScreenWidth = s.config.Screen.Width
	}
	if params.ScreenHeight == 0 {
		params.ScreenHeight = s.config.Screen.Height
	}
	if params.Recoverable == nil {
		params.Recoverable = s.recoverable
	}

	answer, err := s.run(request.NewMapImageRequest(s.nextID(), params))
	if err != nil {
		return nil, err
	}
	return answer.Payload, nil
}

// ExpandRoute fetches a stored route and returns its turn descriptions.
func (s *Server) ExpandRoute(routeID, createTime uint32) ([]string, error) {
	answer, err := s.run(request.NewExpandRouteRequest(s.nextID(), routeID, createTime))
	if err != nil {
		return nil, err
	}
	return request.Turns(answer.Payload), nil
}

// RouteMessageOptions selects what a route notification contains and where
// it goes.
type RouteMessageOptions struct {
	To      string
	Subject string

	Content      template.ContentType
	OverviewOnly bool

	RouteID         uint32
	RouteCreateTime uint32

	// MakeImages embeds one rendered map per turn plus an overview.
	MakeImages bool

	// DryRun composes without mailing and returns the message bodies.
	DryRun bool
}

// RouteMessage runs the full notification workflow: expand the stored
// route, render the turn images, compose the size-bounded message run, mail
// it part by part and bump the route's validity. With DryRun set it returns
// the composed text instead of mailing.
func (s *Server) RouteMessage(opts RouteMessageOptions) ([]byte, error) {
	turnTexts, err := s.ExpandRoute(opts.RouteID, opts.RouteCreateTime)
	if err != nil {
		return nil, err
	}

	content := opts.Content
	if content == "" {
		content = template.ContentType(s.config.Message.ContentType)
	}
	bundle, err := s.templates.Load(content, opts.OverviewOnly)
	if err != nil {
		return nil, err
	}

	subject := opts.Subject
	if subject == "" {
		subject = s.config.Email.Subject
	}

	turns := make([]request.Turn, 0, len(turnTexts))
	for _, text := range turnTexts {
		turns = append(turns, request.Turn{Description: text})
	}

	params := request.RouteMessageParams{
		To:              opts.To,
		From:            s.config.Email.From,
		Subject:         subject,
		Bundle:          bundle,
		Turns:           turns,
		MakeImages:      opts.MakeImages,
		SendEmail:       !opts.DryRun,
		MaxMessageSize:  s.config.Message.MaxSize,
		MaxParts:        s.config.Message.MaxParts,
		RouteID:         opts.RouteID,
		RouteCreateTime: opts.RouteCreateTime,
		ScreenWidth:     s.config.Screen.Width,
		ScreenHeight:    s.config.Screen.Height,
		Recoverable:     s.recoverable,
	}

	answer, err := s.run(request.NewRouteMessageRequest(s.nextID(), params))
	if err != nil {
		return nil, err
	}
	s.logger.Info("Route message done", "to", opts.To, "route", opts.RouteID)
	return answer.Payload, nil
}
