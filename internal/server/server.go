package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	anetserver "github.com/andrei-cloud/anet/server"
	"github.com/andrei-cloud/go_pluginhost/internal/dispatch"
	"github.com/andrei-cloud/go_pluginhost/internal/errorcodes"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler serves dispatched web requests.
type Handler interface {
	Handle(ctx context.Context, in dispatch.Inbound) (dispatch.Outbound, error)
}

// Reply is the frame written back for every request frame.
type Reply struct {
	Code     string             `json:"code"`
	Error    string             `json:"error,omitempty"`
	Response *dispatch.Outbound `json:"response,omitempty"`
}

// logAdapter implements anet.Logger using zerolog.
type logAdapter struct{}

func (l logAdapter) Print(v ...any) {
	log.Info().Msg(fmt.Sprint(v...))
}

func (l logAdapter) Printf(format string, v ...any) {
	log.Info().Msgf(format, v...)
}

func (l logAdapter) Infof(format string, v ...any) {
	log.Info().Msgf(format, v...)
}

func (l logAdapter) Warnf(format string, v ...any) {
	log.Warn().Msgf(format, v...)
}

func (l logAdapter) Errorf(format string, v ...any) {
	log.Error().Msgf(format, v...)
}

// Server accepts framed dispatch requests from remote nodes over anet.
type Server struct {
	address     string
	srv         *anetserver.Server
	handler     atomic.Value // stores Handler
	log         zerolog.Logger
	timeout     time.Duration
	activeConns int32
}

// NewServer configures a node server bound to address.
func NewServer(address string, h Handler, logger zerolog.Logger) (*Server, error) {
	if h == nil {
		return nil, errors.New("server requires a handler")
	}

	cfg := &anetserver.ServerConfig{
		MaxConns:        100,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     0 * time.Second, // disable idle connection closure.
		ShutdownTimeout: 5 * time.Second,
		Logger:          logAdapter{},
	}

	s := &Server{
		address: address,
		log:     logger,
		timeout: 25 * time.Second,
	}
	s.handler.Store(handlerHolder{h})

	srv, err := anetserver.NewServer(address, anetserver.HandlerFunc(s.handle), cfg)
	if err != nil {
		return nil, fmt.Errorf("server setup failed: %w", err)
	}
	s.srv = srv

	return s, nil
}

// handlerHolder keeps atomic.Value stores of a single concrete type.
type handlerHolder struct{ Handler }

// Start begins listening for connections.
func (s *Server) Start() error {
	s.log.Info().Str("event", "node_server_started").Str("address", s.address).Msg("server started")
	return s.srv.Start()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	return s.srv.Stop()
}

// SetHandler swaps the request handler atomically, used on reload.
func (s *Server) SetHandler(h Handler) {
	s.handler.Store(handlerHolder{h})
}

// ActiveConns returns the number of requests being served.
func (s *Server) ActiveConns() int {
	return int(atomic.LoadInt32(&s.activeConns))
}

func (s *Server) handle(conn *anetserver.ServerConn, data []byte) ([]byte, error) {
	client := conn.Conn.RemoteAddr().String()
	atomic.AddInt32(&s.activeConns, 1)
	defer atomic.AddInt32(&s.activeConns, -1)

	start := time.Now()
	s.log.Debug().
		Str("event", "handle_start").
		Str("client_ip", client).
		Msg("starting request handling")

	var in dispatch.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		s.log.Error().
			Str("event", "malformed_request").
			Str("client_ip", client).
			Err(err).
			Msg("malformed request frame")
		return encodeReply(Reply{Code: errorcodes.Err10.Code, Error: errorcodes.Err10.Description})
	}
	if in.RemoteAddr == "" {
		in.RemoteAddr = client
	}

	s.log.Info().
		Str("event", "request_received").
		Str("client_ip", client).
		Str("path", in.Path).
		Int("active_connections", s.ActiveConns()).
		Msg("received request")

	h := s.handler.Load().(handlerHolder)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	out, err := h.Handle(ctx, in)
	if err != nil {
		he := errorcodes.Err41
		if errors.Is(err, dispatch.ErrUnavailable) {
			he = errorcodes.Err50
		}
		s.log.Error().
			Str("event", "dispatch_error").
			Str("client_ip", client).
			Str("path", in.Path).
			Str("code", he.Code).
			Err(err).
			Msg("dispatch failed")
		return encodeReply(Reply{Code: he.Code, Error: he.Description})
	}

	s.log.Info().
		Str("event", "response_sent").
		Str("client_ip", client).
		Str("path", in.Path).
		Int("status", out.Status).
		Int("size", len(out.Body)).
		Int("active_connections", s.ActiveConns()).
		Msg("sent response")

	s.log.Debug().
		Str("event", "handle_done").
		Str("path", in.Path).
		Str("duration", time.Since(start).String()).
		Msg("completed request handling")

	return encodeReply(Reply{Code: errorcodes.Err00.Code, Response: &out})
}

func encodeReply(r Reply) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}

	return b, nil
}
