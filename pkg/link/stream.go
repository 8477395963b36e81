// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link binds fwupgrade's channel contracts to real transports: a
// byte console over a serial port or WebSocket, and the structured OTA
// channels over otalink framing or MQTT.
package link

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// Stream is a duplex byte stream to the device.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// ErrClosed is returned by operations on a closed link.
var ErrClosed = errors.New("link closed")

type serialStream struct {
	port serial.Port
}

func (s *serialStream) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *serialStream) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *serialStream) Close() error                { return s.port.Close() }

// OpenSerial opens portName at baudRate, 8N1.
func OpenSerial(portName string, baudRate int) (Stream, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &serialStream{port: port}, nil
}

// webSocketStream carries the byte stream in binary WebSocket messages.
// Reads are served from the last message until it is drained.
type webSocketStream struct {
	conn *websocket.Conn

	readMu sync.Mutex
	buf    []byte
	err    error

	writeMu sync.Mutex
}

func (w *webSocketStream) Read(p []byte) (int, error) {
	w.readMu.Lock()
	defer w.readMu.Unlock()

	for len(w.buf) == 0 {
		if w.err != nil {
			return 0, w.err
		}
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.err = fmt.Errorf("%w: %v", ErrClosed, err)
			return 0, w.err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		w.buf = data
	}

	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

// Write sends p as one binary message.
func (w *webSocketStream) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *webSocketStream) Close() error {
	return w.conn.Close()
}

// WebSocketConfig describes a WebSocket bridge to the device.
type WebSocketConfig struct {
	URL string
	// Username and Password enable HTTP Basic auth when both are set.
	Username      string
	Password      string
	SkipSSLVerify bool

	HandshakeTimeout time.Duration
}

// OpenWebSocket dials cfg.URL (ws:// or wss://).
func OpenWebSocket(ctx context.Context, cfg WebSocketConfig) (Stream, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.SkipSSLVerify}
	}

	headers := http.Header{}
	if cfg.Username != "" && cfg.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &webSocketStream{conn: conn}, nil
}
