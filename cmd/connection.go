// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Petrolink

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// Connection is the byte channel to the pump. Read must return (0, nil)
// promptly when no byte is pending, so the transport can run its own
// response and inter-byte timers; both implementations below guarantee that.
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// pollInterval is how long a Read waits for a byte before reporting "none".
const pollInterval = time.Millisecond

// SerialConnection wraps an RS-422/RS-485 serial port.
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *SerialConnection) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *SerialConnection) Close() error                { return s.port.Close() }

// OpenSerialConnection opens the pump link at 8N1.
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %v", portName, err)
	}
	// Short hardware timeout so Read polls instead of blocking.
	if err := port.SetReadTimeout(pollInterval); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %v", err)
	}
	return &SerialConnection{port: port}, nil
}

// ErrConnectionClosed is returned when reading from a closed WebSocket bridge.
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// WebSocketConnection drives a pump through a serial-over-WebSocket bridge.
// A background goroutine drains binary messages into a byte channel so Read
// can poll with a bounded wait, the same contract the serial path has.
type WebSocketConnection struct {
	conn  *websocket.Conn
	bytes chan byte
	errs  chan error
	done  chan struct{}
}

func newWebSocketConnection(conn *websocket.Conn) *WebSocketConnection {
	w := &WebSocketConnection{
		conn:  conn,
		bytes: make(chan byte, 256),
		errs:  make(chan error, 1),
		done:  make(chan struct{}),
	}
	go w.pump()
	return w
}

func (w *WebSocketConnection) pump() {
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case w.errs <- ErrConnectionClosed:
			default:
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		for _, b := range data {
			select {
			case w.bytes <- b:
			case <-w.done:
				return
			}
		}
	}
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	select {
	case err := <-w.errs:
		return 0, err
	case b := <-w.bytes:
		p[0] = b
		n := 1
		for n < len(p) {
			select {
			case b := <-w.bytes:
				p[n] = b
				n++
			default:
				return n, nil
			}
		}
		return n, nil
	case <-time.After(pollInterval):
		return 0, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	close(w.done)
	return w.conn.Close()
}

// OpenWebSocketConnection dials a bridge with HTTP Basic auth.
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipSSLVerify}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}
	return newWebSocketConnection(conn), nil
}

// GetPassword retrieves the bridge password from the environment or prompts
// without echo.
func GetPassword() (string, error) {
	if pw := os.Getenv("FORECOURT_PASSWORD"); pw != "" {
		return pw, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Terminal functions can fail under redirection; fall back to a line read.
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}
	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenConnection opens the pump link selected by the global flags.
func OpenConnection() (Connection, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}
		conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}
