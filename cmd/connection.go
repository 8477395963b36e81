// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/fwlift/pkg/link"
	"github.com/Thermoquad/fwlift/pkg/log"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("FWLIFT_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal; read a plain line instead.
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// openStream opens either a serial or WebSocket byte stream based on flags
func openStream(ctx context.Context, s settings) (link.Stream, string, error) {
	if s.URL != "" {
		password := ""
		if s.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		stream, err := link.OpenWebSocket(ctx, link.WebSocketConfig{
			URL:           s.URL,
			Username:      s.Username,
			Password:      password,
			SkipSSLVerify: s.NoSSLVerify,
		})
		if err != nil {
			return nil, "", err
		}
		return stream, fmt.Sprintf("WebSocket: %s", s.URL), nil
	}

	if s.Port != "" {
		stream, err := link.OpenSerial(s.Port, s.Baud)
		if err != nil {
			return nil, "", err
		}
		return stream, fmt.Sprintf("Serial: %s @ %d baud", s.Port, s.Baud), nil
	}

	return nil, "", fmt.Errorf("either --port, --url or --mqtt-broker must be specified")
}

// device is an open link to the target. Transport is what the upload
// console inspects: a *link.Console or a *link.OTA.
type device struct {
	Transport any
	Info      string
	closer    io.Closer
}

func (d *device) Close() error {
	return d.closer.Close()
}

// openDevice connects to the target and binds the link selected by s.
func openDevice(ctx context.Context, s settings) (*device, error) {
	logger := log.Std().WithName("link")
	opts := []link.Option{
		link.WithLogger(logger),
		link.WithAckTimeout(s.AckTimeout),
	}

	if s.MQTTBroker != "" {
		cfg := link.MQTTConfig{
			BrokerURL:          s.MQTTBroker,
			DeviceID:           s.MQTTDevice,
			TopicPrefix:        s.MQTTPrefix,
			Username:           s.Username,
			InsecureSkipVerify: s.NoSSLVerify,
		}
		if s.Username != "" {
			password, err := GetPassword()
			if err != nil {
				return nil, err
			}
			cfg.Password = password
		}

		ota, err := link.DialMQTT(ctx, cfg, opts...)
		if err != nil {
			return nil, err
		}
		return &device{Transport: ota, Info: "MQTT: " + s.MQTTBroker, closer: ota}, nil
	}

	stream, info, err := openStream(ctx, s)
	if err != nil {
		return nil, err
	}

	if s.Link == linkOTA {
		ota := link.NewStreamOTA(stream, opts...)
		return &device{Transport: ota, Info: info + " (OTA link)", closer: ota}, nil
	}
	console := link.NewConsole(stream, opts...)
	return &device{Transport: console, Info: info + " (console)", closer: console}, nil
}
