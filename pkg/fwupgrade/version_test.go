// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwupgrade

import (
	"errors"
	"testing"
)

func TestParseBoardVersion(t *testing.T) {
	tests := []struct {
		line    string
		name    string
		mcu     string
		version string
		wantErr bool
	}{
		{line: "BLUEMS2_L476_3.2.1", name: "BLUEMS2", mcu: "L476", version: "3.2.1"},
		{line: "  FP-SNS-ALLMEMS1_F401_4.0.12 ", name: "FP-SNS-ALLMEMS1", mcu: "F401", version: "4.0.12"},
		{line: "A_B_C_1.0.0", name: "A_B", mcu: "C", version: "1.0.0"},
		{line: "BLUEMS2_3.2.1", wantErr: true},
		{line: "BLUEMS2_L476_3.2", wantErr: true},
		{line: "BLUEMS2_L476_3.2.x", wantErr: true},
		{line: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			v, err := ParseBoardVersion(tt.line)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedVersion) {
					t.Fatalf("err = %v, want ErrMalformedVersion", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBoardVersion: %v", err)
			}
			if v.Name != tt.name || v.Mcu != tt.mcu || v.Semver.String() != tt.version {
				t.Errorf("got %s/%s/%s, want %s/%s/%s", v.Name, v.Mcu, v.Semver, tt.name, tt.mcu, tt.version)
			}
			if v.Type != BoardFirmware {
				t.Errorf("type = %s, want board", v.Type)
			}
		})
	}
}

func TestParseRadioVersion(t *testing.T) {
	tests := []struct {
		line    string
		name    string
		version string
		wantErr bool
	}{
		{line: "BLUENRG2_2.1c", name: "BLUENRG2", version: "2.1.2"},
		{line: "BLE_STACK_1.0a", name: "BLE_STACK", version: "1.0.0"},
		{line: "BLUENRG2_2.1z\t", name: "BLUENRG2", version: "2.1.25"},
		{line: "BLUENRG2_2.1", wantErr: true},
		{line: "BLUENRG2_2.1C", wantErr: true},
		{line: "BLUEMS2_L476_3.2.1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			v, err := ParseRadioVersion(tt.line)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedVersion) {
					t.Fatalf("err = %v, want ErrMalformedVersion", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRadioVersion: %v", err)
			}
			if v.Name != tt.name || v.Semver.String() != tt.version || v.Mcu != "" {
				t.Errorf("got %s/%s/%q, want %s/%s", v.Name, v.Semver, v.Mcu, tt.name, tt.version)
			}
		})
	}
}

func TestRequestVersion(t *testing.T) {
	t.Run("fragmented board response", func(t *testing.T) {
		console, rec, uc := newTestHandshake(t)

		if !uc.RequestVersion(BoardFirmware) {
			t.Fatal("RequestVersion rejected")
		}
		if got := string(console.written()[0]); got != "versionFw\n" {
			t.Fatalf("request = %q", got)
		}
		console.receive([]byte("BLUEMS2_L4"))
		console.receive([]byte("76_3.2.1\r"))
		if !uc.IsBusy() {
			t.Fatal("query resolved before the terminator")
		}
		console.receive([]byte("\n"))
		rec.wait(t)

		if len(rec.versions) != 1 || rec.versions[0] == nil {
			t.Fatalf("versions = %v", rec.versions)
		}
		if got := rec.versions[0].Semver.String(); got != "3.2.1" {
			t.Errorf("version = %s, want 3.2.1", got)
		}
		if uc.IsBusy() {
			t.Error("IsBusy() = true after the version was read")
		}
		if console.current() != nil {
			t.Error("listener still attached")
		}
	})

	t.Run("noise is discarded", func(t *testing.T) {
		console, rec, uc := newTestHandshake(t)

		uc.RequestVersion(RadioFirmware)
		if got := string(console.written()[0]); got != "versionBle\n" {
			t.Fatalf("request = %q", got)
		}
		console.receive([]byte("boot ok\r\n"))
		console.fail(errors.New("framing error"))
		rec.expectNoTerminal(t)
		if !uc.IsBusy() {
			t.Fatal("query resolved by noise")
		}

		console.receive([]byte("BLUENRG2_2.1c\r\n"))
		rec.wait(t)
		if got := rec.versions[0].Semver.String(); got != "2.1.2" {
			t.Errorf("version = %s, want 2.1.2", got)
		}
	})

	t.Run("bytes after the terminator", func(t *testing.T) {
		console, rec, uc := newTestHandshake(t)

		uc.RequestVersion(BoardFirmware)
		console.receive([]byte("BLUEMS2_L476_3.2.1\r\n> "))
		rec.wait(t)

		if len(rec.versions) != 1 || rec.versions[0] == nil {
			t.Fatalf("versions = %v", rec.versions)
		}
		if got := rec.versions[0].Raw; got != "BLUEMS2_L476_3.2.1" {
			t.Errorf("raw = %q", got)
		}
		if uc.IsBusy() {
			t.Error("IsBusy() = true after the version was read")
		}
	})

	t.Run("noise and answer in one read", func(t *testing.T) {
		console, rec, uc := newTestHandshake(t)

		uc.RequestVersion(RadioFirmware)
		console.receive([]byte("boot ok\r\nBLUENRG2_2.1c\r\n"))
		rec.wait(t)
		if got := rec.versions[0].Semver.String(); got != "2.1.2" {
			t.Errorf("version = %s, want 2.1.2", got)
		}
	})

	t.Run("unknown type resolves nil without sending", func(t *testing.T) {
		console, rec, uc := newTestHandshake(t)

		if !uc.RequestVersion(FirmwareType(9)) {
			t.Fatal("RequestVersion rejected")
		}
		rec.wait(t)
		if len(rec.versions) != 1 || rec.versions[0] != nil {
			t.Errorf("versions = %v, want [nil]", rec.versions)
		}
		if got := len(console.written()); got != 0 {
			t.Errorf("got %d writes, want 0", got)
		}
	})

	t.Run("failed send resolves nil", func(t *testing.T) {
		console, rec, uc := newTestHandshake(t)

		uc.RequestVersion(BoardFirmware)
		console.sent(0, errors.New("port gone"))
		rec.wait(t)
		if len(rec.versions) != 1 || rec.versions[0] != nil {
			t.Errorf("versions = %v, want [nil]", rec.versions)
		}
		if uc.IsBusy() {
			t.Error("IsBusy() = true after failed send")
		}
	})

	t.Run("write error rejects the request", func(t *testing.T) {
		console, _, uc := newTestHandshake(t)
		console.writeErr = errors.New("closed")

		if uc.RequestVersion(BoardFirmware) {
			t.Error("RequestVersion accepted despite the write error")
		}
		if uc.IsBusy() {
			t.Error("IsBusy() = true after rejection")
		}
	})

	t.Run("single flight", func(t *testing.T) {
		console, _, uc := newTestHandshake(t)

		uc.RequestVersion(BoardFirmware)
		if uc.RequestVersion(RadioFirmware) {
			t.Error("second query accepted while busy")
		}
		if uc.UploadFirmware(BoardFirmware, newMemImage(4), 0) {
			t.Error("upload accepted while a query is in flight")
		}
		if got := len(console.written()); got != 1 {
			t.Errorf("got %d writes, want 1", got)
		}
	})
}
