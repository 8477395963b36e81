// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package fwupgrade uploads firmware images to an embedded device and reads
// back the installed firmware version.
//
// Two protocols are implemented behind one UploadConsole contract:
//
//   - the handshake protocol runs over a duplex text/byte console. The host
//     announces the image length and its STM32 CRC, waits for the device to
//     echo the CRC, streams the image in 16 byte chunks, ten chunks per
//     window, and waits for a one byte verdict. A watchdog fails the upload
//     when the console stops confirming sends.
//   - the streaming protocol runs over structured OTA channels (control,
//     upload, reboot). The image is pushed in the transport's chunk size and
//     the device's reboot notification decides the outcome.
//
// New checks the device for the structured channels first and falls back to
// the console.
package fwupgrade
