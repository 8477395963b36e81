// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwupgrade

// Callback receives the results of UploadConsole requests. Methods are called
// without any console lock held, so a callback may issue the next request.
type Callback interface {
	// OnVersionRead delivers the installed version. v is nil when the type is
	// unknown or the request could not be sent.
	OnVersionRead(t FirmwareType, v *Version)

	// OnUploadProgress reports the number of image bytes still to send.
	OnUploadProgress(img Image, remaining int64)

	OnUploadComplete(img Image)

	// OnUploadError delivers a terminal *UploadError.
	OnUploadError(img Image, err error)
}

// CallbackFuncs adapts plain functions to Callback. Nil fields are skipped.
type CallbackFuncs struct {
	VersionRead    func(t FirmwareType, v *Version)
	UploadProgress func(img Image, remaining int64)
	UploadComplete func(img Image)
	UploadError    func(img Image, err error)
}

var _ Callback = CallbackFuncs{}

func (f CallbackFuncs) OnVersionRead(t FirmwareType, v *Version) {
	if f.VersionRead != nil {
		f.VersionRead(t, v)
	}
}

func (f CallbackFuncs) OnUploadProgress(img Image, remaining int64) {
	if f.UploadProgress != nil {
		f.UploadProgress(img, remaining)
	}
}

func (f CallbackFuncs) OnUploadComplete(img Image) {
	if f.UploadComplete != nil {
		f.UploadComplete(img)
	}
}

func (f CallbackFuncs) OnUploadError(img Image, err error) {
	if f.UploadError != nil {
		f.UploadError(img, err)
	}
}
