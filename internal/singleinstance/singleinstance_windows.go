//go:build windows

// Package singleinstance provides single instance control for the admin bot.
package singleinstance

import (
	"golang.org/x/sys/windows"

	"github.com/martiert/bongbot/internal/appinfo"
)

// AcquireLock acquires a named mutex so only one admin bot runs per
// session. The path argument is unused on Windows.
func AcquireLock(path string) (release func(), ok bool, err error) {
	name, err := windows.UTF16PtrFromString(appinfo.AppName + "-admin")
	if err != nil {
		return nil, false, err
	}

	h, err := windows.CreateMutex(nil, false, name)
	if err != nil {
		if err == windows.ERROR_ALREADY_EXISTS {
			if h != 0 {
				windows.CloseHandle(h)
			}
			return nil, false, nil
		}
		return nil, false, err
	}

	return func() {
		windows.CloseHandle(h)
	}, true, nil
}
