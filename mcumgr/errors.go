package mcumgr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMtu is returned by SetMtu for values outside the valid range.
	ErrInvalidMtu = errors.New("invalid mtu")

	// ErrInvalidResponse is returned when a response lacks a field the
	// command requires.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrUpgradeInProgress is returned by FirmwareUpgradeManager.Start while
	// an upgrade is running.
	ErrUpgradeInProgress = errors.New("firmware upgrade already in progress")

	// ErrImageState is returned when the device's image slots do not show
	// the state a firmware upgrade step should have produced.
	ErrImageState = errors.New("unexpected image state")
)

// DownloadError reports a file download that the device answered
// inconsistently.
type DownloadError struct {
	Name   string
	Offset uint64
	Reason string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s at offset %d: %s", e.Name, e.Offset, e.Reason)
}

func (e *DownloadError) Unwrap() error {
	return ErrInvalidResponse
}

// UpgradeError reports the firmware upgrade state in which an upgrade failed.
type UpgradeError struct {
	State UpgradeState
	Err   error
}

func (e *UpgradeError) Error() string {
	return fmt.Sprintf("firmware upgrade failed in %s: %v", e.State, e.Err)
}

func (e *UpgradeError) Unwrap() error {
	return e.Err
}
