//go:build windows

package xlock

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

// netresourceW mirrors the Win32 NETRESOURCEW struct (mpr.dll), which
// golang.org/x/sys/windows does not wrap directly. Only the fields
// WNetAddConnection2W actually reads for a disk-type resource are
// populated; the rest are left zero, matching how the Win32 API documents
// them as ignored for this call shape.
type netresourceW struct {
	scope uint32
	resourceType uint32
	displayType uint32
	usage uint32
	localName *uint16
	remoteName *uint16
	comment *uint16
	provider *uint16
}

const resourcetypeDisk = 0x00000001

var (
	mpr = windows.NewLazySystemDLL("mpr.dll")
	procWNetAddConnection2W = mpr.NewProc("WNetAddConnection2W")
	procWNetCancelConnection2W = mpr.NewProc("WNetCancelConnection2W")

	kernel32 = windows.NewLazySystemDLL("kernel32.dll")
	procQueryDosDeviceW = kernel32.NewProc("QueryDosDeviceW")
)

// WNetMapper maps/unmaps drive letters via mpr.dll's WNetAddConnection2W/
// WNetCancelConnection2W, falling back to shelling out to "net use" when
// the direct syscall comes back access-denied (some locked-down
// environments block the API for non-interactive processes but still
// allow the net.exe command line tool).
type WNetMapper struct{}

func (WNetMapper) Map(letter byte, uncPath string) error {
	localName := string(letter) + ":"

	localPtr, err := windows.UTF16PtrFromString(localName)
	if err != nil {
		return fmt.Errorf("xlock: encode local name: %w", err)
	}
	remotePtr, err := windows.UTF16PtrFromString(uncPath)
	if err != nil {
		return fmt.Errorf("xlock: encode remote path: %w", err)
	}

	nr := netresourceW{
		resourceType: resourcetypeDisk,
		localName: localPtr,
		remoteName: remotePtr,
	}

	ret, _, callErr := procWNetAddConnection2W.Call(
		uintptr(unsafe.Pointer(&nr)),
		0, // no password
		0, // no username
		0, // flags
	)
	if ret == 0 {
		return nil
	}
	if ret != uintptr(windows.ERROR_ACCESS_DENIED) {
		return fmt.Errorf("xlock: WNetAddConnection2W: %w", callErr)
	}

	cmd := exec.Command("net", "use", localName, uncPath)
	if out, cmdErr := cmd.CombinedOutput(); cmdErr != nil {
		return fmt.Errorf("xlock: net use %s %s: %w: %s", localName, uncPath, cmdErr, out)
	}
	return nil
}

func (WNetMapper) Unmap(letter byte) error {
	localName := string(letter) + ":"
	localPtr, err := windows.UTF16PtrFromString(localName)
	if err != nil {
		return fmt.Errorf("xlock: encode local name: %w", err)
	}

	ret, _, callErr := procWNetCancelConnection2W.Call(
		uintptr(unsafe.Pointer(localPtr)),
		0,
		1, // force
	)
	if ret == 0 {
		return nil
	}

	cmd := exec.Command("net", "use", localName, "/delete", "/y")
	if out, cmdErr := cmd.CombinedOutput(); cmdErr != nil {
		return fmt.Errorf("xlock: net use /delete %s (syscall ret=%d: %v): %w: %s", localName, ret, callErr, cmdErr, out)
	}
	return nil
}

// UsedLetters reports every drive letter A-Z the OS currently has mapped
// or remembers from a prior session, per spec.md §4.8 exclusions (a)/(b).
// The fast path asks QueryDosDeviceW directly for each letter; if that
// syscall itself is unavailable or denied (rather than simply reporting
// "no such device" for a free letter), UsedLetters falls back to parsing
// "net use" output, the same API-then-command-line-tool fallback shape
// WNetMapper's own Map/Unmap already use.
func (WNetMapper) UsedLetters() (map[byte]struct{}, error) {
	if used, err := queryDosDeviceLetters(); err == nil {
		return used, nil
	}
	return parseNetUseLetters()
}

// queryDosDeviceLetters calls QueryDosDeviceW once per candidate letter.
// A letter with no defined DOS device reports ERROR_FILE_NOT_FOUND, which
// is the normal "this letter is free" outcome, not a call failure; any
// other error aborts the whole enumeration so the caller falls back to
// parsing "net use" instead of reporting a false "free" for every letter.
func queryDosDeviceLetters() (map[byte]struct{}, error) {
	used := make(map[byte]struct{})
	buf := make([]uint16, 512)

	for letter := byte('A'); letter <= 'Z'; letter++ {
		namePtr, err := windows.UTF16PtrFromString(string(letter) + ":")
		if err != nil {
			return nil, fmt.Errorf("xlock: encode device name: %w", err)
		}

		ret, _, callErr := procQueryDosDeviceW.Call(
			uintptr(unsafe.Pointer(namePtr)),
			uintptr(unsafe.Pointer(&buf[0])),
			uintptr(len(buf)),
		)
		if ret != 0 {
			used[letter] = struct{}{}
			continue
		}
		if !errors.Is(callErr, windows.ERROR_FILE_NOT_FOUND) {
			return nil, fmt.Errorf("xlock: QueryDosDeviceW %c: %w", letter, callErr)
		}
	}
	return used, nil
}

// parseNetUseLetters shells out to "net use" (no arguments lists every
// current and remembered connection for the invoking user) and scans its
// table output for a leading drive-letter column, tolerating the
// locale-variant column widths/headers the real tool produces — the same
// resilience posture copyjob's log parser uses for robocopy's own table
// output.
func parseNetUseLetters() (map[byte]struct{}, error) {
	out, err := exec.Command("net", "use").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("xlock: net use: %w: %s", err, bytes.TrimSpace(out))
	}

	used := make(map[byte]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		for _, field := range strings.Fields(line) {
			if len(field) == 2 && field[1] == ':' {
				c := field[0]
				if c >= 'a' && c <= 'z' {
					c -= 'a' - 'A'
				}
				if c >= 'A' && c <= 'Z' {
					used[c] = struct{}{}
				}
			}
		}
	}
	return used, nil
}
