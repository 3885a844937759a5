//go:build linux
// +build linux

package ctlsock

import (
	"errors"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/wifictl/wifitypes"
	"golang.org/x/sys/unix"
)

// kindErrno assigns every error kind a distinct errno.
var kindErrno = map[wifitypes.ErrorKind]unix.Errno{
	wifitypes.KindMalformedAttribute: unix.EINVAL,
	wifitypes.KindNestingTooDeep:     unix.ELOOP,
	wifitypes.KindMissingAttribute:   unix.ENODATA,
	wifitypes.KindUnsupportedCommand: unix.EOPNOTSUPP,
	wifitypes.KindUnknownAttribute:   unix.EPROTO,
	wifitypes.KindScanInProgress:     unix.EINPROGRESS,
	wifitypes.KindScanListTooLarge:   unix.E2BIG,
	wifitypes.KindScanTimeout:        unix.ETIMEDOUT,
	wifitypes.KindInterfaceBusy:      unix.EBUSY,
	wifitypes.KindAuthFailed:         unix.EACCES,
	wifitypes.KindAssociationFailed:  unix.ECONNREFUSED,
	wifitypes.KindInterfaceNotFound:  unix.ENODEV,
	wifitypes.KindWiphyNotFound:      unix.ENOENT,
	wifitypes.KindScanAborted:        unix.ECANCELED,
	wifitypes.KindNotSupported:       unix.ENOSYS,
	wifitypes.KindExists:             unix.EEXIST,
	wifitypes.KindNotFound:           unix.ESRCH,
}

var errnoKind = func() map[unix.Errno]wifitypes.ErrorKind {
	m := make(map[unix.Errno]wifitypes.ErrorKind, len(kindErrno))
	for k, e := range kindErrno {
		m[e] = k
	}
	return m
}()

// Errno returns the errno reported for err. Errors without a kind are
// reported as EIO.
func Errno(err error) unix.Errno {
	if e, ok := kindErrno[wifitypes.KindOf(err)]; ok {
		return e
	}

	return unix.EIO
}

// Kind returns the error kind reported as errno, or zero.
func Kind(errno unix.Errno) wifitypes.ErrorKind {
	return errnoKind[errno]
}

// FromError converts a netlink error received from the control socket back
// into a *wifitypes.Error. Other errors are returned unchanged.
func FromError(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}

	k := Kind(errno)
	if k == 0 {
		return err
	}

	werr := &wifitypes.Error{Kind: k, Err: err}

	var oerr *netlink.OpError
	if errors.As(err, &oerr) && oerr.Message != "" {
		werr.Err = errors.New(oerr.Message)
	}

	return werr
}
