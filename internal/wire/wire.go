// Package wire converts wifitypes values to and from nl80211 attributes.
//
// The same encoders are used by the daemon to build replies and
// notifications and by the client to build requests, so both ends agree on a
// single layout for every payload.
package wire

import (
	"errors"
	"net"
	"time"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/wifictl/internal/nl80211"
	"github.com/mdlayher/wifictl/internal/nlattr"
	"github.com/mdlayher/wifictl/wifitypes"
)

// AttrError classifies an attribute codec error as a wifitypes.Error
// concerning attribute typ.
func AttrError(typ uint16, err error) error {
	if err == nil {
		return nil
	}

	var werr *wifitypes.Error
	if errors.As(err, &werr) {
		if werr.Attr != 0 || werr.Kind != wifitypes.KindMalformedAttribute || typ == 0 {
			return err
		}

		// Errors may be shared, so annotate a copy.
		cp := *werr
		cp.Attr = typ
		return &cp
	}

	kind := wifitypes.KindMalformedAttribute
	switch {
	case errors.Is(err, nlattr.ErrNestingTooDeep):
		kind = wifitypes.KindNestingTooDeep
	case errors.Is(err, nlattr.ErrUnknown):
		kind = wifitypes.KindUnknownAttribute
		var uerr *nlattr.UnknownError
		if errors.As(err, &uerr) {
			typ = uerr.Type
		}
	}

	return &wifitypes.Error{Kind: kind, Attr: typ, Err: err}
}

// TimeUnits converts d to 802.11 time units of 1024 microseconds.
func TimeUnits(d time.Duration) uint32 {
	return uint32(d / (1024 * time.Microsecond))
}

// FromTimeUnits converts 802.11 time units to a time.Duration.
func FromTimeUnits(tu uint32) time.Duration {
	return time.Duration(tu) * 1024 * time.Microsecond
}

func u32int(a nlattr.Attribute) (int, error) {
	v, err := a.Uint32()
	return int(v), err
}

func hardwareAddr(a nlattr.Attribute) (net.HardwareAddr, error) {
	b, err := a.Bytes(nl80211.HardwareAddrLen, nl80211.HardwareAddrLen)
	if err != nil {
		return nil, err
	}

	return net.HardwareAddr(append([]byte(nil), b...)), nil
}

func ssid(a nlattr.Attribute) (string, error) {
	b, err := a.Bytes(nl80211.MinSSIDLen, nl80211.MaxSSIDLen)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func ies(a nlattr.Attribute) ([]byte, error) {
	b, err := a.Bytes(0, nl80211.MaxIELen)
	if err != nil {
		return nil, err
	}

	return append([]byte(nil), b...), nil
}

func state(a nlattr.Attribute) (wifitypes.State, error) {
	v, err := a.Uint8()
	if err != nil {
		return 0, err
	}

	return wifitypes.State(v), nil
}

func aid(a nlattr.Attribute) (uint16, error) {
	v, err := a.Uint16()
	if err != nil {
		return 0, err
	}
	if v < nl80211.MinAssociationID || v > nl80211.MaxAssociationID {
		return 0, &wifitypes.Error{
			Kind: wifitypes.KindMalformedAttribute,
			Attr: a.Type,
			Err:  errors.New("association ID out of range"),
		}
	}

	return v, nil
}

// EncodeIfindex writes the mandatory interface index attribute.
func EncodeIfindex(ae *netlink.AttributeEncoder, ifindex int) {
	ae.Uint32(nl80211.AttrIfindex, uint32(ifindex))
}

// EncodeSSID writes an SSID without a NUL terminator.
func EncodeSSID(ae *netlink.AttributeEncoder, s string) {
	ae.Bytes(nl80211.AttrSSID, []byte(s))
}

// Ifindex returns the interface index carried in attrs.
func Ifindex(attrs []nlattr.Attribute) (int, error) {
	a, ok := nlattr.Find(attrs, nl80211.AttrIfindex)
	if !ok {
		return 0, &wifitypes.Error{Kind: wifitypes.KindMissingAttribute, Attr: nl80211.AttrIfindex}
	}

	v, err := u32int(a)
	return v, AttrError(a.Type, err)
}

// WiphyIndex returns the wiphy index carried in attrs.
func WiphyIndex(attrs []nlattr.Attribute) (int, error) {
	a, ok := nlattr.Find(attrs, nl80211.AttrWiphy)
	if !ok {
		return 0, &wifitypes.Error{Kind: wifitypes.KindMissingAttribute, Attr: nl80211.AttrWiphy}
	}

	v, err := u32int(a)
	return v, AttrError(a.Type, err)
}

// Reason returns the reason code in attrs, or zero when absent.
func Reason(attrs []nlattr.Attribute) (uint16, error) {
	a, ok := nlattr.Find(attrs, nl80211.AttrReasonCode)
	if !ok {
		return 0, nil
	}

	v, err := a.Uint16()
	return v, AttrError(a.Type, err)
}

// HardwareAddr returns the hardware address in attribute typ of attrs, or nil
// when absent.
func HardwareAddr(attrs []nlattr.Attribute, typ uint16) (net.HardwareAddr, error) {
	a, ok := nlattr.Find(attrs, typ)
	if !ok {
		return nil, nil
	}

	mac, err := hardwareAddr(a)
	return mac, AttrError(a.Type, err)
}
