package wire

import (
	"fmt"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/wifictl/internal/nl80211"
	"github.com/mdlayher/wifictl/internal/nlattr"
	"github.com/mdlayher/wifictl/wifitypes"
)

// EventCommand returns the notification command which carries ev.
func EventCommand(ev *wifitypes.Event) nl80211.Command {
	switch ev.Type {
	case wifitypes.EventWiphyRenamed:
		return nl80211.CmdWiphyNewName
	case wifitypes.EventWiphyRemoved:
		return nl80211.CmdWiphyRemoved
	case wifitypes.EventInterfaceAdded:
		return nl80211.CmdNewInterfaces
	case wifitypes.EventInterfaceChanged:
		return nl80211.CmdChangeVirtualInterface
	case wifitypes.EventInterfaceRemoved:
		return nl80211.CmdInterfaceRemoved
	case wifitypes.EventScanResults:
		return nl80211.CmdScanResult
	}

	switch {
	case ev.State == wifitypes.StateScanning, ev.Previous == wifitypes.StateScanning,
		ev.Status == wifitypes.KindScanTimeout, ev.Status == wifitypes.KindScanAborted:
		return nl80211.CmdInterfaceStateChanged
	case ev.State == wifitypes.StateAuthenticating, ev.Status == wifitypes.KindAuthFailed,
		ev.Previous == wifitypes.StateAuthenticating && ev.State == wifitypes.StateIdle &&
			ev.Status != wifitypes.KindAssociationFailed:
		return nl80211.CmdAuthenticationChanged
	default:
		return nl80211.CmdAssociationChanged
	}
}

// CommandGroup returns the multicast group a notification command is
// published on, or -1 when cmd is not a notification.
func CommandGroup(cmd nl80211.Command) int {
	switch cmd {
	case nl80211.CmdWiphyNewName, nl80211.CmdWiphyRemoved, nl80211.CmdNewInterfaces,
		nl80211.CmdChangeVirtualInterface, nl80211.CmdInterfaceRemoved:
		return nl80211.GroupConfig
	case nl80211.CmdInterfaceStateChanged, nl80211.CmdScanResult:
		return nl80211.GroupScan
	case nl80211.CmdAuthenticationChanged, nl80211.CmdAssociationChanged:
		return nl80211.GroupMLME
	}

	return -1
}

// EventGroup returns the multicast group ev is published on.
func EventGroup(ev *wifitypes.Event) int {
	return CommandGroup(EventCommand(ev))
}

// EncodeEvent builds the notification message for ev. The same message is
// used as the failure reply to the requester of a failed transition, so both
// always carry the same status and reason code.
func EncodeEvent(ev *wifitypes.Event) (genetlink.Message, error) {
	b, err := nlattr.Encode(func(ae *netlink.AttributeEncoder) error {
		switch ev.Type {
		case wifitypes.EventWiphyRenamed:
			ae.Uint32(nl80211.AttrWiphy, uint32(ev.Wiphy))
			ae.String(nl80211.AttrWiphyName, ev.Name)
		case wifitypes.EventWiphyRemoved:
			ae.Uint32(nl80211.AttrWiphy, uint32(ev.Wiphy))
		case wifitypes.EventInterfaceAdded, wifitypes.EventInterfaceChanged:
			EncodeInterface(ae, &wifitypes.Interface{
				Index: ev.Interface,
				Name:  ev.Name,
				PHY:   ev.Wiphy,
				Type:  ev.IfType,
				State: ev.State,
			})
		case wifitypes.EventInterfaceRemoved:
			EncodeIfindex(ae, ev.Interface)
			ae.Uint32(nl80211.AttrWiphy, uint32(ev.Wiphy))
			if ev.Name != "" {
				ae.String(nl80211.AttrIfname, ev.Name)
			}
		case wifitypes.EventStateChanged:
			EncodeIfindex(ae, ev.Interface)
			ae.Uint8(nl80211.AttrIfState, uint8(ev.State))
			if ev.Status != 0 {
				ae.Uint32(nl80211.AttrStatus, uint32(ev.Status))
			}
			if ev.Reason != 0 {
				ae.Uint16(nl80211.AttrReasonCode, ev.Reason)
			}
			if len(ev.BSSID) == nl80211.HardwareAddrLen {
				ae.Bytes(nl80211.AttrBSSID, ev.BSSID)
			}
			if ev.AID != 0 {
				ae.Uint16(nl80211.AttrAssociationID, ev.AID)
			}
			ae.Flag(nl80211.AttrDeauthenticated, ev.Deauthenticated)
		case wifitypes.EventScanResults:
			EncodeIfindex(ae, ev.Interface)
			EncodeBSSList(ae, ev.BSS)
		default:
			return fmt.Errorf("wire: cannot encode event type %d", ev.Type)
		}
		return nil
	})
	if err != nil {
		return genetlink.Message{}, err
	}

	return genetlink.Message{
		Header: genetlink.Header{
			Command: uint8(EventCommand(ev)),
			Version: nl80211.GenlVersion,
		},
		Data: b,
	}, nil
}

// ParseEvent parses a notification message. It returns an error wrapping
// wifitypes.ErrUnsupportedCommand for messages which are not notifications.
func ParseEvent(d *nlattr.Decoder, m genetlink.Message) (*wifitypes.Event, error) {
	cmd := nl80211.Command(m.Header.Command)
	group := CommandGroup(cmd)
	if group < 0 {
		return nil, &wifitypes.Error{Kind: wifitypes.KindUnsupportedCommand, Command: uint8(cmd)}
	}

	attrs, err := d.Decode(m.Data)
	if err != nil {
		return nil, AttrError(0, err)
	}

	ev := &wifitypes.Event{Group: nl80211.GroupNames[group]}
	switch cmd {
	case nl80211.CmdWiphyNewName:
		ev.Type = wifitypes.EventWiphyRenamed
	case nl80211.CmdWiphyRemoved:
		ev.Type = wifitypes.EventWiphyRemoved
	case nl80211.CmdNewInterfaces:
		ev.Type = wifitypes.EventInterfaceAdded
	case nl80211.CmdChangeVirtualInterface:
		ev.Type = wifitypes.EventInterfaceChanged
	case nl80211.CmdInterfaceRemoved:
		ev.Type = wifitypes.EventInterfaceRemoved
	case nl80211.CmdScanResult:
		ev.Type = wifitypes.EventScanResults
	default:
		ev.Type = wifitypes.EventStateChanged
	}

	for _, a := range attrs {
		var err error
		switch a.Type {
		case nl80211.AttrWiphy:
			ev.Wiphy, err = u32int(a)
		case nl80211.AttrWiphyName, nl80211.AttrIfname:
			ev.Name = a.String()
		case nl80211.AttrIfindex:
			ev.Interface, err = u32int(a)
		case nl80211.AttrIftype:
			var t int
			t, err = u32int(a)
			ev.IfType = wifitypes.InterfaceType(t)
		case nl80211.AttrIfState:
			ev.State, err = state(a)
		case nl80211.AttrStatus:
			var k uint32
			k, err = a.Uint32()
			ev.Status = wifitypes.ErrorKind(k)
		case nl80211.AttrReasonCode:
			ev.Reason, err = a.Uint16()
		case nl80211.AttrBSSID:
			ev.BSSID, err = hardwareAddr(a)
		case nl80211.AttrAssociationID:
			ev.AID, err = aid(a)
		case nl80211.AttrDeauthenticated:
			err = a.Flag()
			ev.Deauthenticated = true
		case nl80211.AttrBSSList:
			ev.BSS, err = ParseBSSList(a)
		}
		if err != nil {
			return nil, AttrError(a.Type, err)
		}
	}

	return ev, nil
}
