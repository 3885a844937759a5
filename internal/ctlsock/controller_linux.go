//go:build linux
// +build linux

package ctlsock

import (
	"fmt"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/wifictl/internal/nl80211"
	"golang.org/x/sys/unix"
)

// ctrlVersion is the version of the generic netlink controller.
const ctrlVersion = 2

// controlMessage builds a message for the generic netlink controller.
func controlMessage(cmd uint8, fn func(ae *netlink.AttributeEncoder)) (netlink.Message, error) {
	ae := netlink.NewAttributeEncoder()
	fn(ae)
	attrs, err := ae.Encode()
	if err != nil {
		return netlink.Message{}, err
	}

	gb, err := genetlink.Message{
		Header: genetlink.Header{Command: cmd, Version: ctrlVersion},
		Data:   attrs,
	}.MarshalBinary()
	if err != nil {
		return netlink.Message{}, err
	}

	return netlink.Message{
		Header: netlink.Header{Type: unix.GENL_ID_CTRL},
		Data:   gb,
	}, nil
}

// encodeFamily writes the nl80211 family description, as returned by
// CTRL_CMD_GETFAMILY.
func encodeFamily(ae *netlink.AttributeEncoder) {
	ae.Uint16(unix.CTRL_ATTR_FAMILY_ID, nl80211.FamilyID)
	ae.String(unix.CTRL_ATTR_FAMILY_NAME, nl80211.GenlName)
	ae.Uint32(unix.CTRL_ATTR_VERSION, nl80211.GenlVersion)
	ae.Uint32(unix.CTRL_ATTR_HDRSIZE, 0)
	ae.Uint32(unix.CTRL_ATTR_MAXATTR, uint32(nl80211.AttrMax))
	ae.Nested(unix.CTRL_ATTR_MCAST_GROUPS, func(nae *netlink.AttributeEncoder) error {
		for g, name := range nl80211.GroupNames {
			nae.Nested(uint16(g+1), func(gae *netlink.AttributeEncoder) error {
				gae.String(unix.CTRL_ATTR_MCAST_GRP_NAME, name)
				gae.Uint32(unix.CTRL_ATTR_MCAST_GRP_ID, nl80211.GroupID(g))
				return nil
			})
		}
		return nil
	})
}

// encodeGroup writes a multicast group membership change.
func encodeGroup(ae *netlink.AttributeEncoder, group uint32) {
	ae.Uint16(unix.CTRL_ATTR_FAMILY_ID, nl80211.FamilyID)
	ae.Nested(unix.CTRL_ATTR_MCAST_GROUPS, func(nae *netlink.AttributeEncoder) error {
		nae.Nested(1, func(gae *netlink.AttributeEncoder) error {
			gae.Uint32(unix.CTRL_ATTR_MCAST_GRP_ID, group)
			return nil
		})
		return nil
	})
}

// A controlRequest is a decoded request to the controller.
type controlRequest struct {
	cmd     uint8
	name    string
	id      uint16
	groupID uint32
}

func parseControl(data []byte) (*controlRequest, error) {
	var gm genetlink.Message
	if err := gm.UnmarshalBinary(data); err != nil {
		return nil, err
	}

	r := &controlRequest{cmd: gm.Header.Command}
	if len(gm.Data) == 0 {
		return r, nil
	}

	ad, err := netlink.NewAttributeDecoder(gm.Data)
	if err != nil {
		return nil, err
	}

	for ad.Next() {
		switch ad.Type() {
		case unix.CTRL_ATTR_FAMILY_ID:
			r.id = ad.Uint16()
		case unix.CTRL_ATTR_FAMILY_NAME:
			r.name = ad.String()
		case unix.CTRL_ATTR_MCAST_GROUPS:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				for nad.Next() {
					nad.Nested(func(gad *netlink.AttributeDecoder) error {
						for gad.Next() {
							if gad.Type() == unix.CTRL_ATTR_MCAST_GRP_ID {
								r.groupID = gad.Uint32()
							}
						}
						return nil
					})
				}
				return nil
			})
		}
	}

	if err := ad.Err(); err != nil {
		return nil, err
	}

	return r, nil
}

// family resolves a GETFAMILY request. A request naming neither a family nor
// an ID is a listing of every family.
func (r *controlRequest) family() error {
	switch {
	case r.name == "" && r.id == 0:
		return nil
	case r.name == nl80211.GenlName, r.id == nl80211.FamilyID:
		return nil
	default:
		return fmt.Errorf("ctlsock: unknown generic netlink family %q (%#x)", r.name, r.id)
	}
}
