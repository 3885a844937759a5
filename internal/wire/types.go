package wire

import (
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/wifictl/internal/nl80211"
	"github.com/mdlayher/wifictl/internal/nlattr"
	"github.com/mdlayher/wifictl/wifitypes"
)

// EncodeWiphy writes a wiphy's attributes.
func EncodeWiphy(ae *netlink.AttributeEncoder, w *wifitypes.Wiphy) {
	ae.Uint32(nl80211.AttrWiphy, uint32(w.Index))
	ae.String(nl80211.AttrWiphyName, w.Name)
	nlattr.Uint8Array(ae, nl80211.AttrCmds, w.Commands.Commands())
}

// ParseWiphy parses a wiphy from its attributes.
func ParseWiphy(attrs []nlattr.Attribute) (*wifitypes.Wiphy, error) {
	var w wifitypes.Wiphy
	for _, a := range attrs {
		var err error
		switch a.Type {
		case nl80211.AttrWiphy:
			w.Index, err = u32int(a)
		case nl80211.AttrWiphyName:
			w.Name = a.String()
		case nl80211.AttrCmds:
			w.Commands, err = parseCommands(a)
		}
		if err != nil {
			return nil, AttrError(a.Type, err)
		}
	}

	return &w, nil
}

// ParseCommands parses a command list attribute into a CommandSet.
func ParseCommands(a nlattr.Attribute) (wifitypes.CommandSet, error) {
	s, err := parseCommands(a)
	return s, AttrError(a.Type, err)
}

func parseCommands(a nlattr.Attribute) (wifitypes.CommandSet, error) {
	elems, err := a.Array()
	if err != nil {
		return 0, err
	}

	var s wifitypes.CommandSet
	for _, e := range elems {
		c, err := e.Uint8()
		if err != nil {
			return 0, err
		}
		s = s.Add(c)
	}

	return s, nil
}

// EncodeInterface writes an interface's attributes, including its current
// state.
func EncodeInterface(ae *netlink.AttributeEncoder, ifi *wifitypes.Interface) {
	EncodeIfindex(ae, ifi.Index)
	ae.String(nl80211.AttrIfname, ifi.Name)
	ae.Uint32(nl80211.AttrWiphy, uint32(ifi.PHY))
	ae.Uint32(nl80211.AttrIftype, uint32(ifi.Type))
	if len(ifi.HardwareAddr) == nl80211.HardwareAddrLen {
		ae.Bytes(nl80211.AttrMAC, ifi.HardwareAddr)
	}
	if ifi.State != 0 {
		ae.Uint8(nl80211.AttrIfState, uint8(ifi.State))
	}
}

// ParseInterface parses an interface from its attributes.
func ParseInterface(attrs []nlattr.Attribute) (*wifitypes.Interface, error) {
	var ifi wifitypes.Interface
	for _, a := range attrs {
		var err error
		switch a.Type {
		case nl80211.AttrIfindex:
			ifi.Index, err = u32int(a)
		case nl80211.AttrIfname:
			ifi.Name = a.String()
		case nl80211.AttrWiphy:
			ifi.PHY, err = u32int(a)
		case nl80211.AttrIftype:
			// InterfaceType copies the ordering of the iftype enumeration.
			var t int
			t, err = u32int(a)
			ifi.Type = wifitypes.InterfaceType(t)
		case nl80211.AttrMAC:
			ifi.HardwareAddr, err = hardwareAddr(a)
		case nl80211.AttrIfState:
			ifi.State, err = state(a)
		}
		if err != nil {
			return nil, AttrError(a.Type, err)
		}
	}

	return &ifi, nil
}

// EncodeBSS writes a BSS descriptor's attributes.
func EncodeBSS(ae *netlink.AttributeEncoder, b *wifitypes.BSS) {
	if len(b.BSSID) == nl80211.HardwareAddrLen {
		ae.Bytes(nl80211.AttrBSSID, b.BSSID)
	}
	if b.SSID != "" {
		EncodeSSID(ae, b.SSID)
	}
	ae.Uint32(nl80211.AttrBSSType, uint32(b.Type))
	if b.Channel != 0 {
		ae.Uint32(nl80211.AttrChannel, uint32(b.Channel))
	}
	ae.Uint16(nl80211.AttrBeaconPeriod, b.BeaconPeriod)
	ae.Uint8(nl80211.AttrDTIMPeriod, b.DTIMPeriod)
	ae.Uint64(nl80211.AttrTimestamp, b.LastSeen)
	if len(b.IEs) > 0 {
		ae.Bytes(nl80211.AttrIE, b.IEs)
	}
}

// ParseBSS parses a BSS descriptor from its attributes. When no SSID
// attribute is present the SSID is recovered from the information elements.
func ParseBSS(attrs []nlattr.Attribute) (*wifitypes.BSS, error) {
	var b wifitypes.BSS
	for _, a := range attrs {
		var err error
		switch a.Type {
		case nl80211.AttrBSSID:
			b.BSSID, err = hardwareAddr(a)
		case nl80211.AttrSSID:
			b.SSID, err = ssid(a)
		case nl80211.AttrBSSType:
			var t int
			t, err = u32int(a)
			b.Type = wifitypes.BSSType(t)
		case nl80211.AttrChannel:
			b.Channel, err = u32int(a)
		case nl80211.AttrBeaconPeriod:
			b.BeaconPeriod, err = a.Uint16()
		case nl80211.AttrDTIMPeriod:
			b.DTIMPeriod, err = a.Uint8()
		case nl80211.AttrTimestamp:
			b.LastSeen, err = a.Uint64()
		case nl80211.AttrIE:
			b.IEs, err = ies(a)
		}
		if err != nil {
			return nil, AttrError(a.Type, err)
		}
	}

	if b.SSID == "" && len(b.IEs) > 0 {
		b.SSID = wifitypes.SSIDFromIEs(b.IEs)
	}

	return &b, nil
}

// EncodeBSSList writes bss as an AttrBSSList array.
func EncodeBSSList(ae *netlink.AttributeEncoder, bss []*wifitypes.BSS) {
	nlattr.Array(ae, nl80211.AttrBSSList, len(bss), func(ae *netlink.AttributeEncoder, i int) error {
		EncodeBSS(ae, bss[i])
		return nil
	})
}

// ParseBSSList parses an AttrBSSList array.
func ParseBSSList(a nlattr.Attribute) ([]*wifitypes.BSS, error) {
	elems, err := a.Array()
	if err != nil {
		return nil, AttrError(a.Type, err)
	}

	bss := make([]*wifitypes.BSS, 0, len(elems))
	for _, e := range elems {
		nattrs, err := e.Nested()
		if err != nil {
			return nil, AttrError(a.Type, err)
		}

		b, err := ParseBSS(nattrs)
		if err != nil {
			return nil, err
		}

		bss = append(bss, b)
	}

	return bss, nil
}

// EncodeChannelList writes chans as an AttrChannelList array.
func EncodeChannelList(ae *netlink.AttributeEncoder, chans []wifitypes.Channel) {
	nlattr.Array(ae, nl80211.AttrChannelList, len(chans), func(ae *netlink.AttributeEncoder, i int) error {
		ae.Uint32(nl80211.AttrChannel, uint32(chans[i].Number))
		ae.Uint32(nl80211.AttrPHYMode, uint32(chans[i].PHYMode))
		ae.Flag(nl80211.AttrFlagScanActive, chans[i].Active)
		return nil
	})
}

// ParseChannelList parses an AttrChannelList array. Lists longer than
// nl80211.MaxChannelListItems fail with ScanListTooLarge before any element
// is interpreted.
func ParseChannelList(a nlattr.Attribute) ([]wifitypes.Channel, error) {
	elems, err := a.Array()
	if err != nil {
		return nil, AttrError(a.Type, err)
	}
	if len(elems) > nl80211.MaxChannelListItems {
		return nil, wifitypes.Errorf(wifitypes.KindScanListTooLarge,
			"%d channels, at most %d allowed", len(elems), nl80211.MaxChannelListItems)
	}

	chans := make([]wifitypes.Channel, 0, len(elems))
	for _, e := range elems {
		nattrs, err := e.Nested()
		if err != nil {
			return nil, AttrError(a.Type, err)
		}

		var c wifitypes.Channel
		for _, na := range nattrs {
			var err error
			switch na.Type {
			case nl80211.AttrChannel:
				c.Number, err = u32int(na)
			case nl80211.AttrPHYMode:
				var m int
				m, err = u32int(na)
				c.PHYMode = wifitypes.PHYMode(m)
			case nl80211.AttrFlagScanActive:
				err = na.Flag()
				c.Active = true
			}
			if err != nil {
				return nil, AttrError(na.Type, err)
			}
		}

		chans = append(chans, c)
	}

	return chans, nil
}

// EncodeKey writes a key's attributes.
func EncodeKey(ae *netlink.AttributeEncoder, k *wifitypes.Key) {
	ae.Uint8(nl80211.AttrKeyID, uint8(k.ID))
	ae.Uint32(nl80211.AttrKeyType, uint32(k.Type))
	if k.Cipher != 0 {
		ae.Uint32(nl80211.AttrKeyCipher, k.Cipher)
	}
	if len(k.Data) > 0 {
		ae.Bytes(nl80211.AttrKeyData, k.Data)
	}
	if len(k.MAC) == nl80211.HardwareAddrLen {
		ae.Bytes(nl80211.AttrMAC, k.MAC)
	}
}

// ParseKey parses a key from its attributes.
func ParseKey(attrs []nlattr.Attribute) (*wifitypes.Key, error) {
	var k wifitypes.Key
	for _, a := range attrs {
		var err error
		switch a.Type {
		case nl80211.AttrKeyID:
			var id uint8
			id, err = a.Uint8()
			if err == nil && id > nl80211.MaxKeyID {
				err = wifitypes.Errorf(wifitypes.KindMalformedAttribute, "key ID %d out of range", id)
			}
			k.ID = int(id)
		case nl80211.AttrKeyType:
			var t int
			t, err = u32int(a)
			if err == nil && t > nl80211.KeyTypeMax {
				err = wifitypes.Errorf(wifitypes.KindMalformedAttribute, "key type %d out of range", t)
			}
			k.Type = wifitypes.KeyType(t)
		case nl80211.AttrKeyCipher:
			k.Cipher, err = a.Uint32()
		case nl80211.AttrKeyData:
			k.Data = append([]byte(nil), a.Data...)
		case nl80211.AttrMAC:
			k.MAC, err = hardwareAddr(a)
		}
		if err != nil {
			return nil, AttrError(a.Type, err)
		}
	}

	return &k, nil
}

// EncodeStation writes a station table entry.
func EncodeStation(ae *netlink.AttributeEncoder, s *wifitypes.Station) {
	ae.Bytes(nl80211.AttrMAC, s.HardwareAddr)
	ae.Uint16(nl80211.AttrAssociationID, s.AID)
}

// ParseStation parses a station table entry.
func ParseStation(attrs []nlattr.Attribute) (*wifitypes.Station, error) {
	var s wifitypes.Station
	for _, a := range attrs {
		var err error
		switch a.Type {
		case nl80211.AttrMAC:
			s.HardwareAddr, err = hardwareAddr(a)
		case nl80211.AttrAssociationID:
			s.AID, err = aid(a)
		}
		if err != nil {
			return nil, AttrError(a.Type, err)
		}
	}

	return &s, nil
}

// EncodeAssociation writes an association context. The association ID is
// only present while associated.
func EncodeAssociation(ae *netlink.AttributeEncoder, a *wifitypes.Association) {
	EncodeIfindex(ae, a.Interface)
	ae.Uint8(nl80211.AttrIfState, uint8(a.State))
	if a.BSS != nil {
		if len(a.BSS.BSSID) == nl80211.HardwareAddrLen {
			ae.Bytes(nl80211.AttrBSSID, a.BSS.BSSID)
		}
		if a.BSS.SSID != "" {
			EncodeSSID(ae, a.BSS.SSID)
		}
		if a.BSS.Channel != 0 {
			ae.Uint32(nl80211.AttrChannel, uint32(a.BSS.Channel))
		}
	}
	if a.AID != 0 {
		ae.Uint16(nl80211.AttrAssociationID, a.AID)
	}
	if a.Reason != 0 {
		ae.Uint16(nl80211.AttrReasonCode, a.Reason)
	}
}

// ParseAssociation parses an association context.
func ParseAssociation(attrs []nlattr.Attribute) (*wifitypes.Association, error) {
	var (
		as  wifitypes.Association
		bss wifitypes.BSS
	)

	for _, a := range attrs {
		var err error
		switch a.Type {
		case nl80211.AttrIfindex:
			as.Interface, err = u32int(a)
		case nl80211.AttrIfState:
			as.State, err = state(a)
		case nl80211.AttrBSSID:
			bss.BSSID, err = hardwareAddr(a)
		case nl80211.AttrSSID:
			bss.SSID, err = ssid(a)
		case nl80211.AttrChannel:
			bss.Channel, err = u32int(a)
		case nl80211.AttrAssociationID:
			as.AID, err = aid(a)
		case nl80211.AttrReasonCode:
			as.Reason, err = a.Uint16()
		}
		if err != nil {
			return nil, AttrError(a.Type, err)
		}
	}

	if bss.BSSID != nil || bss.SSID != "" {
		as.BSS = &bss
	}

	return &as, nil
}

// EncodeAssociateParams writes the parameters of an associate request.
func EncodeAssociateParams(ae *netlink.AttributeEncoder, p *wifitypes.AssociateParams) {
	EncodeSSID(ae, p.SSID)
	if len(p.BSSID) == nl80211.HardwareAddrLen {
		ae.Bytes(nl80211.AttrBSSID, p.BSSID)
	}
	if p.Channel != 0 {
		ae.Uint32(nl80211.AttrChannel, uint32(p.Channel))
	}
	if p.PHYMode != nil {
		ae.Uint32(nl80211.AttrPHYMode, uint32(*p.PHYMode))
	}
	ae.Uint32(nl80211.AttrAuthAlgorithm, uint32(p.AuthAlgorithm))
	if p.Timeout > 0 {
		ae.Uint32(nl80211.AttrTimeoutTU, TimeUnits(p.Timeout))
	}
	if len(p.IEs) > 0 {
		ae.Bytes(nl80211.AttrIE, p.IEs)
	}
}

// ParseAssociateParams parses the parameters of an associate request.
func ParseAssociateParams(attrs []nlattr.Attribute) (*wifitypes.AssociateParams, error) {
	var p wifitypes.AssociateParams
	for _, a := range attrs {
		var err error
		switch a.Type {
		case nl80211.AttrSSID:
			p.SSID, err = ssid(a)
		case nl80211.AttrBSSID:
			p.BSSID, err = hardwareAddr(a)
		case nl80211.AttrChannel:
			p.Channel, err = u32int(a)
		case nl80211.AttrPHYMode:
			var m int
			m, err = u32int(a)
			if err == nil && m > nl80211.PHYModeMax {
				err = wifitypes.Errorf(wifitypes.KindMalformedAttribute, "PHY mode %d out of range", m)
			}
			pm := wifitypes.PHYMode(m)
			p.PHYMode = &pm
		case nl80211.AttrAuthAlgorithm:
			var v uint32
			v, err = a.Uint32()
			p.AuthAlgorithm = wifitypes.AuthAlgorithm(v)
		case nl80211.AttrTimeoutTU:
			var tu uint32
			tu, err = a.Uint32()
			p.Timeout = FromTimeUnits(tu)
		case nl80211.AttrIE:
			p.IEs, err = ies(a)
		}
		if err != nil {
			return nil, AttrError(a.Type, err)
		}
	}

	return &p, nil
}

// EncodeBeacon writes a beacon template.
func EncodeBeacon(ae *netlink.AttributeEncoder, b *wifitypes.Beacon) {
	ae.Bytes(nl80211.AttrBeaconHead, b.Head)
	if len(b.Tail) > 0 {
		ae.Bytes(nl80211.AttrBeaconTail, b.Tail)
	}
	if b.Period != 0 {
		ae.Uint16(nl80211.AttrBeaconPeriod, b.Period)
	}
	if b.DTIM != 0 {
		ae.Uint8(nl80211.AttrDTIMPeriod, b.DTIM)
	}
}

// ParseBeacon parses a beacon template.
func ParseBeacon(attrs []nlattr.Attribute) (*wifitypes.Beacon, error) {
	var b wifitypes.Beacon
	for _, a := range attrs {
		var err error
		switch a.Type {
		case nl80211.AttrBeaconHead:
			b.Head = append([]byte(nil), a.Data...)
		case nl80211.AttrBeaconTail:
			b.Tail = append([]byte(nil), a.Data...)
		case nl80211.AttrBeaconPeriod:
			b.Period, err = a.Uint16()
		case nl80211.AttrDTIMPeriod:
			b.DTIM, err = a.Uint8()
		}
		if err != nil {
			return nil, AttrError(a.Type, err)
		}
	}

	return &b, nil
}
