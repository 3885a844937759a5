package dispatch

import (
	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/wifictl/internal/nl80211"
	"github.com/mdlayher/wifictl/internal/nlattr"
	"github.com/mdlayher/wifictl/internal/vif"
	"github.com/mdlayher/wifictl/internal/wire"
	"github.com/mdlayher/wifictl/wifitypes"
	"go.uber.org/zap"
)

// message encodes a reply message for cmd.
func message(cmd nl80211.Command, fn func(ae *netlink.AttributeEncoder)) (genetlink.Message, error) {
	b, err := nlattr.Encode(func(ae *netlink.AttributeEncoder) error {
		fn(ae)
		return nil
	})
	if err != nil {
		return genetlink.Message{}, err
	}

	return genetlink.Message{
		Header: genetlink.Header{
			Command: uint8(cmd),
			Version: nl80211.GenlVersion,
		},
		Data: b,
	}, nil
}

// one wraps a single reply message.
func one(cmd nl80211.Command, fn func(ae *netlink.AttributeEncoder)) ([]genetlink.Message, error) {
	msg, err := message(cmd, fn)
	if err != nil {
		return nil, err
	}

	return []genetlink.Message{msg}, nil
}

// machine returns the state machine of the interface named by r.
func (d *Dispatcher) machine(r *request) (*vif.Machine, error) {
	ifindex, err := wire.Ifindex(r.attrs)
	if err != nil {
		return nil, err
	}

	return d.reg.Interface(ifindex)
}

func (d *Dispatcher) renameWiphy(r *request) ([]genetlink.Message, error) {
	idx, err := wire.WiphyIndex(r.attrs)
	if err != nil {
		return nil, err
	}

	a, _ := nlattr.Find(r.attrs, nl80211.AttrWiphyName)
	return nil, d.reg.RenameWiphy(idx, a.String())
}

func (d *Dispatcher) getCmdList(r *request) ([]genetlink.Message, error) {
	var (
		w       wifitypes.Wiphy
		ifindex = -1
		err     error
	)

	if _, ok := nlattr.Find(r.attrs, nl80211.AttrIfindex); ok {
		if ifindex, err = wire.Ifindex(r.attrs); err != nil {
			return nil, err
		}
		w, err = d.reg.WiphyOf(ifindex)
	} else {
		var idx int
		if idx, err = wire.WiphyIndex(r.attrs); err != nil {
			return nil, err
		}
		w, err = d.reg.Wiphy(idx)
	}
	if err != nil {
		return nil, err
	}

	return one(nl80211.CmdNewCmdList, func(ae *netlink.AttributeEncoder) {
		if ifindex >= 0 {
			wire.EncodeIfindex(ae, ifindex)
		}
		wire.EncodeWiphy(ae, &w)
	})
}

func (d *Dispatcher) addInterface(r *request) ([]genetlink.Message, error) {
	idx, err := wire.WiphyIndex(r.attrs)
	if err != nil {
		return nil, err
	}

	name, _ := nlattr.Find(r.attrs, nl80211.AttrIfname)

	typ := wifitypes.InterfaceTypeStation
	if a, ok := nlattr.Find(r.attrs, nl80211.AttrIftype); ok {
		t, err := a.Uint32()
		if err != nil {
			return nil, wire.AttrError(a.Type, err)
		}
		typ = wifitypes.InterfaceType(t)
	}

	m, err := d.reg.CreateInterface(r.ctx, idx, typ, name.String())
	if err != nil {
		return nil, err
	}

	ifi := m.Snapshot()
	return one(nl80211.CmdNewInterfaces, func(ae *netlink.AttributeEncoder) {
		wire.EncodeInterface(ae, &ifi)
	})
}

func (d *Dispatcher) delInterface(r *request) ([]genetlink.Message, error) {
	ifindex, err := wire.Ifindex(r.attrs)
	if err != nil {
		return nil, err
	}

	// A wiphy, when given, must be the one hosting the interface.
	if _, ok := nlattr.Find(r.attrs, nl80211.AttrWiphy); ok {
		idx, err := wire.WiphyIndex(r.attrs)
		if err != nil {
			return nil, err
		}
		w, err := d.reg.WiphyOf(ifindex)
		if err != nil {
			return nil, err
		}
		if w.Index != idx {
			return nil, wifitypes.Errorf(wifitypes.KindInterfaceNotFound,
				"interface %d is not on wiphy %d", ifindex, idx)
		}
	}

	return nil, d.reg.DeleteInterface(r.ctx, ifindex)
}

func (d *Dispatcher) changeInterface(r *request) ([]genetlink.Message, error) {
	m, err := d.machine(r)
	if err != nil {
		return nil, err
	}

	a, _ := nlattr.Find(r.attrs, nl80211.AttrIftype)
	t, err := a.Uint32()
	if err != nil {
		return nil, wire.AttrError(a.Type, err)
	}

	return nil, m.SetType(r.ctx, wifitypes.InterfaceType(t))
}

func (d *Dispatcher) getWiphys(r *request) ([]genetlink.Message, error) {
	ws := d.reg.Wiphys()
	if _, ok := nlattr.Find(r.attrs, nl80211.AttrWiphy); ok {
		idx, err := wire.WiphyIndex(r.attrs)
		if err != nil {
			return nil, err
		}
		w, err := d.reg.Wiphy(idx)
		if err != nil {
			return nil, err
		}
		ws = []wifitypes.Wiphy{w}
	}

	msgs := make([]genetlink.Message, 0, len(ws))
	for i := range ws {
		msg, err := message(nl80211.CmdNewWiphys, func(ae *netlink.AttributeEncoder) {
			wire.EncodeWiphy(ae, &ws[i])
		})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	return msgs, nil
}

func (d *Dispatcher) getInterfaces(r *request) ([]genetlink.Message, error) {
	var ms []*vif.Machine
	switch {
	case has(r.attrs, nl80211.AttrIfindex):
		m, err := d.machine(r)
		if err != nil {
			return nil, err
		}
		ms = []*vif.Machine{m}
	case has(r.attrs, nl80211.AttrWiphy):
		idx, err := wire.WiphyIndex(r.attrs)
		if err != nil {
			return nil, err
		}
		if _, err := d.reg.Wiphy(idx); err != nil {
			return nil, err
		}
		ms = d.reg.Interfaces(idx)
	default:
		ms = d.reg.Interfaces(-1)
	}

	msgs := make([]genetlink.Message, 0, len(ms))
	for _, m := range ms {
		ifi := m.Snapshot()
		msg, err := message(nl80211.CmdNewInterfaces, func(ae *netlink.AttributeEncoder) {
			wire.EncodeInterface(ae, &ifi)
		})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	return msgs, nil
}

func has(attrs []nlattr.Attribute, typ uint16) bool {
	_, ok := nlattr.Find(attrs, typ)
	return ok
}

func (d *Dispatcher) initiateScan(r *request) ([]genetlink.Message, error) {
	// The channel list is checked before the interface is looked up, so an
	// oversized list never reaches the state machine.
	var req wifitypes.ScanRequest
	if a, ok := nlattr.Find(r.attrs, nl80211.AttrChannelList); ok {
		chans, err := wire.ParseChannelList(a)
		if err != nil {
			return nil, err
		}
		req.Channels = chans
	}
	req.Active = has(r.attrs, nl80211.AttrFlagScanActive)

	m, err := d.machine(r)
	if err != nil {
		return nil, err
	}

	bss, err := d.scans.Run(r.ctx, m, req)
	if err != nil {
		return nil, err
	}

	return one(nl80211.CmdScanResult, func(ae *netlink.AttributeEncoder) {
		wire.EncodeIfindex(ae, m.Index())
		wire.EncodeBSSList(ae, bss)
	})
}

// abortScan cancels the outstanding scan of an interface. An interface which
// is not scanning is left alone.
func (d *Dispatcher) abortScan(r *request) ([]genetlink.Message, error) {
	m, err := d.machine(r)
	if err != nil {
		return nil, err
	}

	if !d.scans.Cancel(m.Index()) {
		d.log.Debug("no scan to abort", zap.Int("ifindex", m.Index()))
	}

	return nil, nil
}

func (d *Dispatcher) getAssociation(r *request) ([]genetlink.Message, error) {
	m, err := d.machine(r)
	if err != nil {
		return nil, err
	}

	a := m.Association()
	return one(nl80211.CmdAssociationChanged, func(ae *netlink.AttributeEncoder) {
		wire.EncodeAssociation(ae, &a)
	})
}

func (d *Dispatcher) associate(r *request) ([]genetlink.Message, error) {
	p, err := wire.ParseAssociateParams(r.attrs)
	if err != nil {
		return nil, err
	}

	m, err := d.machine(r)
	if err != nil {
		return nil, err
	}

	a, err := m.Associate(r.ctx, *p)
	if err != nil {
		return nil, err
	}

	return one(nl80211.CmdAssociationChanged, func(ae *netlink.AttributeEncoder) {
		wire.EncodeAssociation(ae, a)
	})
}

func (d *Dispatcher) disassociate(r *request) ([]genetlink.Message, error) {
	m, err := d.machine(r)
	if err != nil {
		return nil, err
	}

	reason, err := wire.Reason(r.attrs)
	if err != nil {
		return nil, err
	}

	return nil, m.Disassociate(r.ctx, reason)
}

func (d *Dispatcher) deauth(r *request) ([]genetlink.Message, error) {
	m, err := d.machine(r)
	if err != nil {
		return nil, err
	}

	reason, err := wire.Reason(r.attrs)
	if err != nil {
		return nil, err
	}

	return nil, m.Deauthenticate(r.ctx, reason)
}

// getAuthList lists the peers an interface is authenticated with: the
// stations of an access point, or the BSS of a station.
func (d *Dispatcher) getAuthList(r *request) ([]genetlink.Message, error) {
	m, err := d.machine(r)
	if err != nil {
		return nil, err
	}

	var bss []*wifitypes.BSS
	if m.Snapshot().Type == wifitypes.InterfaceTypeAP {
		stations, err := m.Stations()
		if err != nil {
			return nil, err
		}
		for _, s := range stations {
			bss = append(bss, &wifitypes.BSS{BSSID: s.HardwareAddr})
		}
	} else {
		a := m.Association()
		switch a.State {
		case wifitypes.StateAuthenticating, wifitypes.StateAssociated:
			if a.BSS != nil {
				bss = append(bss, a.BSS)
			}
		}
	}

	return one(nl80211.CmdNewAuthList, func(ae *netlink.AttributeEncoder) {
		wire.EncodeIfindex(ae, m.Index())
		wire.EncodeBSSList(ae, bss)
	})
}

func (d *Dispatcher) setBeacon(r *request) ([]genetlink.Message, error) {
	b, err := wire.ParseBeacon(r.attrs)
	if err != nil {
		return nil, err
	}

	m, err := d.machine(r)
	if err != nil {
		return nil, err
	}

	return nil, m.SetBeacon(*b)
}

func (d *Dispatcher) addStation(r *request) ([]genetlink.Message, error) {
	s, err := wire.ParseStation(r.attrs)
	if err != nil {
		return nil, err
	}

	m, err := d.machine(r)
	if err != nil {
		return nil, err
	}

	return nil, m.AddStation(*s)
}

func (d *Dispatcher) updateStation(r *request) ([]genetlink.Message, error) {
	s, err := wire.ParseStation(r.attrs)
	if err != nil {
		return nil, err
	}

	m, err := d.machine(r)
	if err != nil {
		return nil, err
	}

	return nil, m.UpdateStation(*s)
}

func (d *Dispatcher) getStation(r *request) ([]genetlink.Message, error) {
	m, err := d.machine(r)
	if err != nil {
		return nil, err
	}

	var stations []wifitypes.Station
	if has(r.attrs, nl80211.AttrMAC) {
		mac, err := wire.HardwareAddr(r.attrs, nl80211.AttrMAC)
		if err != nil {
			return nil, err
		}
		s, err := m.Station(mac)
		if err != nil {
			return nil, err
		}
		stations = []wifitypes.Station{*s}
	} else {
		if stations, err = m.Stations(); err != nil {
			return nil, err
		}
	}

	msgs := make([]genetlink.Message, 0, len(stations))
	for i := range stations {
		msg, err := message(nl80211.CmdAPGetStaInfo, func(ae *netlink.AttributeEncoder) {
			wire.EncodeIfindex(ae, m.Index())
			wire.EncodeStation(ae, &stations[i])
		})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	return msgs, nil
}

func (d *Dispatcher) setRatesets(r *request) ([]genetlink.Message, error) {
	if _, err := d.machine(r); err != nil {
		return nil, err
	}

	// No attribute of the protocol describes a rate set.
	return nil, wifitypes.Errorf(wifitypes.KindNotSupported, "rate sets cannot be configured")
}

func (d *Dispatcher) addKey(r *request) ([]genetlink.Message, error) {
	k, err := wire.ParseKey(r.attrs)
	if err != nil {
		return nil, err
	}

	m, err := d.machine(r)
	if err != nil {
		return nil, err
	}

	return nil, m.AddKey(r.ctx, *k)
}

// delKey deletes one key, or every key when no key ID is given.
func (d *Dispatcher) delKey(r *request) ([]genetlink.Message, error) {
	m, err := d.machine(r)
	if err != nil {
		return nil, err
	}

	if !has(r.attrs, nl80211.AttrKeyID) {
		return nil, m.DeleteKeys(r.ctx)
	}

	k, err := wire.ParseKey(r.attrs)
	if err != nil {
		return nil, err
	}

	return nil, m.DeleteKey(r.ctx, *k)
}
