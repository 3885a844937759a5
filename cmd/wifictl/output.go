package main

import (
	"bytes"
	"fmt"
	"net"

	"github.com/mdlayher/wifictl/wifitypes"
	"gopkg.in/yaml.v3"
)

type wiphyView struct {
	Index    int      `yaml:"index"`
	Name     string   `yaml:"name"`
	Commands []string `yaml:"commands,omitempty"`
}

func wiphyViews(ws []*wifitypes.Wiphy) []wiphyView {
	vs := make([]wiphyView, 0, len(ws))
	for _, w := range ws {
		v := wiphyView{Index: w.Index, Name: w.Name}
		for _, cmd := range w.Commands.Commands() {
			v.Commands = append(v.Commands, fmt.Sprint(cmd))
		}
		vs = append(vs, v)
	}

	return vs
}

type interfaceView struct {
	Index int    `yaml:"index"`
	Name  string `yaml:"name"`
	MAC   string `yaml:"mac,omitempty"`
	Wiphy int    `yaml:"wiphy"`
	Type  string `yaml:"type"`
	State string `yaml:"state"`
}

func interfaceViews(ifis []*wifitypes.Interface) []interfaceView {
	vs := make([]interfaceView, 0, len(ifis))
	for _, ifi := range ifis {
		vs = append(vs, interfaceView{
			Index: ifi.Index,
			Name:  ifi.Name,
			MAC:   mac(ifi.HardwareAddr),
			Wiphy: ifi.PHY,
			Type:  ifi.Type.String(),
			State: ifi.State.String(),
		})
	}

	return vs
}

type bssView struct {
	BSSID   string `yaml:"bssid"`
	SSID    string `yaml:"ssid"`
	Channel int    `yaml:"channel,omitempty"`
	Type    string `yaml:"type"`
	Beacon  string `yaml:"beacon_interval"`
}

func bssViews(bss []*wifitypes.BSS) []bssView {
	vs := make([]bssView, 0, len(bss))
	for _, b := range bss {
		vs = append(vs, bssView{
			BSSID:   mac(b.BSSID),
			SSID:    b.SSID,
			Channel: b.Channel,
			Type:    b.Type.String(),
			Beacon:  b.BeaconInterval().String(),
		})
	}

	return vs
}

type associationView struct {
	Interface int      `yaml:"interface"`
	State     string   `yaml:"state"`
	BSS       *bssView `yaml:"bss,omitempty"`
	AID       uint16   `yaml:"aid,omitempty"`
	Reason    uint16   `yaml:"reason,omitempty"`
}

func newAssociationView(as *wifitypes.Association) associationView {
	v := associationView{
		Interface: as.Interface,
		State:     as.State.String(),
		AID:       as.AID,
		Reason:    as.Reason,
	}
	if as.BSS != nil {
		bv := bssViews([]*wifitypes.BSS{as.BSS})[0]
		v.BSS = &bv
	}

	return v
}

type eventView struct {
	Type      string `yaml:"type"`
	Group     string `yaml:"group"`
	Wiphy     int    `yaml:"wiphy,omitempty"`
	Interface int    `yaml:"interface,omitempty"`
	Name      string `yaml:"name,omitempty"`
	State     string `yaml:"state,omitempty"`
	BSSID     string `yaml:"bssid,omitempty"`
	Reason    uint16 `yaml:"reason,omitempty"`
	Status    string `yaml:"status,omitempty"`
}

func newEventView(ev *wifitypes.Event) eventView {
	v := eventView{
		Type:      ev.Type.String(),
		Group:     ev.Group,
		Wiphy:     ev.Wiphy,
		Interface: ev.Interface,
		Name:      ev.Name,
		BSSID:     mac(ev.BSSID),
		Reason:    ev.Reason,
	}
	if ev.State != 0 {
		v.State = ev.State.String()
	}
	if ev.Status != 0 {
		v.Status = ev.Status.String()
	}

	return v
}

func mac(addr net.HardwareAddr) string {
	if len(addr) == 0 {
		return ""
	}

	return addr.String()
}

func parseMAC(s string) (net.HardwareAddr, error) {
	addr, err := net.ParseMAC(s)
	if err != nil {
		return nil, err
	}
	if len(addr) != 6 {
		return nil, fmt.Errorf("%q is not an EUI-48 address", s)
	}

	return addr, nil
}

func marshalYAML(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
