package dispatch

import (
	"errors"
	"fmt"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/wifictl/internal/nl80211"
	"github.com/mdlayher/wifictl/internal/nlattr"
	"github.com/mdlayher/wifictl/internal/wire"
	"github.com/mdlayher/wifictl/wifitypes"
)

// A valueKind is the payload layout of an attribute.
type valueKind int

const (
	u8 valueKind = iota
	u16
	u32
	u64
	flag
	nulString
	binary
	array
)

// An attrPolicy constrains the payload of one attribute type.
type attrPolicy struct {
	kind valueKind

	// For binary and nulString, the payload length bounds. For integers, the
	// value bounds when max is non-zero.
	min, max int
}

var errNotAccepted = errors.New("attribute not accepted by this command")

// ifNameMax is the longest interface name, without its NUL terminator.
const ifNameMax = 15

// attrPolicies is checked for every attribute of every request before the
// request is routed.
var attrPolicies = map[uint16]attrPolicy{
	nl80211.AttrIfindex:         {kind: u32},
	nl80211.AttrIfname:          {kind: nulString, min: 1, max: ifNameMax},
	nl80211.AttrWiphy:           {kind: u32},
	nl80211.AttrWiphyName:       {kind: nulString, min: 1, max: 64},
	nl80211.AttrCmds:            {kind: array},
	nl80211.AttrIftype:          {kind: u32, min: nl80211.IftypeUnspecified, max: nl80211.IftypeMax},
	nl80211.AttrInterfaceList:   {kind: array},
	nl80211.AttrWiphyList:       {kind: array},
	nl80211.AttrBSSID:           {kind: binary, min: nl80211.HardwareAddrLen, max: nl80211.HardwareAddrLen},
	nl80211.AttrSSID:            {kind: binary, min: nl80211.MinSSIDLen, max: nl80211.MaxSSIDLen},
	nl80211.AttrChannel:         {kind: u32},
	nl80211.AttrPHYMode:         {kind: u32, min: nl80211.PHYModeA, max: nl80211.PHYModeMax},
	nl80211.AttrChannelList:     {kind: array},
	nl80211.AttrBSSList:         {kind: array},
	nl80211.AttrBSSType:         {kind: u32, min: nl80211.BSSTypeInfrastructure, max: nl80211.BSSTypeMax},
	nl80211.AttrBeaconPeriod:    {kind: u16},
	nl80211.AttrDTIMPeriod:      {kind: u8},
	nl80211.AttrTimestamp:       {kind: u64},
	nl80211.AttrIE:              {kind: binary, max: nl80211.MaxIELen},
	nl80211.AttrAuthAlgorithm:   {kind: u32},
	nl80211.AttrTimeoutTU:       {kind: u32},
	nl80211.AttrReasonCode:      {kind: u16},
	nl80211.AttrAssociationID:   {kind: u16, min: nl80211.MinAssociationID, max: nl80211.MaxAssociationID},
	nl80211.AttrDeauthenticated: {kind: flag},
	nl80211.AttrRxSensitivity:   {kind: u32},
	nl80211.AttrTransmitPower:   {kind: u32},
	nl80211.AttrFragThreshold:   {kind: u32},
	nl80211.AttrFlagScanActive:  {kind: flag},
	nl80211.AttrKeyData:         {kind: binary, min: 1, max: 32},
	nl80211.AttrKeyID:           {kind: u8, min: 0, max: nl80211.MaxKeyID},
	nl80211.AttrKeyType:         {kind: u32, min: nl80211.KeyTypeGroup, max: nl80211.KeyTypeMax},
	nl80211.AttrMAC:             {kind: binary, min: nl80211.HardwareAddrLen, max: nl80211.HardwareAddrLen},
	nl80211.AttrKeyCipher:       {kind: u32},
	nl80211.AttrBeaconHead:      {kind: binary, min: 1, max: 2048},
	nl80211.AttrBeaconTail:      {kind: binary, max: 2048},
	nl80211.AttrIfState:         {kind: u8, min: int(wifitypes.StateIdle), max: int(wifitypes.StateAssociated)},
	nl80211.AttrStatus:          {kind: u32},
}

func (p attrPolicy) check(a nlattr.Attribute) error {
	var (
		v   uint64
		err error
	)

	switch p.kind {
	case u8:
		var x uint8
		x, err = a.Uint8()
		v = uint64(x)
	case u16:
		var x uint16
		x, err = a.Uint16()
		v = uint64(x)
	case u32:
		var x uint32
		x, err = a.Uint32()
		v = uint64(x)
	case u64:
		v, err = a.Uint64()
	case flag:
		return a.Flag()
	case nulString:
		// The terminator is optional; bounds apply to the name itself.
		n := len(a.String())
		if n < p.min || n > p.max {
			return fmt.Errorf("%w: type %d: want %d-%d byte string, got %d",
				nlattr.ErrMalformed, a.Type, p.min, p.max, n)
		}
		return nil
	case binary:
		_, err = a.Bytes(p.min, p.max)
		return err
	case array:
		_, err = a.Array()
		return err
	}
	if err != nil {
		return err
	}

	if p.max != 0 && (v < uint64(p.min) || v > uint64(p.max)) {
		return fmt.Errorf("%w: type %d: value %d out of range %d-%d",
			nlattr.ErrMalformed, a.Type, v, p.min, p.max)
	}

	return nil
}

// A handlerFunc serves one validated request.
type handlerFunc func(d *Dispatcher, r *request) ([]genetlink.Message, error)

// A cmdPolicy describes the attributes and handler of one request command.
type cmdPolicy struct {
	// required attributes must all be present.
	required []uint16

	// anyOf, when set, requires at least one of its attributes.
	anyOf []uint16

	// optional attributes may be present. In strict mode, attributes which
	// are neither required, anyOf, nor optional are rejected.
	optional []uint16

	handle handlerFunc
}

func (p *cmdPolicy) allows(typ uint16) bool {
	for _, set := range [][]uint16{p.required, p.anyOf, p.optional} {
		for _, t := range set {
			if t == typ {
				return true
			}
		}
	}

	return false
}

// validate checks attrs against the command and attribute policies. It
// never has side effects.
func (p *cmdPolicy) validate(attrs []nlattr.Attribute, strict bool) error {
	for _, a := range attrs {
		if strict && !p.allows(a.Type) {
			return &wifitypes.Error{
				Kind: wifitypes.KindUnknownAttribute,
				Attr: a.Type,
				Err:  errNotAccepted,
			}
		}

		ap, ok := attrPolicies[a.Type]
		if !ok {
			// Unknown types only survive decoding in lenient mode.
			continue
		}
		if err := ap.check(a); err != nil {
			return wire.AttrError(a.Type, err)
		}
	}

	for _, typ := range p.required {
		if _, ok := nlattr.Find(attrs, typ); !ok {
			return &wifitypes.Error{Kind: wifitypes.KindMissingAttribute, Attr: typ}
		}
	}

	if len(p.anyOf) > 0 {
		var found bool
		for _, typ := range p.anyOf {
			if _, ok := nlattr.Find(attrs, typ); ok {
				found = true
				break
			}
		}
		if !found {
			return &wifitypes.Error{Kind: wifitypes.KindMissingAttribute, Attr: p.anyOf[0]}
		}
	}

	return nil
}

// policies maps every request command to its policy. Commands absent here,
// including every notification command, are unsupported.
var policies = map[nl80211.Command]*cmdPolicy{
	nl80211.CmdRenameWiphy: {
		required: []uint16{nl80211.AttrWiphy, nl80211.AttrWiphyName},
		handle:   (*Dispatcher).renameWiphy,
	},
	nl80211.CmdGetCmdList: {
		anyOf:  []uint16{nl80211.AttrWiphy, nl80211.AttrIfindex},
		handle: (*Dispatcher).getCmdList,
	},
	nl80211.CmdAddVirtualInterface: {
		required: []uint16{nl80211.AttrWiphy, nl80211.AttrIfname},
		optional: []uint16{nl80211.AttrIftype},
		handle:   (*Dispatcher).addInterface,
	},
	nl80211.CmdDelVirtualInterface: {
		required: []uint16{nl80211.AttrIfindex},
		optional: []uint16{nl80211.AttrWiphy},
		handle:   (*Dispatcher).delInterface,
	},
	nl80211.CmdChangeVirtualInterface: {
		required: []uint16{nl80211.AttrIfindex, nl80211.AttrIftype},
		handle:   (*Dispatcher).changeInterface,
	},
	nl80211.CmdGetWiphys: {
		optional: []uint16{nl80211.AttrWiphy},
		handle:   (*Dispatcher).getWiphys,
	},
	nl80211.CmdGetInterfaces: {
		optional: []uint16{nl80211.AttrWiphy, nl80211.AttrIfindex},
		handle:   (*Dispatcher).getInterfaces,
	},
	nl80211.CmdInitiateScan: {
		required: []uint16{nl80211.AttrIfindex},
		optional: []uint16{nl80211.AttrChannelList, nl80211.AttrFlagScanActive},
		handle:   (*Dispatcher).initiateScan,
	},
	nl80211.CmdAbortScan: {
		required: []uint16{nl80211.AttrIfindex},
		handle:   (*Dispatcher).abortScan,
	},
	nl80211.CmdGetAssociation: {
		required: []uint16{nl80211.AttrIfindex},
		handle:   (*Dispatcher).getAssociation,
	},
	nl80211.CmdAssociate: {
		required: []uint16{nl80211.AttrIfindex, nl80211.AttrSSID},
		optional: []uint16{
			nl80211.AttrBSSID,
			nl80211.AttrChannel,
			nl80211.AttrPHYMode,
			nl80211.AttrAuthAlgorithm,
			nl80211.AttrTimeoutTU,
			nl80211.AttrIE,
		},
		handle: (*Dispatcher).associate,
	},
	nl80211.CmdDisassociate: {
		required: []uint16{nl80211.AttrIfindex},
		optional: []uint16{nl80211.AttrReasonCode},
		handle:   (*Dispatcher).disassociate,
	},
	nl80211.CmdDeauth: {
		required: []uint16{nl80211.AttrIfindex},
		optional: []uint16{nl80211.AttrReasonCode},
		handle:   (*Dispatcher).deauth,
	},
	nl80211.CmdGetAuthList: {
		required: []uint16{nl80211.AttrIfindex},
		handle:   (*Dispatcher).getAuthList,
	},
	nl80211.CmdAPSetBeacon: {
		required: []uint16{nl80211.AttrIfindex, nl80211.AttrBeaconHead},
		optional: []uint16{nl80211.AttrBeaconTail, nl80211.AttrBeaconPeriod, nl80211.AttrDTIMPeriod},
		handle:   (*Dispatcher).setBeacon,
	},
	nl80211.CmdAPAddSta: {
		required: []uint16{nl80211.AttrIfindex, nl80211.AttrMAC, nl80211.AttrAssociationID},
		handle:   (*Dispatcher).addStation,
	},
	nl80211.CmdAPUpdateSta: {
		required: []uint16{nl80211.AttrIfindex, nl80211.AttrMAC, nl80211.AttrAssociationID},
		handle:   (*Dispatcher).updateStation,
	},
	nl80211.CmdAPGetStaInfo: {
		required: []uint16{nl80211.AttrIfindex},
		optional: []uint16{nl80211.AttrMAC},
		handle:   (*Dispatcher).getStation,
	},
	nl80211.CmdAPSetRatesets: {
		required: []uint16{nl80211.AttrIfindex},
		handle:   (*Dispatcher).setRatesets,
	},
	nl80211.CmdAddKey: {
		required: []uint16{nl80211.AttrIfindex, nl80211.AttrKeyID, nl80211.AttrKeyData},
		optional: []uint16{nl80211.AttrKeyType, nl80211.AttrMAC, nl80211.AttrKeyCipher},
		handle:   (*Dispatcher).addKey,
	},
	nl80211.CmdDelKey: {
		required: []uint16{nl80211.AttrIfindex},
		optional: []uint16{nl80211.AttrKeyID, nl80211.AttrKeyType, nl80211.AttrMAC},
		handle:   (*Dispatcher).delKey,
	},
}

// Commands returns every request command the dispatcher serves.
func Commands() []nl80211.Command {
	cmds := make([]nl80211.Command, 0, len(policies))
	for c := nl80211.CmdUnspec; c <= nl80211.CmdMax; c++ {
		if _, ok := policies[c]; ok {
			cmds = append(cmds, c)
		}
	}

	return cmds
}

// Required returns the attributes a request command must always carry.
func Required(cmd nl80211.Command) []uint16 {
	p, ok := policies[cmd]
	if !ok {
		return nil
	}

	return append([]uint16(nil), p.required...)
}
