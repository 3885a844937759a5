// Package nl80211 contains the stable wire enumerations of the wireless
// control protocol.
//
// Every value in this package is part of the wire ABI. Values are spelled out
// explicitly rather than derived with iota so that appending a new command or
// attribute can never renumber an existing one. New values are only ever
// added at the end of an enumeration.
package nl80211

// Generic netlink family parameters.
const (
	GenlName    = "nl80211"
	GenlVersion = 1

	// FamilyID is the generic netlink family ID the control socket assigns
	// to nl80211.
	FamilyID = 0x1a
)

// A Command is an nl80211 command identifier.
type Command uint8

// nl80211_commands. Do not reorder: this is ABI.
const (
	CmdUnspec                 Command = 0
	CmdRenameWiphy            Command = 1
	CmdWiphyNewName           Command = 2
	CmdGetCmdList             Command = 3
	CmdNewCmdList             Command = 4
	CmdAddVirtualInterface    Command = 5
	CmdDelVirtualInterface    Command = 6
	CmdChangeVirtualInterface Command = 7
	CmdGetWiphys              Command = 8
	CmdNewWiphys              Command = 9
	CmdGetInterfaces          Command = 10
	CmdNewInterfaces          Command = 11
	CmdInitiateScan           Command = 12
	CmdScanResult             Command = 13
	CmdGetAssociation         Command = 14
	CmdAssociationChanged     Command = 15
	CmdAssociate              Command = 16
	CmdDisassociate           Command = 17
	CmdDeauth                 Command = 18
	CmdGetAuthList            Command = 19
	CmdNewAuthList            Command = 20
	CmdAuthenticationChanged  Command = 21
	CmdAPSetBeacon            Command = 22
	CmdAPAddSta               Command = 23
	CmdAPUpdateSta            Command = 24
	CmdAPGetStaInfo           Command = 25
	CmdAPSetRatesets          Command = 26
	CmdAddKey                 Command = 27
	CmdDelKey                 Command = 28

	// Notification-only commands appended after the original set.
	CmdInterfaceStateChanged Command = 29
	CmdInterfaceRemoved      Command = 30
	CmdWiphyRemoved          Command = 31

	// CmdAbortScan cancels the outstanding scan of an interface.
	CmdAbortScan Command = 32

	CmdMax = CmdAbortScan
)

var commandNames = map[Command]string{
	CmdUnspec:                 "unspec",
	CmdRenameWiphy:            "rename_wiphy",
	CmdWiphyNewName:           "wiphy_newname",
	CmdGetCmdList:             "get_cmdlist",
	CmdNewCmdList:             "new_cmdlist",
	CmdAddVirtualInterface:    "add_virtual_interface",
	CmdDelVirtualInterface:    "del_virtual_interface",
	CmdChangeVirtualInterface: "change_virtual_interface",
	CmdGetWiphys:              "get_wiphys",
	CmdNewWiphys:              "new_wiphys",
	CmdGetInterfaces:          "get_interfaces",
	CmdNewInterfaces:          "new_interfaces",
	CmdInitiateScan:           "initiate_scan",
	CmdScanResult:             "scan_result",
	CmdGetAssociation:         "get_association",
	CmdAssociationChanged:     "association_changed",
	CmdAssociate:              "associate",
	CmdDisassociate:           "disassociate",
	CmdDeauth:                 "deauth",
	CmdGetAuthList:            "get_auth_list",
	CmdNewAuthList:            "new_auth_list",
	CmdAuthenticationChanged:  "authentication_changed",
	CmdAPSetBeacon:            "ap_set_beacon",
	CmdAPAddSta:               "ap_add_sta",
	CmdAPUpdateSta:            "ap_update_sta",
	CmdAPGetStaInfo:           "ap_get_sta_info",
	CmdAPSetRatesets:          "ap_set_ratesets",
	CmdAddKey:                 "add_key",
	CmdDelKey:                 "del_key",
	CmdInterfaceStateChanged:  "interface_state_changed",
	CmdInterfaceRemoved:       "interface_removed",
	CmdWiphyRemoved:           "wiphy_removed",
	CmdAbortScan:              "abort_scan",
}

// String returns the lower case nl80211 name of a Command.
func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}

	return "unknown"
}

// An Attr is an nl80211 attribute type.
type Attr = uint16

// nl80211_attrs. Do not reorder: this is ABI.
const (
	AttrUnspec          Attr = 0
	AttrIfindex         Attr = 1
	AttrIfname          Attr = 2
	AttrWiphy           Attr = 3
	AttrWiphyName       Attr = 4
	AttrCmds            Attr = 5
	AttrIftype          Attr = 6
	AttrInterfaceList   Attr = 7
	AttrWiphyList       Attr = 8
	AttrBSSID           Attr = 9
	AttrSSID            Attr = 10
	AttrChannel         Attr = 11
	AttrPHYMode         Attr = 12
	AttrChannelList     Attr = 13
	AttrBSSList         Attr = 14
	AttrBSSType         Attr = 15
	AttrBeaconPeriod    Attr = 16
	AttrDTIMPeriod      Attr = 17
	AttrTimestamp       Attr = 18
	AttrIE              Attr = 19
	AttrAuthAlgorithm   Attr = 20
	AttrTimeoutTU       Attr = 21
	AttrReasonCode      Attr = 22
	AttrAssociationID   Attr = 23
	AttrDeauthenticated Attr = 24
	AttrRxSensitivity   Attr = 25
	AttrTransmitPower   Attr = 26
	AttrFragThreshold   Attr = 27
	AttrFlagScanActive  Attr = 28
	AttrKeyData         Attr = 29
	AttrKeyID           Attr = 30
	AttrKeyType         Attr = 31
	AttrMAC             Attr = 32
	AttrKeyCipher       Attr = 33
	AttrBeaconHead      Attr = 34
	AttrBeaconTail      Attr = 35

	// Appended after the original set.
	AttrIfState Attr = 36
	AttrStatus  Attr = 37

	AttrMax = AttrStatus
)

// nl80211_iftype.
const (
	IftypeUnspecified = 0
	IftypeAdhoc       = 1
	IftypeStation     = 2
	IftypeAP          = 3
	IftypeAPVLAN      = 4
	IftypeWDS         = 5
	IftypeMonitor     = 6

	IftypeMax = IftypeMonitor
)

// nl80211_phymode.
const (
	PHYModeA = 0
	PHYModeB = 1
	PHYModeG = 2

	PHYModeMax = PHYModeG
)

// nl80211_bsstype.
const (
	BSSTypeInfrastructure = 0
	BSSTypeIndependent    = 1

	BSSTypeMax = BSSTypeIndependent
)

// nl80211_keytype.
const (
	KeyTypeGroup    = 0
	KeyTypePairwise = 1
	KeyTypePeer     = 2

	KeyTypeMax = KeyTypePeer
)

// Protocol bounds.
const (
	// MaxIELen is the maximum length of an AttrIE payload: three full
	// length information elements.
	MaxIELen = 774

	// MaxChannelListItems bounds the number of entries in AttrChannelList.
	MaxChannelListItems = 200

	MinSSIDLen = 1
	MaxSSIDLen = 32

	MaxKeyID = 3

	MinAssociationID = 1
	MaxAssociationID = 2007

	// HardwareAddrLen is the length of AttrBSSID and AttrMAC.
	HardwareAddrLen = 6
)
