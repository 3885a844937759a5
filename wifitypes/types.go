package wifitypes

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// errInvalidIE is returned when one or more IEs are malformed.
var errInvalidIE = errors.New("invalid 802.11 information element")

// An InterfaceType is the operating mode of an Interface.
type InterfaceType int

// Interface types. Values match the nl80211 iftype enumeration.
const (
	// InterfaceTypeUnspecified indicates that an interface's type is unspecified
	// and the driver determines its function.
	InterfaceTypeUnspecified InterfaceType = 0

	// InterfaceTypeAdHoc indicates that an interface is part of an independent
	// basic service set (BSS) of client devices without a controlling access
	// point.
	InterfaceTypeAdHoc InterfaceType = 1

	// InterfaceTypeStation indicates that an interface is part of a managed
	// basic service set (BSS) of client devices with a controlling access point.
	InterfaceTypeStation InterfaceType = 2

	// InterfaceTypeAP indicates that an interface is an access point.
	InterfaceTypeAP InterfaceType = 3

	// InterfaceTypeAPVLAN indicates that an interface is a VLAN interface
	// associated with an access point.
	InterfaceTypeAPVLAN InterfaceType = 4

	// InterfaceTypeWDS indicates that an interface is a wireless distribution
	// interface, used as part of a network of multiple access points.
	InterfaceTypeWDS InterfaceType = 5

	// InterfaceTypeMonitor indicates that an interface is a monitor interface,
	// receiving all frames from all clients in a given network.
	InterfaceTypeMonitor InterfaceType = 6
)

// String returns the string representation of an InterfaceType.
func (t InterfaceType) String() string {
	switch t {
	case InterfaceTypeUnspecified:
		return "unspecified"
	case InterfaceTypeAdHoc:
		return "ad-hoc"
	case InterfaceTypeStation:
		return "station"
	case InterfaceTypeAP:
		return "access point"
	case InterfaceTypeAPVLAN:
		return "access point/VLAN"
	case InterfaceTypeWDS:
		return "wireless distribution"
	case InterfaceTypeMonitor:
		return "monitor"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Valid reports whether t is a defined InterfaceType.
func (t InterfaceType) Valid() bool {
	return t >= InterfaceTypeUnspecified && t <= InterfaceTypeMonitor
}

// A State is the connection state of an Interface. The zero value is not a
// valid state and is never sent.
type State int

// Possible State values.
const (
	StateIdle           State = 1
	StateScanning       State = 2
	StateAuthenticating State = 3
	StateAssociated     State = 4
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateAuthenticating:
		return "authenticating"
	case StateAssociated:
		return "associated"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// A CommandSet is a bit set of the command identifiers a Wiphy supports.
type CommandSet uint64

// Has reports whether cmd is in the set.
func (s CommandSet) Has(cmd uint8) bool {
	return cmd < 64 && s&(1<<cmd) != 0
}

// Add returns s with cmds added.
func (s CommandSet) Add(cmds ...uint8) CommandSet {
	for _, c := range cmds {
		if c < 64 {
			s |= 1 << c
		}
	}

	return s
}

// Commands returns the command identifiers in the set in ascending order.
func (s CommandSet) Commands() []uint8 {
	var cmds []uint8
	for c := uint8(0); c < 64; c++ {
		if s.Has(c) {
			cmds = append(cmds, c)
		}
	}

	return cmds
}

// A Wiphy is a physical radio capable of hosting virtual interfaces.
type Wiphy struct {
	// The index of the wiphy.
	Index int

	// The name of the wiphy, such as "phy0".
	Name string

	// The commands this wiphy supports.
	Commands CommandSet
}

// An Interface is a virtual network interface bound to one Wiphy.
type Interface struct {
	// The index of the interface.
	Index int

	// The name of the interface.
	Name string

	// The hardware address of the interface.
	HardwareAddr net.HardwareAddr

	// The physical device that this interface belongs to.
	PHY int

	// The operating mode of the interface.
	Type InterfaceType

	// The connection state of the interface.
	State State
}

// A BSSType is the kind of basic service set.
type BSSType int

// BSS types. Values match the nl80211 bsstype enumeration.
const (
	BSSTypeInfrastructure BSSType = 0
	BSSTypeIndependent    BSSType = 1
)

// String returns the string representation of a BSSType.
func (t BSSType) String() string {
	switch t {
	case BSSTypeInfrastructure:
		return "infrastructure"
	case BSSTypeIndependent:
		return "independent"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// A PHYMode is a radio PHY mode.
type PHYMode int

// PHY modes. Values match the nl80211 phymode enumeration.
const (
	// PHYModeA is the 5 GHz PHY.
	PHYModeA PHYMode = 0

	// PHYModeB is the 2.4 GHz PHY, B mode.
	PHYModeB PHYMode = 1

	// PHYModeG is the 2.4 GHz PHY, G mode, compatible with B.
	PHYModeG PHYMode = 2
)

// String returns the string representation of a PHYMode.
func (m PHYMode) String() string {
	switch m {
	case PHYModeA:
		return "802.11a"
	case PHYModeB:
		return "802.11b"
	case PHYModeG:
		return "802.11g"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// A BSS is an 802.11 basic service set.
type BSS struct {
	// BSSID: The BSS service set identifier.  In infrastructure mode, this is the
	// hardware address of the wireless access point.
	BSSID net.HardwareAddr

	// The service set identifier, or "network name" of the BSS.
	SSID string

	// Type is infrastructure or independent.
	Type BSSType

	// Channel is the channel number the BSS was seen on, or zero.
	Channel int

	// BeaconPeriod is the beacon interval in time units.
	BeaconPeriod uint16

	// DTIMPeriod is the number of beacons between DTIMs.
	DTIMPeriod uint8

	// LastSeen is the timestamp of the last received beacon or probe response.
	LastSeen uint64

	// IEs holds raw information elements, at most 774 bytes.
	IEs []byte
}

// BeaconInterval converts the beacon period from time units.
func (b *BSS) BeaconInterval() time.Duration {
	return time.Duration(b.BeaconPeriod) * 1024 * time.Microsecond
}

// A Channel is one entry of a scan channel list.
type Channel struct {
	Number  int
	PHYMode PHYMode

	// Active requests an active (probing) scan on this channel.
	Active bool
}

// A ScanRequest describes a scan on one interface.
type ScanRequest struct {
	// Channels optionally limits the scan. At most 200 entries are allowed.
	Channels []Channel

	// Active requests active scanning. It is ignored when Channels is set;
	// each Channel carries its own flag.
	Active bool
}

// An AuthAlgorithm is an 802.11 authentication algorithm number.
type AuthAlgorithm uint32

// Authentication algorithms.
const (
	AuthAlgorithmOpenSystem AuthAlgorithm = 0
	AuthAlgorithmSharedKey  AuthAlgorithm = 1
)

// AssociateParams are the parameters of an association attempt. Only SSID is
// mandatory.
type AssociateParams struct {
	SSID          string
	BSSID         net.HardwareAddr
	Channel       int
	PHYMode       *PHYMode
	AuthAlgorithm AuthAlgorithm

	// Timeout bounds the attempt; it travels on the wire in time units.
	Timeout time.Duration

	IEs []byte
}

// An AssociateResult is what a radio reports for a finished association
// attempt.
type AssociateResult struct {
	// AID is the association ID assigned by the access point.
	AID uint16

	// BSS describes the network joined, if known.
	BSS *BSS
}

// An Association is the authentication/association context of an Interface.
type Association struct {
	Interface int
	State     State

	BSS *BSS
	AID uint16

	// Reason is the last reason or status code recorded.
	Reason uint16
}

// A KeyType is the scope of a Key.
type KeyType int

// Key types. Values match the nl80211 keytype enumeration.
const (
	KeyTypeGroup    KeyType = 0
	KeyTypePairwise KeyType = 1
	KeyTypePeer     KeyType = 2
)

// String returns the string representation of a KeyType.
func (t KeyType) String() string {
	switch t {
	case KeyTypeGroup:
		return "group"
	case KeyTypePairwise:
		return "pairwise"
	case KeyTypePeer:
		return "peer"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Cipher suite selectors (00-0F-AC:n).
const (
	CipherWEP40  uint32 = 0x000fac01
	CipherTKIP   uint32 = 0x000fac02
	CipherCCMP   uint32 = 0x000fac04
	CipherWEP104 uint32 = 0x000fac05
)

// A Key is an encryption key installed on an Interface.
type Key struct {
	// ID is the key index, 0-3.
	ID int

	Type   KeyType
	Cipher uint32
	Data   []byte

	// MAC optionally scopes the key to a peer.
	MAC net.HardwareAddr
}

// Matches reports whether k has the identity (id, type, mac) of o.
func (k *Key) Matches(o *Key) bool {
	return k.ID == o.ID && k.Type == o.Type && macEqual(k.MAC, o.MAC)
}

func macEqual(a, b net.HardwareAddr) bool {
	return a.String() == b.String()
}

// A Station is a client associated with an access point Interface.
type Station struct {
	HardwareAddr net.HardwareAddr
	AID          uint16
}

// A Beacon is the beacon template of an access point Interface.
type Beacon struct {
	Head []byte
	Tail []byte

	Period uint16
	DTIM   uint8
}

// List of 802.11 Information Element types.
const (
	IESSID = 0
)

// SSID length bounds in octets.
const (
	minSSIDLen = 1
	maxSSIDLen = 32
)

// An IE is an 802.11 information element.
type IE struct {
	ID uint8
	// Length field implied by length of data
	Data []byte
}

// ParseIEs parses zero or more IEs from a byte slice.
func ParseIEs(b []byte) ([]IE, error) {
	var ies []IE
	var i int
	for {
		if len(b[i:]) == 0 {
			break
		}
		if len(b[i:]) < 2 {
			return nil, errInvalidIE
		}

		id := b[i]
		i++
		l := int(b[i])
		i++

		if len(b[i:]) < l {
			return nil, errInvalidIE
		}

		ies = append(ies, IE{
			ID:   id,
			Data: b[i : i+l],
		})

		i += l
	}

	return ies, nil
}

// SSIDFromIEs returns the SSID carried in an IE blob, or the empty string
// when there is none. The SSID is returned as raw octets and must be 1 to 32
// bytes long.
func SSIDFromIEs(b []byte) string {
	ies, err := ParseIEs(b)
	if err != nil {
		return ""
	}

	for _, ie := range ies {
		if ie.ID != IESSID {
			continue
		}
		if len(ie.Data) < minSSIDLen || len(ie.Data) > maxSSIDLen {
			return ""
		}

		return string(ie.Data)
	}

	return ""
}
