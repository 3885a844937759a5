package nl80211

// nl80211_multicast_groups. Append only.
//
// The genetlink group ID advertised for a group is its value plus one, since
// netlink reserves group 0.
const (
	GroupConfig = 0
	GroupScan   = 1
	GroupMLME   = 2

	GroupMax = GroupMLME
)

// Multicast group names as advertised by the genetlink controller.
const (
	GroupConfigName = "config"
	GroupScanName   = "scan"
	GroupMLMEName   = "mlme"
)

// GroupNames maps a group to its name.
var GroupNames = [...]string{
	GroupConfig: GroupConfigName,
	GroupScan:   GroupScanName,
	GroupMLME:   GroupMLMEName,
}

// GroupID returns the genetlink multicast group ID for group.
func GroupID(group int) uint32 { return uint32(group) + 1 }

// GroupFromID reverses GroupID, reporting false for IDs outside the
// enumeration.
func GroupFromID(id uint32) (int, bool) {
	if id == 0 || id > GroupMax+1 {
		return 0, false
	}

	return int(id - 1), true
}
