// Command wifictl queries and configures WiFi devices through the wifid
// control socket.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/mdlayher/wifictl"
	"github.com/mdlayher/wifictl/wifitypes"
)

var ifTypes = map[string]wifitypes.InterfaceType{
	"station": wifitypes.InterfaceTypeStation,
	"ap":      wifitypes.InterfaceTypeAP,
	"adhoc":   wifitypes.InterfaceTypeAdHoc,
	"monitor": wifitypes.InterfaceTypeMonitor,
}

func main() {
	root := kingpin.New("wifictl", "wireless control plane client")
	socket := root.Flag("socket", "control socket path").Default(wifictl.DefaultSocketPath).String()

	wiphysCmd := root.Command("wiphys", "list physical devices")
	interfacesCmd := root.Command("interfaces", "list interfaces")
	addCmd, addOpt := newAddCommand(root)
	delCmd, delName := newInterfaceCommand(root, "del", "delete an interface")
	scanCmd, scanOpt := newScanCommand(root)
	connectCmd, connectOpt := newConnectCommand(root)
	disconnectCmd, disconnectName := newInterfaceCommand(root, "disconnect", "deauthenticate an interface")
	statusCmd, statusName := newInterfaceCommand(root, "status", "show the association of an interface")
	watchCmd, watchGroups := newWatchCommand(root)

	cmd := kingpin.MustParse(root.Parse(os.Args[1:]))

	c, err := wifictl.New(*socket)
	checkError(err)
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch cmd {
	case wiphysCmd.FullCommand():
		ws, err := c.Wiphys()
		checkError(err)
		printYAML(wiphyViews(ws))
	case interfacesCmd.FullCommand():
		ifis, err := c.Interfaces()
		checkError(err)
		printYAML(interfaceViews(ifis))
	case addCmd.FullCommand():
		ifi, err := c.CreateInterface(addOpt.Wiphy, addOpt.Name, ifTypes[addOpt.Type])
		checkError(err)
		printYAML(interfaceViews([]*wifitypes.Interface{ifi}))
	case delCmd.FullCommand():
		checkError(c.DeleteInterface(lookup(c, *delName)))
	case scanCmd.FullCommand():
		scan(ctx, c, *scanOpt)
	case connectCmd.FullCommand():
		connect(ctx, c, *connectOpt)
	case disconnectCmd.FullCommand():
		checkError(c.Deauthenticate(lookup(c, *disconnectName), 3))
	case statusCmd.FullCommand():
		as, err := c.Association(lookup(c, *statusName))
		checkError(err)
		printYAML(newAssociationView(as))
	case watchCmd.FullCommand():
		err := c.Watch(ctx, func(ev *wifitypes.Event) error {
			printYAML([]eventView{newEventView(ev)})
			return nil
		}, *watchGroups...)
		checkError(err)
	}
}

type addOption struct {
	Wiphy int
	Name  string
	Type  string
}

func newAddCommand(root *kingpin.Application) (*kingpin.CmdClause, *addOption) {
	opt := addOption{}
	cmd := root.Command("add", "create an interface")
	cmd.Arg("name", "interface name").Required().StringVar(&opt.Name)
	cmd.Flag("wiphy", "physical device index").Default("0").IntVar(&opt.Wiphy)
	cmd.Flag("type", "interface type").Default("station").EnumVar(&opt.Type, "station", "ap", "adhoc", "monitor")
	return cmd, &opt
}

func newInterfaceCommand(root *kingpin.Application, name, help string) (*kingpin.CmdClause, *string) {
	cmd := root.Command(name, help)
	return cmd, cmd.Arg("interface", "interface name").Required().String()
}

type scanOption struct {
	Interface string
	Channels  []int
	Active    bool
	Timeout   time.Duration
}

func newScanCommand(root *kingpin.Application) (*kingpin.CmdClause, *scanOption) {
	opt := scanOption{}
	cmd := root.Command("scan", "scan for networks")
	cmd.Arg("interface", "interface name").Required().StringVar(&opt.Interface)
	cmd.Flag("channel", "limit the scan to a channel; repeatable").IntsVar(&opt.Channels)
	cmd.Flag("active", "probe for networks").BoolVar(&opt.Active)
	cmd.Flag("timeout", "time to wait for results").Default("15s").DurationVar(&opt.Timeout)
	return cmd, &opt
}

type connectOption struct {
	Interface string
	SSID      string
	BSSID     string
	PSK       string
	Timeout   time.Duration
}

func newConnectCommand(root *kingpin.Application) (*kingpin.CmdClause, *connectOption) {
	opt := connectOption{}
	cmd := root.Command("connect", "associate with a network")
	cmd.Arg("interface", "interface name").Required().StringVar(&opt.Interface)
	cmd.Arg("ssid", "network name").Required().StringVar(&opt.SSID)
	cmd.Flag("bssid", "access point hardware address").StringVar(&opt.BSSID)
	cmd.Flag("psk", "WPA passphrase").Envar("WIFICTL_PSK").StringVar(&opt.PSK)
	cmd.Flag("timeout", "time to wait for the association").Default("15s").DurationVar(&opt.Timeout)
	return cmd, &opt
}

func newWatchCommand(root *kingpin.Application) (*kingpin.CmdClause, *[]string) {
	cmd := root.Command("watch", "print notifications until interrupted")
	return cmd, cmd.Arg("group", "multicast groups; all when omitted").Strings()
}

func scan(ctx context.Context, c *wifictl.Client, opt scanOption) {
	ifi := lookup(c, opt.Interface)

	req := wifitypes.ScanRequest{Active: opt.Active}
	for _, ch := range opt.Channels {
		req.Channels = append(req.Channels, wifitypes.Channel{Number: ch, Active: opt.Active})
	}

	ctx, cancel := context.WithTimeout(ctx, opt.Timeout)
	defer cancel()

	bss, err := c.Scan(ctx, ifi, req)
	checkError(err)
	printYAML(bssViews(bss))
}

func connect(ctx context.Context, c *wifictl.Client, opt connectOption) {
	ifi := lookup(c, opt.Interface)

	ctx, cancel := context.WithTimeout(ctx, opt.Timeout)
	defer cancel()

	var (
		as  *wifitypes.Association
		err error
	)
	switch {
	case opt.PSK != "":
		as, err = c.ConnectWPAPSK(ctx, ifi, opt.SSID, opt.PSK)
	default:
		p := wifitypes.AssociateParams{SSID: opt.SSID}
		if opt.BSSID != "" {
			p.BSSID, err = parseMAC(opt.BSSID)
			checkError(err)
		}
		as, err = c.Associate(ctx, ifi, p)
	}
	checkError(err)

	log.Printf("interface %s associated with %q", ifi.Name, opt.SSID)
	printYAML(newAssociationView(as))
}

// lookup finds an interface by name.
func lookup(c *wifictl.Client, name string) *wifitypes.Interface {
	ifis, err := c.Interfaces()
	checkError(err)

	for _, ifi := range ifis {
		if ifi.Name == name {
			return ifi
		}
	}

	log.Fatalf("interface %q not found", name)
	return nil
}

func checkError(err error) {
	if err != nil {
		log.Fatalln(err)
	}
}

func printYAML(v interface{}) {
	b, err := marshalYAML(v)
	checkError(err)
	fmt.Print(string(b))
}
