// Package ctlsock carries generic netlink messages over a Unix
// SOCK_SEQPACKET control socket.
//
// The server side answers generic netlink controller requests for the nl80211
// family and its multicast groups, and hands nl80211 requests to a Handler.
// The client side, Socket, implements netlink.Socket so that the standard
// netlink and genetlink connection types work unchanged over the control
// socket.
//
// Errors travel as netlink error messages: each error kind maps to one errno,
// and the error text is carried as an extended acknowledgement message.
package ctlsock
