// Package wifitypes provides shared types for the wifictl family of packages.
package wifitypes
