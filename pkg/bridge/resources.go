// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import "github.com/absmach/coapbridge/pkg/resource"

// Remote actuator resources. The id is carried in radio messages.
const (
	Speaker resource.ID = 1
	Lamp    resource.ID = 2
)

// LocalBase is the first resource id served by the bridge itself. Ids below
// it belong to actuators on the radio side.
const LocalBase resource.ID = 0xFF00

// Local resources answered without a radio round trip.
const (
	RTT resource.ID = LocalBase + iota
	Jitter
	TimedOut
	WellKnownCore
)

// IsLocal reports whether id is served by the bridge itself.
func IsLocal(id resource.ID) bool {
	return id >= LocalBase
}

var defaultResources = []struct {
	path []string
	id   resource.ID
}{
	{[]string{"remote", "speaker"}, Speaker},
	{[]string{"remote", "lamp"}, Lamp},
	{[]string{"local", "rtt"}, RTT},
	{[]string{"local", "jitter"}, Jitter},
	{[]string{"local", "timed-out"}, TimedOut},
	{[]string{".well-known", "core"}, WellKnownCore},
}
