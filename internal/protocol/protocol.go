package protocol

import (
	"encoding/json"
	"sort"
)

const Version = "1.0"

// GameModeGameMaster is the only game_mode the bridge reports.
const GameModeGameMaster = "game_master"

// Command types (closed set).
const (
	CmdSetFormation       = "SET_FORMATION"
	CmdSetWaypoint        = "SET_WAYPOINT"
	CmdSetBehavior        = "SET_BEHAVIOR"
	CmdSpawnGroup         = "SPAWN_GROUP"
	CmdDespawnGroup       = "DESPAWN_GROUP"
	CmdUpdateMission      = "UPDATE_MISSION"
	CmdCreateMission      = "CREATE_MISSION"
	CmdEndMission         = "END_MISSION"
	CmdCallReinforcements = "CALL_REINFORCEMENTS"
	CmdSetAmbush          = "SET_AMBUSH"
	CmdBroadcastMessage   = "BROADCAST_MESSAGE"
	CmdTriggerEvent       = "TRIGGER_EVENT"
	CmdVehicleOrder       = "VEHICLE_ORDER"
)

var commandTypes = map[string]struct{}{
	CmdSetFormation:       {},
	CmdSetWaypoint:        {},
	CmdSetBehavior:        {},
	CmdSpawnGroup:         {},
	CmdDespawnGroup:       {},
	CmdUpdateMission:      {},
	CmdCreateMission:      {},
	CmdEndMission:         {},
	CmdCallReinforcements: {},
	CmdSetAmbush:          {},
	CmdBroadcastMessage:   {},
	CmdTriggerEvent:       {},
	CmdVehicleOrder:       {},
}

func IsCommandType(t string) bool {
	_, ok := commandTypes[t]
	return ok
}

// CommandTypes returns the closed command set, sorted.
func CommandTypes() []string {
	out := make([]string, 0, len(commandTypes))
	for t := range commandTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// BaseReply lets callers peek at correlation fields without a full decode.
type BaseReply struct {
	CommandID string `json:"command_id"`
	RequestID string `json:"request_id,omitempty"`
	Tick      uint64 `json:"tick,omitempty"`
}

func DecodeBase(b []byte) (BaseReply, error) {
	var m BaseReply
	err := json.Unmarshal(b, &m)
	return m, err
}
