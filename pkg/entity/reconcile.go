package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Event source tags, used for logging only. Update semantics are
// identical regardless of source.
const (
	sourcePush = "push"
	sourcePoll = "poll"
)

// Wire enumeration tables. The water flow level uses two different index
// bases depending on the reporting command: onWaterInfo (and
// setWaterInfo) count from 1, onFwBuryPoint bd_setting counts from 0.
// This is an upstream API inconsistency, not a client bug; both tables
// are kept, keyed by the originating command.
var (
	waterFlowFromWire = map[int]WaterFlow{
		1: WaterFlowLow,
		2: WaterFlowMedium,
		3: WaterFlowHigh,
		4: WaterFlowUltraHigh,
	}

	waterFlowFromBuryPoint = map[int]WaterFlow{
		0: WaterFlowLow,
		1: WaterFlowMedium,
		2: WaterFlowHigh,
		3: WaterFlowUltraHigh,
	}

	waterFlowToWire = map[WaterFlow]int{
		WaterFlowLow:       1,
		WaterFlowMedium:    2,
		WaterFlowHigh:      3,
		WaterFlowUltraHigh: 4,
	}

	speedFromWire = map[int]Speed{
		1000: SpeedQuiet,
		0:    SpeedStandard,
		1:    SpeedMax,
		2:    SpeedMaxPlus,
	}

	speedToWire = map[Speed]int{
		SpeedQuiet:    1000,
		SpeedStandard: 0,
		SpeedMax:      1,
		SpeedMaxPlus:  2,
	}

	cleanTypeFromWire = map[string]CleanType{
		"auto":       CleanTypeAuto,
		"spotArea":   CleanTypeSpotArea,
		"customArea": CleanTypeCustomArea,
	}
)

// pushHandlers maps event names to their update rules. Poll replies are
// normalized onto the same names before dispatch so both channels share
// one table.
var pushHandlers = map[string]func(e *Entity, data json.RawMessage){
	"onBattery":         (*Entity).applyBattery,
	"onChargeState":     (*Entity).applyChargeState,
	"onCleanCount":      (*Entity).applyCleanCount,
	"onCleanInfo_V2":    (*Entity).applyCleanInfo,
	"onCleanPreference": (*Entity).applyCleanPreference,
	"onFwBuryPoint":     (*Entity).applyFwBuryPoint,
	"onSpeed":           (*Entity).applySpeed,
	"onStats":           (*Entity).applyStats,
	"onTrueDetect":      (*Entity).applyTrueDetect,
	"onWaterInfo":       (*Entity).applyWaterInfo,
	"onCarpertPressure": (*Entity).applyAutoBoostSuction,
	"onAutoEmpty":       (*Entity).applyAutoEmpty,
}

// ignoredCommands are events the device emits that this client
// deliberately does not model: map and navigation payloads, schedules,
// and progress reports.
var ignoredCommands = map[string]bool{
	"reportStats":        true,
	"onBreakPointStatus": true,
	"onCachedMapInfo":    true,
	"reportMinorMap":     true,
	"reportPos":          true,
	"reportMapTrace":     true,
	"reportMapSubSet":    true,
	"onError":            true,
	"onEvt":              true,
	"onMajorMap":         true,
	"onMapSet":           true,
	"onMapState":         true,
	"onMapTrace":         true,
	"onMinorMap":         true,
	"onPos":              true,
	"onRelocationState":  true,
	"onRosNodeReady":     true,
	"onSched_V2":         true,
}

// pollOverlap lists poll commands whose replies carry the same payload
// as the corresponding push event.
var pollOverlap = map[string]bool{
	"getBattery":         true,
	"getChargeState":     true,
	"getCleanCount":      true,
	"getCleanInfo_V2":    true,
	"getCleanPreference": true,
	"getError":           true,
	"getSpeed":           true,
	"getStats":           true,
	"getTrueDetect":      true,
	"getWaterInfo":       true,
}

// decodeBody extracts the "data" payload from a message body.
func decodeBody(body []byte) (json.RawMessage, bool) {
	var decoded struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil || decoded.Data == nil {
		return nil, false
	}
	return decoded.Data, true
}

// apply is the single reconciler entry point. source tags the event
// origin for logging; the update rules themselves are source agnostic.
// Unknown commands produce no field update and no error.
func (e *Entity) apply(source, command string, data json.RawMessage) {
	e.debugLog("applying event", "source", source, "command", command)

	// Poll replies that overlap push events share the push update rule.
	if pollOverlap[command] {
		e.apply(source, "on"+strings.TrimPrefix(command, "get"), data)
		return
	}

	switch command {
	case "getInfo":
		e.applyBatchInfo(source, data)
		return
	case "getTotalStats":
		e.applyTotalStats(data)
		return
	case "getLifeSpan":
		e.applyLifeSpans(data)
		return
	}

	if handler, ok := pushHandlers[command]; ok {
		handler(e, data)
		return
	}
	if ignoredCommands[command] {
		return
	}
	e.warnLog("unhandled command", "source", source, "command", command)
}

// applyBatchInfo recursively dispatches the sub-replies of a getInfo
// batch through apply. Keys are visited in sorted order so repeated
// batches reconcile deterministically.
func (e *Entity) applyBatchInfo(source string, data json.RawMessage) {
	var batch map[string]json.RawMessage
	if err := json.Unmarshal(data, &batch); err != nil {
		e.warnLog("malformed getInfo batch", "error", err)
		return
	}

	keys := make([]string, 0, len(batch))
	for k := range batch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, command := range keys {
		sub, ok := decodeBody(batch[command])
		if !ok {
			e.warnLog("malformed getInfo sub-reply", "command", command)
			continue
		}
		e.apply(source, command, sub)
	}
}

func (e *Entity) applyBattery(data json.RawMessage) {
	var payload struct {
		Value int `json:"value"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		e.warnLog("malformed onBattery payload", "error", err)
		return
	}
	e.commit(FieldBatteryLevel, func(s *State) bool { return assign(&s.BatteryLevel, payload.Value) })
}

func (e *Entity) applyChargeState(data json.RawMessage) {
	var payload struct {
		IsCharging wireBool `json:"isCharging"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		e.warnLog("malformed onChargeState payload", "error", err)
		return
	}
	e.commit(FieldIsCharging, func(s *State) bool { return assign(&s.IsCharging, bool(payload.IsCharging)) })
}

func (e *Entity) applyCleanCount(data json.RawMessage) {
	var payload struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		e.warnLog("malformed onCleanCount payload", "error", err)
		return
	}
	e.commit(FieldCleanCount, func(s *State) bool { return assign(&s.CleanCount, payload.Count) })
}

func (e *Entity) applyCleanInfo(data json.RawMessage) {
	var payload struct {
		State      string `json:"state"`
		CleanState struct {
			MotionState string `json:"motionState"`
			Content     struct {
				Type string `json:"type"`
			} `json:"content"`
		} `json:"cleanState"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		e.warnLog("malformed onCleanInfo_V2 payload", "error", err)
		return
	}

	switch payload.State {
	case "clean":
		switch payload.CleanState.MotionState {
		case "working":
			e.commit(FieldRobotState, func(s *State) bool { return assign(&s.RobotState, RobotStateCleaning) })
		case "pause":
			e.commit(FieldRobotState, func(s *State) bool { return assign(&s.RobotState, RobotStatePaused) })
		default:
			e.warnLog("unhandled motion state", "motionState", payload.CleanState.MotionState)
		}

		if cleanType, ok := cleanTypeFromWire[payload.CleanState.Content.Type]; ok {
			e.commit(FieldCleanType, func(s *State) bool { return assign(&s.CleanType, cleanType) })
		} else {
			e.warnLog("unhandled clean type", "type", payload.CleanState.Content.Type)
		}
	case "idle":
		e.commit(FieldRobotState, func(s *State) bool { return assign(&s.RobotState, RobotStateIdle) })
		e.commit(FieldCleanType, func(s *State) bool { return clearField(&s.CleanType) })
	case "goCharging":
		e.commit(FieldRobotState, func(s *State) bool { return assign(&s.RobotState, RobotStateReturning) })
		e.commit(FieldCleanType, func(s *State) bool { return clearField(&s.CleanType) })
	default:
		e.debugLog("unhandled clean info state", "state", payload.State)
	}
}

func (e *Entity) applyCleanPreference(data json.RawMessage) {
	var payload struct {
		Enable wireBool `json:"enable"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		e.warnLog("malformed onCleanPreference payload", "error", err)
		return
	}
	e.commit(FieldCleaningPreference, func(s *State) bool { return assign(&s.CleaningPreference, bool(payload.Enable)) })
}

// applyFwBuryPoint handles firmware telemetry events. Only the
// bd_setting routine is modeled: it reports the water flow level with a
// 0-based index, unlike onWaterInfo's 1-based one.
func (e *Entity) applyFwBuryPoint(data json.RawMessage) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		e.warnLog("malformed onFwBuryPoint payload", "error", err)
		return
	}

	var content struct {
		Routine string `json:"rn"`
		D       struct {
			Body struct {
				Data struct {
					DVal string `json:"d_val"`
				} `json:"data"`
			} `json:"body"`
		} `json:"d"`
	}
	if err := json.Unmarshal([]byte(payload.Content), &content); err != nil {
		e.warnLog("malformed onFwBuryPoint content", "error", err)
		return
	}

	if content.Routine != "bd_setting" {
		e.debugLog("unhandled onFwBuryPoint routine", "routine", content.Routine)
		return
	}

	var setting struct {
		WaterAmount int `json:"waterAmount"`
	}
	if err := json.Unmarshal([]byte(content.D.Body.Data.DVal), &setting); err != nil {
		e.warnLog("malformed bd_setting value", "error", err)
		return
	}

	level, ok := waterFlowFromBuryPoint[setting.WaterAmount]
	if !ok {
		e.warnLog("unhandled bd_setting water amount", "waterAmount", setting.WaterAmount)
		return
	}
	e.commit(FieldWaterLevel, func(s *State) bool { return assign(&s.WaterLevel, level) })
}

func (e *Entity) applySpeed(data json.RawMessage) {
	var payload struct {
		Speed int `json:"speed"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		e.warnLog("malformed onSpeed payload", "error", err)
		return
	}

	speed, ok := speedFromWire[payload.Speed]
	if !ok {
		e.warnLog("unhandled speed value", "speed", payload.Speed)
		return
	}
	e.commit(FieldVacuumSpeed, func(s *State) bool { return assign(&s.VacuumSpeed, speed) })
}

func (e *Entity) applyStats(data json.RawMessage) {
	var payload struct {
		Area       int     `json:"area"`
		Time       int     `json:"time"`
		AvoidCount int     `json:"avoidCount"`
		Start      wireInt `json:"start"`
		Type       string  `json:"type"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		e.warnLog("malformed onStats payload", "error", err)
		return
	}

	stats := CleanStats{
		Area:       payload.Area,
		Duration:   payload.Time,
		AvoidCount: payload.AvoidCount,
		StartTime:  int64(payload.Start),
	}
	e.commit(FieldCleanStats, func(s *State) bool { return assign(&s.CleanStats, stats) })

	if cleanType, ok := cleanTypeFromWire[payload.Type]; ok {
		e.commit(FieldCleanType, func(s *State) bool { return assign(&s.CleanType, cleanType) })
	} else if payload.Type != "" {
		e.warnLog("unknown clean type", "type", payload.Type)
	}
}

func (e *Entity) applyTrueDetect(data json.RawMessage) {
	var payload struct {
		Enable wireBool `json:"enable"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		e.warnLog("malformed onTrueDetect payload", "error", err)
		return
	}
	e.commit(FieldTrueDetect, func(s *State) bool { return assign(&s.TrueDetect, bool(payload.Enable)) })
}

// applyWaterInfo handles onWaterInfo: mop attachment plus the water
// flow level with a 1-based index.
func (e *Entity) applyWaterInfo(data json.RawMessage) {
	var payload struct {
		Enable wireBool `json:"enable"`
		Amount int      `json:"amount"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		e.warnLog("malformed onWaterInfo payload", "error", err)
		return
	}

	e.commit(FieldMopAttached, func(s *State) bool { return assign(&s.MopAttached, bool(payload.Enable)) })

	level, ok := waterFlowFromWire[payload.Amount]
	if !ok {
		e.warnLog("unhandled water amount", "amount", payload.Amount)
		return
	}
	e.commit(FieldWaterLevel, func(s *State) bool { return assign(&s.WaterLevel, level) })
}

func (e *Entity) applyAutoBoostSuction(data json.RawMessage) {
	var payload struct {
		Enable wireBool `json:"enable"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		e.warnLog("malformed onCarpertPressure payload", "error", err)
		return
	}
	e.commit(FieldAutoBoostSuction, func(s *State) bool { return assign(&s.AutoBoostSuction, bool(payload.Enable)) })
}

func (e *Entity) applyAutoEmpty(data json.RawMessage) {
	var payload struct {
		Enable wireBool `json:"enable"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		e.warnLog("malformed onAutoEmpty payload", "error", err)
		return
	}
	e.commit(FieldAutoEmpty, func(s *State) bool { return assign(&s.AutoEmpty, bool(payload.Enable)) })
}

func (e *Entity) applyTotalStats(data json.RawMessage) {
	var payload struct {
		Area  int `json:"area"`
		Time  int `json:"time"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		e.warnLog("malformed getTotalStats payload", "error", err)
		return
	}

	totals := TotalStats{Area: payload.Area, Duration: payload.Time, Count: payload.Count}
	e.commit(FieldTotalStats, func(s *State) bool { return assign(&s.TotalStats, totals) })
}

func (e *Entity) applyLifeSpans(data json.RawMessage) {
	var payload []struct {
		Type  string `json:"type"`
		Left  int    `json:"left"`
		Total int    `json:"total"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		e.warnLog("malformed getLifeSpan payload", "error", err)
		return
	}

	spans := make([]ComponentLifeSpan, len(payload))
	for i, p := range payload {
		spans[i] = ComponentLifeSpan{Component: p.Type, Total: p.Total, Left: p.Left}
	}

	e.commit(FieldLifeSpans, func(s *State) bool {
		if s.LifeSpans != nil && lifeSpansEqual(s.LifeSpans, spans) {
			return false
		}
		s.LifeSpans = spans
		return true
	})
}

func lifeSpansEqual(a, b []ComponentLifeSpan) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// wireBool decodes the device's loose boolean encodings: true/false,
// 0/1, and their string forms all appear in the wild.
type wireBool bool

func (b *wireBool) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(bytes.TrimSpace(data), `"`))
	switch s {
	case "true":
		*b = true
		return nil
	case "false", "null", "":
		*b = false
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("entity: invalid boolean %q", s)
	}
	*b = n != 0
	return nil
}

// wireInt decodes integers that the device sometimes sends as strings
// (e.g. the clean start timestamp).
type wireInt int64

func (v *wireInt) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(bytes.TrimSpace(data), `"`))
	if s == "" || s == "null" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("entity: invalid integer %q", s)
	}
	*v = wireInt(n)
	return nil
}
