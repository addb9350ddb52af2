package entity

import "slices"

// RobotState is the robot's lifecycle state.
type RobotState uint8

const (
	RobotStateIdle RobotState = iota + 1
	RobotStateCleaning
	RobotStatePaused
	RobotStateReturning
)

// String returns the state name.
func (s RobotState) String() string {
	switch s {
	case RobotStateIdle:
		return "IDLE"
	case RobotStateCleaning:
		return "CLEANING"
	case RobotStatePaused:
		return "PAUSED"
	case RobotStateReturning:
		return "RETURNING"
	default:
		return "UNKNOWN"
	}
}

// CleanType is the active cleaning mode.
type CleanType uint8

const (
	CleanTypeAuto CleanType = iota + 1
	CleanTypeSpotArea
	CleanTypeCustomArea
)

// String returns the clean type name.
func (t CleanType) String() string {
	switch t {
	case CleanTypeAuto:
		return "AUTO"
	case CleanTypeSpotArea:
		return "SPOT_AREA"
	case CleanTypeCustomArea:
		return "CUSTOM_AREA"
	default:
		return "UNKNOWN"
	}
}

// Speed is the vacuum suction level.
type Speed uint8

const (
	SpeedQuiet Speed = iota + 1
	SpeedStandard
	SpeedMax
	SpeedMaxPlus
)

// String returns the speed name.
func (s Speed) String() string {
	switch s {
	case SpeedQuiet:
		return "QUIET"
	case SpeedStandard:
		return "STANDARD"
	case SpeedMax:
		return "MAX"
	case SpeedMaxPlus:
		return "MAX_PLUS"
	default:
		return "UNKNOWN"
	}
}

// WaterFlow is the mop water flow level.
type WaterFlow uint8

const (
	WaterFlowLow WaterFlow = iota + 1
	WaterFlowMedium
	WaterFlowHigh
	WaterFlowUltraHigh
)

// String returns the water flow name.
func (w WaterFlow) String() string {
	switch w {
	case WaterFlowLow:
		return "LOW"
	case WaterFlowMedium:
		return "MEDIUM"
	case WaterFlowHigh:
		return "HIGH"
	case WaterFlowUltraHigh:
		return "ULTRA_HIGH"
	default:
		return "UNKNOWN"
	}
}

// CleanStats describes the current or most recent clean.
type CleanStats struct {
	// Area is the cleaned area in square metres.
	Area int

	// Duration is the clean duration in seconds.
	Duration int

	// AvoidCount is the number of obstacles avoided.
	AvoidCount int

	// StartTime is the clean start as a unix timestamp.
	StartTime int64
}

// TotalStats describes lifetime cleaning totals.
type TotalStats struct {
	// Area is the lifetime cleaned area in square metres.
	Area int

	// Duration is the lifetime clean duration in seconds.
	Duration int

	// Count is the lifetime number of cleans.
	Count int
}

// ComponentLifeSpan describes remaining life of one consumable.
type ComponentLifeSpan struct {
	// Component names the consumable (e.g. "brush", "heap").
	Component string

	// Total is the component's full life span.
	Total int

	// Left is the remaining life span.
	Left int
}

// Field identifies one state field in change notifications.
type Field string

// State field identifiers.
const (
	FieldIsOnline           Field = "is_online"
	FieldFwVersion          Field = "fw_version"
	FieldHwVersion          Field = "hw_version"
	FieldRobotState         Field = "state"
	FieldCleanType          Field = "clean_type"
	FieldCleanStats         Field = "clean_stats"
	FieldBatteryLevel       Field = "battery_level"
	FieldIsCharging         Field = "is_charging"
	FieldMopAttached        Field = "mop_attached"
	FieldWaterLevel         Field = "water_level"
	FieldVacuumSpeed        Field = "vacuum_speed"
	FieldCleanCount         Field = "clean_count"
	FieldCleaningPreference Field = "cleaning_preference"
	FieldTrueDetect         Field = "true_detect"
	FieldAutoBoostSuction   Field = "auto_boost_suction"
	FieldAutoEmpty          Field = "auto_empty"
	FieldLifeSpans          Field = "lifespan"
	FieldTotalStats         Field = "total_stats"
)

// State is the reconciled snapshot of one robot. Every field is nil
// until first observed from either event source.
type State struct {
	// Connectivity.
	IsOnline  *bool
	FwVersion *string
	HwVersion *string

	// Robot status.
	RobotState *RobotState
	CleanType  *CleanType
	CleanStats *CleanStats

	// Consumables.
	BatteryLevel *int
	IsCharging   *bool

	// Mop subsystem.
	MopAttached *bool
	WaterLevel  *WaterFlow

	// Cleaning configuration.
	VacuumSpeed        *Speed
	CleanCount         *int
	CleaningPreference *bool
	TrueDetect         *bool
	AutoBoostSuction   *bool
	AutoEmpty          *bool

	// Statistics.
	LifeSpans  []ComponentLifeSpan
	TotalStats *TotalStats
}

// Clone returns an independent copy of the snapshot.
func (s State) Clone() State {
	clone := s
	clone.IsOnline = clonePtr(s.IsOnline)
	clone.FwVersion = clonePtr(s.FwVersion)
	clone.HwVersion = clonePtr(s.HwVersion)
	clone.RobotState = clonePtr(s.RobotState)
	clone.CleanType = clonePtr(s.CleanType)
	clone.CleanStats = clonePtr(s.CleanStats)
	clone.BatteryLevel = clonePtr(s.BatteryLevel)
	clone.IsCharging = clonePtr(s.IsCharging)
	clone.MopAttached = clonePtr(s.MopAttached)
	clone.WaterLevel = clonePtr(s.WaterLevel)
	clone.VacuumSpeed = clonePtr(s.VacuumSpeed)
	clone.CleanCount = clonePtr(s.CleanCount)
	clone.CleaningPreference = clonePtr(s.CleaningPreference)
	clone.TrueDetect = clonePtr(s.TrueDetect)
	clone.AutoBoostSuction = clonePtr(s.AutoBoostSuction)
	clone.AutoEmpty = clonePtr(s.AutoEmpty)
	clone.LifeSpans = slices.Clone(s.LifeSpans)
	clone.TotalStats = clonePtr(s.TotalStats)
	return clone
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// assign stores v behind dst and reports whether the stored value
// changed. A first write to a nil field always counts as a change.
func assign[T comparable](dst **T, v T) bool {
	if *dst != nil && **dst == v {
		return false
	}
	*dst = &v
	return true
}

// clearField resets a field to unobserved and reports whether it held a
// value.
func clearField[T any](dst **T) bool {
	if *dst == nil {
		return false
	}
	*dst = nil
	return true
}
