package domain

import (
	"encoding/json"
	"fmt"
)

// CommandType identifies a control command accepted by the vehicle.
type CommandType string

const (
	CommandSpeed      CommandType = "speed"
	CommandDirection  CommandType = "direction"
	CommandHeadlights CommandType = "headlights"
	CommandHorn       CommandType = "horn"
	CommandTurbo      CommandType = "turbo"
	CommandCalibrate  CommandType = "calibrate"
	CommandStop       CommandType = "stop"
)

// Known returns true if the command type is one the drive loop understands.
func (t CommandType) Known() bool {
	switch t {
	case CommandSpeed, CommandDirection, CommandHeadlights, CommandHorn,
		CommandTurbo, CommandCalibrate, CommandStop:
		return true
	}
	return false
}

// IsDrive returns true for commands that move the vehicle.
// The watchdog only cares about these.
func (t CommandType) IsDrive() bool {
	return t == CommandSpeed || t == CommandDirection
}

// Command is a single control instruction as received over the wire.
// Value carries the decoded JSON value; its expected shape depends on Type.
type Command struct {
	Type  CommandType
	Value any
}

// Int returns the command value as an integer.
// JSON numbers arrive either as json.Number (decoder with UseNumber) or
// float64, so both are accepted.
func (c Command) Int() (int64, error) {
	switch v := c.Value.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrBadValue, v.String())
		}
		return n, nil
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	}
	return 0, fmt.Errorf("%w: expected number, got %T", ErrBadValue, c.Value)
}

// Bool returns the command value as a boolean.
func (c Command) Bool() (bool, error) {
	v, ok := c.Value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: expected boolean, got %T", ErrBadValue, c.Value)
	}
	return v, nil
}

// CalibrationUpdate is the payload of a calibrate command. Absent fields
// leave the corresponding trim value untouched.
type CalibrationUpdate struct {
	ThrottleNeutral *uint16
	SteeringCenter  *uint16
}

// Calibration returns the command value as a calibration update.
// The wire shape is an object with optional integer fields, e.g.
// {"steering_center": 1430}.
func (c Command) Calibration() (CalibrationUpdate, error) {
	obj, ok := c.Value.(map[string]any)
	if !ok {
		return CalibrationUpdate{}, fmt.Errorf("%w: expected object, got %T", ErrBadValue, c.Value)
	}

	var upd CalibrationUpdate
	for key, raw := range obj {
		n, err := Command{Value: raw}.Int()
		if err != nil {
			return CalibrationUpdate{}, fmt.Errorf("%w: field %q", ErrBadValue, key)
		}
		if n < 0 || n > 4095 {
			return CalibrationUpdate{}, fmt.Errorf("%w: field %q out of PWM range", ErrBadValue, key)
		}
		ticks := uint16(n)
		switch key {
		case "throttle_neutral":
			upd.ThrottleNeutral = &ticks
		case "steering_center":
			upd.SteeringCenter = &ticks
		default:
			return CalibrationUpdate{}, fmt.Errorf("%w: unknown calibration field %q", ErrBadValue, key)
		}
	}
	return upd, nil
}

// Validate checks that the command type is known and the value has the
// shape that type requires. Commands are rejected at the API boundary so
// the drive loop only ever sees well-formed input.
func Validate(c Command) error {
	if !c.Type.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Type)
	}

	switch c.Type {
	case CommandSpeed, CommandDirection:
		v, err := c.Int()
		if err != nil {
			return err
		}
		if v < -100 || v > 100 {
			return fmt.Errorf("%w: %d outside [-100, 100]", ErrBadValue, v)
		}
	case CommandHeadlights, CommandHorn, CommandTurbo:
		if _, err := c.Bool(); err != nil {
			return err
		}
	case CommandCalibrate:
		if _, err := c.Calibration(); err != nil {
			return err
		}
	case CommandStop:
		// No value required.
	}
	return nil
}
